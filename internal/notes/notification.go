package notes

// NotificationType names an outbound event observers receive.
type NotificationType string

const (
	NotificationNoteCreated    NotificationType = "noteCreated"
	NotificationNoteUpdated    NotificationType = "noteUpdated"
	NotificationNoteDeleted    NotificationType = "noteDeleted"
	NotificationHistoryUpdated NotificationType = "historyUpdated"
)

// Notification is an event the transport must deliver to every participant.
type Notification struct {
	Type    NotificationType
	Note    *Note
	NoteID  string
	History []HistoryEntry
}

// DeletedNote is the wire payload of a noteDeleted event.
type DeletedNote struct {
	ID string `json:"id"`
}

// Payload returns the value marshaled onto the wire for the notification.
func (n Notification) Payload() any {
	switch n.Type {
	case NotificationNoteCreated, NotificationNoteUpdated:
		return n.Note
	case NotificationNoteDeleted:
		return DeletedNote{ID: n.NoteID}
	case NotificationHistoryUpdated:
		if n.History == nil {
			return []HistoryEntry{}
		}
		return n.History
	default:
		return nil
	}
}

func noteCreated(note Note) Notification {
	return Notification{Type: NotificationNoteCreated, Note: &note, NoteID: note.ID}
}

func noteUpdated(note Note) Notification {
	return Notification{Type: NotificationNoteUpdated, Note: &note, NoteID: note.ID}
}

func noteDeleted(id string) Notification {
	return Notification{Type: NotificationNoteDeleted, NoteID: id}
}

func historyUpdated(window []HistoryEntry) Notification {
	return Notification{Type: NotificationHistoryUpdated, History: window}
}

// Publisher delivers notifications to observers. Publish must not block.
type Publisher interface {
	Publish(Notification)
}

// PublisherFunc adapts a plain function into a Publisher.
type PublisherFunc func(Notification)

// Publish calls the underlying function.
func (f PublisherFunc) Publish(notification Notification) {
	f(notification)
}

// CleanupScheduler accepts best-effort removal requests for detached files.
// Schedule must not block and never reports failure.
type CleanupScheduler interface {
	Schedule(attachments ...Attachment)
}
