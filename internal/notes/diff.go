package notes

// Change is one discrete, attributable effect of a patch.
type Change struct {
	Action Action
	Extra  string
}

// ChangeSet lists the changes a patch produces against stored state, in audit order.
type ChangeSet struct {
	Changes []Change
	Added   []Attachment
	Removed []Attachment

	textChanged        bool
	widthChanged       bool
	heightChanged      bool
	attachmentsChanged bool
}

// Empty reports whether the patch had no observable effect.
func (set ChangeSet) Empty() bool {
	return len(set.Changes) == 0
}

// Actions returns the change kinds in audit order.
func (set ChangeSet) Actions() []Action {
	actions := make([]Action, 0, len(set.Changes))
	for _, change := range set.Changes {
		actions = append(actions, change.Action)
	}
	return actions
}

// Diff classifies a patch against the stored note. It performs no I/O and never
// mutates its inputs.
func Diff(stored Note, patch Patch) ChangeSet {
	var set ChangeSet

	if patch.Text != nil && *patch.Text != stored.Text {
		set.textChanged = true
		set.Changes = append(set.Changes, Change{Action: ActionUpdated})
	}

	set.widthChanged = dimensionChanged(stored.Width, patch.Width)
	set.heightChanged = dimensionChanged(stored.Height, patch.Height)
	if set.widthChanged || set.heightChanged {
		set.Changes = append(set.Changes, Change{Action: ActionResized})
	}

	if patch.Attachments != nil {
		incoming := *patch.Attachments
		set.Removed = attachmentsMissingFrom(stored.Attachments, incoming)
		set.Added = attachmentsMissingFrom(incoming, stored.Attachments)
		for _, attachment := range set.Removed {
			set.Changes = append(set.Changes, Change{
				Action: ActionFileDeleted,
				Extra:  extraDeletedFilePrefix + attachment.OriginalName,
			})
		}
		for _, attachment := range set.Added {
			set.Changes = append(set.Changes, Change{
				Action: ActionFileUploaded,
				Extra:  extraUploadedFilePrefix + attachment.OriginalName,
			})
		}
		set.attachmentsChanged = len(set.Removed) > 0 || len(set.Added) > 0
	}

	return set
}

// apply writes the fields the change set marked as changed onto note.
func (set ChangeSet) apply(note *Note, patch Patch) {
	if set.textChanged {
		note.Text = *patch.Text
	}
	if set.widthChanged {
		note.Width = cloneFloat(patch.Width)
	}
	if set.heightChanged {
		note.Height = cloneFloat(patch.Height)
	}
	if set.attachmentsChanged {
		note.Attachments = cloneAttachments(*patch.Attachments)
	}
}

func dimensionChanged(stored, incoming *float64) bool {
	if incoming == nil {
		return false
	}
	if stored == nil {
		return true
	}
	return *stored != *incoming
}

// attachmentsMissingFrom returns the elements of source whose filename does not
// appear in other, preserving source order.
func attachmentsMissingFrom(source, other []Attachment) []Attachment {
	if len(source) == 0 {
		return nil
	}
	present := make(map[string]struct{}, len(other))
	for _, attachment := range other {
		present[attachment.Filename] = struct{}{}
	}
	var missing []Attachment
	for _, attachment := range source {
		if _, ok := present[attachment.Filename]; !ok {
			missing = append(missing, attachment)
		}
	}
	return missing
}
