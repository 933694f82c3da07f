package server

import (
	"context"
	"sync"

	"github.com/MarcoPoloResearchLab/stickyboard/backend/internal/notes"
	"go.uber.org/zap"
)

const (
	EventConnected          = "connected"
	EventOnlineUsers        = "onlineUsers"
	EventError              = "error"
	EventRegisterNameResult = "registerNameResult"
	realtimeEventHeartbeat  = "heartbeat"

	defaultRealtimeBufferSize = 64
)

// Event is one outbound frame delivered to a participant.
type Event struct {
	Type      string `json:"type"`
	RequestID string `json:"requestId,omitempty"`
	Payload   any    `json:"payload"`
}

// HubConfig describes the dependencies of a Hub.
type HubConfig struct {
	BufferSize int
	Logger     *zap.Logger
	// OnSubscribersChanged observes the subscriber count after every change.
	OnSubscribersChanged func(count int)
}

// Hub fans events out to every subscriber in publish order. A subscriber that
// cannot keep up is evicted: its stream is closed and it must reconnect.
type Hub struct {
	mu          sync.Mutex
	subscribers map[int64]*realtimeSubscriber
	nextID      int64
	bufferSize  int
	logger      *zap.Logger
	onChange    func(int)
}

type realtimeSubscriber struct {
	id     int64
	label  string
	stream chan Event
}

// NewHub constructs a Hub.
func NewHub(cfg HubConfig) *Hub {
	bufferSize := cfg.BufferSize
	if bufferSize <= 0 {
		bufferSize = defaultRealtimeBufferSize
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		subscribers: make(map[int64]*realtimeSubscriber),
		bufferSize:  bufferSize,
		logger:      logger,
		onChange:    cfg.OnSubscribersChanged,
	}
}

// Subscribe registers a stream that lives until ctx is done or cleanup is
// called. The stream is closed when the subscriber is removed.
func (h *Hub) Subscribe(ctx context.Context, label string) (<-chan Event, func()) {
	subscriber := &realtimeSubscriber{
		label:  label,
		stream: make(chan Event, h.bufferSize),
	}

	h.mu.Lock()
	h.nextID++
	subscriber.id = h.nextID
	h.subscribers[subscriber.id] = subscriber
	count := len(h.subscribers)
	h.mu.Unlock()
	h.notifyCount(count)

	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			h.unregister(subscriber.id)
		})
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return subscriber.stream, cleanup
}

// Broadcast delivers event to every subscriber without blocking.
func (h *Hub) Broadcast(event Event) {
	h.mu.Lock()
	evicted := 0
	for id, subscriber := range h.subscribers {
		select {
		case subscriber.stream <- event:
		default:
			delete(h.subscribers, id)
			close(subscriber.stream)
			evicted++
			h.logger.Warn("realtime subscriber evicted",
				zap.String("subscriber", subscriber.label),
				zap.String("event", event.Type))
		}
	}
	count := len(h.subscribers)
	h.mu.Unlock()
	if evicted > 0 {
		h.notifyCount(count)
	}
}

// Publish adapts board notifications into broadcast events.
func (h *Hub) Publish(notification notes.Notification) {
	h.Broadcast(Event{Type: string(notification.Type), Payload: notification.Payload()})
}

// SubscriberCount reports the number of live subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers)
}

func (h *Hub) unregister(id int64) {
	h.mu.Lock()
	subscriber, ok := h.subscribers[id]
	if ok {
		delete(h.subscribers, id)
		close(subscriber.stream)
	}
	count := len(h.subscribers)
	h.mu.Unlock()
	if ok {
		h.notifyCount(count)
	}
}

func (h *Hub) notifyCount(count int) {
	if h.onChange != nil {
		h.onChange(count)
	}
}
