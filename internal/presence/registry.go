package presence

import (
	"errors"
	"strings"
	"sync"
)

var (
	// ErrEmptyName indicates a blank display name.
	ErrEmptyName = errors.New("presence: name is empty")
	// ErrNameTaken indicates that another connection already holds the name.
	ErrNameTaken = errors.New("presence: name is taken")
)

type participant struct {
	connectionID string
	name         string
}

// Registry tracks display names of connected participants in registration order.
type Registry struct {
	mu           sync.RWMutex
	participants []participant
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register associates name with connectionID. Names are compared without
// regard to case; a connection may re-register under a new name.
func (r *Registry) Register(connectionID, name string) error {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return ErrEmptyName
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.participants {
		if existing.connectionID != connectionID && strings.EqualFold(existing.name, trimmed) {
			return ErrNameTaken
		}
	}
	for index := range r.participants {
		if r.participants[index].connectionID == connectionID {
			r.participants[index].name = trimmed
			return nil
		}
	}
	r.participants = append(r.participants, participant{connectionID: connectionID, name: trimmed})
	return nil
}

// Remove forgets the name held by connectionID and reports whether one existed.
func (r *Registry) Remove(connectionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for index := range r.participants {
		if r.participants[index].connectionID == connectionID {
			r.participants = append(r.participants[:index], r.participants[index+1:]...)
			return true
		}
	}
	return false
}

// Names lists registered names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.participants))
	for _, existing := range r.participants {
		names = append(names, existing.name)
	}
	return names
}

// Name returns the name registered for connectionID.
func (r *Registry) Name(connectionID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, existing := range r.participants {
		if existing.connectionID == connectionID {
			return existing.name, true
		}
	}
	return "", false
}
