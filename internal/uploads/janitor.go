package uploads

import (
	"context"

	"github.com/MarcoPoloResearchLab/stickyboard/backend/internal/notes"
	"go.uber.org/zap"
)

// DefaultQueueSize bounds pending cleanup requests when none is configured.
const DefaultQueueSize = 128

// Remover deletes a stored file by name.
type Remover interface {
	Remove(filename string) error
}

// JanitorConfig describes the dependencies of a Janitor.
type JanitorConfig struct {
	Remover   Remover
	QueueSize int
	Logger    *zap.Logger
}

// Janitor deletes files detached from notes in the background. Failures are
// logged and forgotten.
type Janitor struct {
	remover Remover
	queue   chan notes.Attachment
	logger  *zap.Logger
}

// NewJanitor constructs a Janitor. Call Run to start consuming requests.
func NewJanitor(cfg JanitorConfig) *Janitor {
	size := cfg.QueueSize
	if size <= 0 {
		size = DefaultQueueSize
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Janitor{
		remover: cfg.Remover,
		queue:   make(chan notes.Attachment, size),
		logger:  logger,
	}
}

// Schedule enqueues attachments for deletion without blocking. Requests that
// do not fit in the queue are dropped.
func (j *Janitor) Schedule(attachments ...notes.Attachment) {
	for _, attachment := range attachments {
		select {
		case j.queue <- attachment:
		default:
			j.logger.Warn("cleanup queue full; dropping request",
				zap.String("filename", attachment.Filename))
		}
	}
}

// Run processes cleanup requests until ctx is cancelled.
func (j *Janitor) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case attachment := <-j.queue:
			j.remove(attachment)
		}
	}
}

func (j *Janitor) remove(attachment notes.Attachment) {
	if j.remover == nil {
		return
	}
	if err := j.remover.Remove(attachment.Filename); err != nil {
		j.logger.Warn("attachment cleanup failed",
			zap.String("filename", attachment.Filename),
			zap.String("original_name", attachment.OriginalName),
			zap.Error(err))
		return
	}
	j.logger.Debug("attachment removed", zap.String("filename", attachment.Filename))
}
