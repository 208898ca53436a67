package pipeline

import (
	"time"

	"github.com/google/uuid"

	"tickwatch/internal/model"
)

// Scheduler accumulates windows into an open batch and flushes on whichever
// trigger fires first: the batch reaching maxWindows, or maxWait elapsing
// since the first window of the batch arrived. The timeout timer is armed
// only once a batch holds at least one window, so an empty batch can never
// flush. Scheduler is owned by the single consumer goroutine.
type Scheduler struct {
	maxWindows int
	maxWait    time.Duration

	open  *model.Batch
	timer *time.Timer
}

func NewScheduler(maxWindows int, maxWait time.Duration) *Scheduler {
	if maxWindows < 1 {
		maxWindows = 1
	}
	return &Scheduler{maxWindows: maxWindows, maxWait: maxWait}
}

// Append adds a window to the open batch, opening a new batch (and arming
// its timer) if none is open. It returns the flushed batch when the size
// trigger fires.
func (s *Scheduler) Append(w model.Window) (model.Batch, bool) {
	if s.open == nil {
		s.open = &model.Batch{
			ID:       uuid.New().String(),
			Windows:  make([]model.Window, 0, s.maxWindows),
			OpenedAt: time.Now().UTC(),
		}
		if s.maxWait > 0 {
			if s.timer == nil {
				s.timer = time.NewTimer(s.maxWait)
			} else {
				s.timer.Reset(s.maxWait)
			}
		}
	}
	s.open.Windows = append(s.open.Windows, w)
	if len(s.open.Windows) >= s.maxWindows {
		return s.flush(model.FlushSizeReached), true
	}
	return model.Batch{}, false
}

// TimerC returns the timeout channel to select on. It is nil until the first
// batch is opened; a nil channel never fires in a select.
func (s *Scheduler) TimerC() <-chan time.Time {
	if s.timer == nil {
		return nil
	}
	return s.timer.C
}

// FlushTimeout flushes the open batch after the timer fired. It returns
// false if the batch was already flushed by the size trigger (stale fire).
func (s *Scheduler) FlushTimeout() (model.Batch, bool) {
	if s.open == nil || len(s.open.Windows) == 0 {
		return model.Batch{}, false
	}
	return s.flush(model.FlushTimeout), true
}

// Pending reports the number of windows buffered in the open batch.
func (s *Scheduler) Pending() int {
	if s.open == nil {
		return 0
	}
	return len(s.open.Windows)
}

func (s *Scheduler) flush(reason model.FlushReason) model.Batch {
	b := *s.open
	b.FlushReason = reason
	s.open = nil
	if s.timer != nil && reason != model.FlushTimeout {
		if !s.timer.Stop() {
			select {
			case <-s.timer.C:
			default:
			}
		}
	}
	return b
}
