package suppression

import (
	"context"
	"sync"
	"time"

	"telenotify/internal/config"
	"telenotify/internal/logger"
	"telenotify/pkg/cel"
	"telenotify/pkg/models"
)

// Registry holds the suppression windows per origin and answers whether an alert should be
// held back. The window set is replaced as a whole.
type Registry struct {
	evaluator *cel.Evaluator
	logger    logger.Logger

	mu      sync.RWMutex
	windows map[string][]Window
}

func NewRegistry(evaluator *cel.Evaluator, log logger.Logger) *Registry {
	return &Registry{
		evaluator: evaluator,
		logger:    log,
		windows:   make(map[string][]Window),
	}
}

// ReplaceWindows parses every config before swapping, so a bad entry leaves the current set
// untouched.
func (r *Registry) ReplaceWindows(configs []config.SuppressionWindowConfig) error {
	next := make(map[string][]Window, len(configs))
	for _, cfg := range configs {
		w, err := ParseWindow(cfg, r.evaluator)
		if err != nil {
			return err
		}
		next[w.OriginID] = append(next[w.OriginID], w)
	}

	r.mu.Lock()
	r.windows = next
	r.mu.Unlock()
	return nil
}

func (r *Registry) WindowsFor(originID string) []Window {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Window, len(r.windows[originID]))
	copy(out, r.windows[originID])
	return out
}

// IsSuppressed returns true and the window type when any window of the alert's origin
// contains instant and, if it has a match expression, the expression holds for the alert.
// A match expression that fails to evaluate does not suppress.
func (r *Registry) IsSuppressed(ctx context.Context, alert models.AlertEvent, instant time.Time) (bool, string) {
	for _, w := range r.WindowsFor(alert.OriginID) {
		if !CurrentDateTimeIsInInterval(w, instant) {
			continue
		}
		if w.match != nil {
			ok, err := w.match.Evaluate(ctx, alert)
			if err != nil {
				r.logger.WarnwCtx(ctx, "Suppression match expression failed",
					"window", w.String(),
					"expression", w.match.Expression(),
					"error", err,
				)
				continue
			}
			if !ok {
				continue
			}
		}
		return true, w.Type
	}
	return false, ""
}
