package runtime

import (
	"log/slog"

	"github.com/aretw0/espalier/pkg/domain"
)

// Recorder appends to a session's dialogue log according to a persistence
// policy. Appends happen within the lock scope of the surrounding state
// commit, so ordering in the log reflects commit order.
type Recorder struct {
	logger *slog.Logger
}

// NewRecorder creates a dialogue recorder.
func NewRecorder(logger *slog.Logger) *Recorder {
	return &Recorder{logger: logger}
}

// Record applies the policy to the session's dialogue. PersistRaw appends
// the actor's raw input, PersistRendered the rendered output, PersistNone
// nothing.
func (r *Recorder) Record(s *domain.Session, policy domain.PersistencePolicy, actor domain.Actor, raw, rendered string) {
	switch policy {
	case domain.PersistRaw:
		s.Append(actor, raw)
	case domain.PersistRendered:
		s.Append(actor, rendered)
	case domain.PersistNone:
	default:
		r.logger.Warn("unknown persistence policy, nothing recorded",
			"session_id", s.ID, "policy", string(policy))
	}
}
