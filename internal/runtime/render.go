package runtime

import "github.com/aretw0/espalier/pkg/domain"

// renderData assembles the template context for a state. Session attributes
// come first so the derived keys cannot be shadowed by user data.
func renderData(s *domain.Session, state *domain.StateDef) map[string]any {
	data := make(map[string]any, len(s.Attrs)+5)
	for k, v := range s.Attrs {
		data[k] = v
	}
	data["session_id"] = s.ID
	data["state_id"] = state.ID
	data["state_name"] = state.DisplayName()
	data["chat_history"] = s.ChatHistory()
	data["actor_input"] = s.ActorInput
	if s.Actor == domain.ActorAssistant {
		// After an invocation graph, the committed input is its aggregate.
		data["previous_result"] = s.ActorInput
	}
	return data
}
