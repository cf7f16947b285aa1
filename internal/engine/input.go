// ABOUTME: Builders for engine inputs and state updates
// ABOUTME: Produces the initial consultation state and reply messages in the engine's wire shape

package engine

// Fixed prompts seeding the diagnostic specialists' message lists.
const (
	PathologyPrompt = "Generate some test based on status of Pathology status"
	RadiologyPrompt = "Generate some report based on status of Radiology status"
)

// HumanMessage builds a human chat message.
func HumanMessage(text string) map[string]any {
	return map[string]any{"type": MessageHuman, "content": text}
}

// ToolMessage builds a tool result answering the given tool call.
func ToolMessage(text, toolCallID string) map[string]any {
	return map[string]any{"type": MessageTool, "content": text, "tool_call_id": toolCallID}
}

// InitialInput builds the state that starts a new consultation thread.
// The patient's text goes to both the triage and specialist lists.
func InitialInput(text string, patientID int64, agent string) map[string]any {
	if agent == "" {
		agent = "GP"
	}
	return map[string]any{
		KeyMessages:           []any{HumanMessage(text)},
		KeySpecialistMessages: []any{HumanMessage(text)},
		KeyPathoMessages:      []any{HumanMessage(PathologyPrompt)},
		KeyRadioMessages:      []any{HumanMessage(RadiologyPrompt)},
		"patho_QnA":           []any{},
		"radio_QnA":           []any{},
		"next_agent":          []any{},
		"agent_order":         []any{},
		"current_report":      []any{},
		KeyCurrentAgent:       agent,
		KeyPatientID:          patientID,
	}
}
