package tools

import "github.com/tailored-agentic-units/dispatch/core/protocol"

// Escalate is the reserved pseudo-tool a specialist calls to hand the
// conversation back to its parent.
const Escalate = "escalate"

// EscalateTool returns the definition offered to every specialist.
func EscalateTool() protocol.Tool {
	return protocol.Tool{
		Name: Escalate,
		Description: "Mark the current task as completed or cancelled and return control " +
			"of the dialog to the primary assistant, which can re-route the user based on their needs.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"cancel": map[string]any{
					"type":        "boolean",
					"description": "True when the task is abandoned rather than completed.",
				},
				"reason": map[string]any{
					"type":        "string",
					"description": "Why control is being returned.",
				},
			},
		},
	}
}

// EscalateDescriptor returns the control descriptor for Escalate.
func EscalateDescriptor() Descriptor {
	return Descriptor{Tool: EscalateTool(), Tier: TierControl}
}
