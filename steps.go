package flowline

import (
	"time"

	"github.com/jpkallio/flowline/pkg/api"
)

// Typed step constructors. These build fully-configured Step values;
// FlowBuilder uses them under the hood, and they are handy on their own
// when assembling a graph by hand.

// MessageStep returns a send-message step that sends text and moves on.
func MessageStep(flowID, id, text string) *Step {
	return &api.Step{
		ID:     id,
		FlowID: flowID,
		Kind:   api.StepKindMessage,
		Config: api.MessageConfig{Text: text},
	}
}

// AskStep returns a send-message step that sends text and parks the
// session until the contact replies.
func AskStep(flowID, id, text string) *Step {
	return &api.Step{
		ID:     id,
		FlowID: flowID,
		Kind:   api.StepKindMessage,
		Config: api.MessageConfig{Text: text, WaitForResponse: true},
	}
}

// BranchStep returns a branch step routing on the given conditions.
func BranchStep(flowID, id string, cfg BranchConfig) *Step {
	return &api.Step{
		ID:     id,
		FlowID: flowID,
		Kind:   api.StepKindBranch,
		Config: cfg,
	}
}

// ExternalCallStep returns an external-call step invoking the callback
// with the given payload template.
func ExternalCallStep(flowID, id, callbackID string, payload map[string]any) *Step {
	return &api.Step{
		ID:     id,
		FlowID: flowID,
		Kind:   api.StepKindExternalCall,
		Config: api.ExternalCallConfig{CallbackID: callbackID, PayloadTemplate: payload},
	}
}

// DelayStep returns a delay step parking the session for d.
func DelayStep(flowID, id string, d time.Duration) *Step {
	return &api.Step{
		ID:     id,
		FlowID: flowID,
		Kind:   api.StepKindDelay,
		Config: api.DelayConfig{DelayMs: d.Milliseconds()},
	}
}

// When builds one branch guard: route to targetStepID when field
// matches value under op.
func When(field string, op Operator, value, targetStepID string) BranchCondition {
	return api.BranchCondition{
		Condition: api.Condition{
			Field:    field,
			Operator: op,
			Value:    value,
		},
		TargetStepID: targetStepID,
	}
}

// WhenMessage builds a branch guard against the current inbound text.
func WhenMessage(op Operator, value, targetStepID string) BranchCondition {
	return When(api.FieldMessage, op, value, targetStepID)
}
