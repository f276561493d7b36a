package flowline

import (
	"fmt"
	"time"

	"github.com/jpkallio/flowline/pkg/api"
)

// FlowBuilder provides a fluent API for defining flow graphs:
//
//	flow, steps, links, err := flowline.NewFlow("onboarding", "tenant-1", "Onboarding").
//	    Triggers("hello", "start").
//	    Ask("welcome", "Hi! Want to hear more?").
//	    Branch("route", flowline.BranchConfig{
//	        Conditions: []flowline.BranchCondition{
//	            flowline.WhenMessage(flowline.OpContains, "yes", "details"),
//	        },
//	        DefaultTargetStepID: "bye",
//	    }).
//	    Message("details", "Here is everything you need to know.").
//	    Build()
//
// Steps are linked in the order they are added; a branch step routes
// through its config instead, so no link is added after it. Explicit
// LinkTo calls cover the remaining shapes.
type FlowBuilder struct {
	flow  api.Flow
	steps []*api.Step
	links []*api.Link

	// last is the step an added step auto-links from; empty after a
	// branch or an explicit Detach.
	last string
	seq  int
	err  error
}

// NewFlow creates a builder for a new active flow.
func NewFlow(id, tenantID, name string) *FlowBuilder {
	return &FlowBuilder{
		flow: api.Flow{
			ID:       id,
			TenantID: tenantID,
			Name:     name,
			Active:   true,
		},
	}
}

// Triggers sets the keywords that select this flow for new contacts.
func (b *FlowBuilder) Triggers(keywords ...string) *FlowBuilder {
	b.flow.TriggerKeywords = append(b.flow.TriggerKeywords, keywords...)
	return b
}

// Inactive marks the flow as not eligible for trigger matching.
func (b *FlowBuilder) Inactive() *FlowBuilder {
	b.flow.Active = false
	return b
}

// Message adds a send-message step.
func (b *FlowBuilder) Message(id, text string) *FlowBuilder {
	return b.add(MessageStep(b.flow.ID, id, text), true)
}

// Ask adds a send-message step that waits for the contact's reply.
func (b *FlowBuilder) Ask(id, text string) *FlowBuilder {
	return b.add(AskStep(b.flow.ID, id, text), true)
}

// Branch adds a branch step. Subsequent steps are NOT auto-linked from
// it; routing goes through the branch config (plus DefaultTargetStepID
// or an explicit LinkTo fall-through).
func (b *FlowBuilder) Branch(id string, cfg BranchConfig) *FlowBuilder {
	return b.add(BranchStep(b.flow.ID, id, cfg), false)
}

// ExternalCall adds an external-call step.
func (b *FlowBuilder) ExternalCall(id, callbackID string, payload map[string]any) *FlowBuilder {
	return b.add(ExternalCallStep(b.flow.ID, id, callbackID, payload), true)
}

// Delay adds a delay step.
func (b *FlowBuilder) Delay(id string, d time.Duration) *FlowBuilder {
	return b.add(DelayStep(b.flow.ID, id, d), true)
}

// LinkTo adds an explicit link between two existing steps.
func (b *FlowBuilder) LinkTo(fromStepID, toStepID string) *FlowBuilder {
	b.links = append(b.links, &api.Link{
		ID:         b.nextLinkID(),
		FlowID:     b.flow.ID,
		SourceStep: fromStepID,
		TargetStep: toStepID,
	})
	return b
}

// Detach stops auto-linking, so the next added step starts a detached
// chain (typically a branch target).
func (b *FlowBuilder) Detach() *FlowBuilder {
	b.last = ""
	return b
}

func (b *FlowBuilder) add(step *api.Step, chainable bool) *FlowBuilder {
	if b.err == nil {
		if step.ID == "" {
			b.err = fmt.Errorf("flowline: step in flow %s has empty id", b.flow.ID)
			return b
		}
		for _, s := range b.steps {
			if s.ID == step.ID {
				b.err = fmt.Errorf("flowline: duplicate step id %s in flow %s", step.ID, b.flow.ID)
				return b
			}
		}
		if verr := step.Config.Validate(); verr != nil {
			b.err = verr
			return b
		}
	}

	b.steps = append(b.steps, step)
	if b.last != "" {
		b.LinkTo(b.last, step.ID)
	}
	if chainable {
		b.last = step.ID
	} else {
		b.last = ""
	}
	return b
}

// Link IDs are zero-padded so lexical order matches insertion order;
// the navigator breaks ties by link ID.
func (b *FlowBuilder) nextLinkID() string {
	b.seq++
	return fmt.Sprintf("%s-l%04d", b.flow.ID, b.seq)
}

// Build returns the assembled flow, steps and links, or the first
// error hit while building.
func (b *FlowBuilder) Build() (*Flow, []*Step, []*Link, error) {
	if b.err != nil {
		return nil, nil, nil, b.err
	}
	if len(b.steps) == 0 {
		return nil, nil, nil, fmt.Errorf("flowline: flow %s has no steps", b.flow.ID)
	}
	f := b.flow
	return &f, b.steps, b.links, nil
}
