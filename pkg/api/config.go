package api

import (
	"encoding/json"
	"fmt"
	"time"
)

// StepConfig is the kind-specific configuration of a step. Exactly one
// concrete type exists per StepKind; DecodeStepConfig enforces the
// pairing at the graph-store boundary so a malformed graph is rejected
// before it can reach the engine.
type StepConfig interface {
	Kind() StepKind
	Validate() error
}

// MessageConfig configures a send-message step.
type MessageConfig struct {
	Text string `json:"text"`

	// WaitForResponse parks the session on this step after sending;
	// the next inbound message resumes here.
	WaitForResponse bool `json:"waitForResponse"`
}

func (MessageConfig) Kind() StepKind { return StepKindMessage }

func (c MessageConfig) Validate() error {
	if c.Text == "" {
		return fmt.Errorf("%w: send-message step requires text", ErrInvalidStepConfig)
	}
	return nil
}

// BranchCondition is one guard of a branch step. Conditions are
// evaluated in list order; the first match wins.
type BranchCondition struct {
	Condition
	TargetStepID string `json:"targetStepId"`
}

// BranchConfig configures a branch step.
type BranchConfig struct {
	Conditions []BranchCondition `json:"conditions"`

	// DefaultTargetStepID is used when no condition matches. When
	// empty, the branch falls through to the step's unconditional
	// successor link.
	DefaultTargetStepID string `json:"defaultTargetStepId,omitempty"`
}

func (BranchConfig) Kind() StepKind { return StepKindBranch }

func (c BranchConfig) Validate() error {
	if len(c.Conditions) == 0 && c.DefaultTargetStepID == "" {
		return fmt.Errorf("%w: branch step requires conditions or a default target", ErrInvalidStepConfig)
	}
	for i, bc := range c.Conditions {
		if bc.TargetStepID == "" {
			return fmt.Errorf("%w: branch condition %d has no target step", ErrInvalidStepConfig, i)
		}
	}
	return nil
}

// ExternalCallConfig configures an external-call step. The payload
// template is merged with the live context (contact address, current
// message, session data) before the callback is invoked.
type ExternalCallConfig struct {
	CallbackID      string         `json:"callbackId"`
	PayloadTemplate map[string]any `json:"payloadTemplate,omitempty"`
}

func (ExternalCallConfig) Kind() StepKind { return StepKindExternalCall }

func (c ExternalCallConfig) Validate() error {
	if c.CallbackID == "" {
		return fmt.Errorf("%w: external-call step requires a callback id", ErrInvalidStepConfig)
	}
	return nil
}

// DelayConfig configures a delay step.
type DelayConfig struct {
	DelayMs int64 `json:"delayMs"`
}

func (DelayConfig) Kind() StepKind { return StepKindDelay }

func (c DelayConfig) Validate() error {
	if c.DelayMs <= 0 {
		return fmt.Errorf("%w: delay step requires a positive delayMs", ErrInvalidStepConfig)
	}
	return nil
}

// Delay returns the configured delay as a time.Duration.
func (c DelayConfig) Delay() time.Duration {
	return time.Duration(c.DelayMs) * time.Millisecond
}

// DecodeStepConfig parses the raw JSON configuration of a step
// according to its kind. Unknown kinds and configurations that fail
// validation are rejected with ErrInvalidStepConfig.
func DecodeStepConfig(kind StepKind, raw []byte) (StepConfig, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty config for kind %q", ErrInvalidStepConfig, kind)
	}

	var cfg StepConfig
	switch kind {
	case StepKindMessage:
		var c MessageConfig
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidStepConfig, err)
		}
		cfg = c
	case StepKindBranch:
		var c BranchConfig
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidStepConfig, err)
		}
		cfg = c
	case StepKindExternalCall:
		var c ExternalCallConfig
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidStepConfig, err)
		}
		cfg = c
	case StepKindDelay:
		var c DelayConfig
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidStepConfig, err)
		}
		cfg = c
	default:
		return nil, fmt.Errorf("%w: unknown step kind %q", ErrInvalidStepConfig, kind)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// EncodeStepConfig serializes a step configuration back to JSON for
// storage. The inverse of DecodeStepConfig.
func EncodeStepConfig(cfg StepConfig) ([]byte, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: nil config", ErrInvalidStepConfig)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(cfg)
}
