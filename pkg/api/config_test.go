package api

import (
	"errors"
	"testing"
	"time"
)

func TestDecodeStepConfigByKind(t *testing.T) {
	t.Parallel()

	cfg, err := DecodeStepConfig(StepKindMessage, []byte(`{"text":"hello","waitForResponse":true}`))
	if err != nil {
		t.Fatalf("DecodeStepConfig failed: %v", err)
	}
	mc, ok := cfg.(MessageConfig)
	if !ok {
		t.Fatalf("expected MessageConfig, got %T", cfg)
	}
	if mc.Text != "hello" || !mc.WaitForResponse {
		t.Fatalf("unexpected config: %+v", mc)
	}

	cfg, err = DecodeStepConfig(StepKindDelay, []byte(`{"delayMs":1500}`))
	if err != nil {
		t.Fatalf("DecodeStepConfig delay failed: %v", err)
	}
	dc := cfg.(DelayConfig)
	if dc.Delay() != 1500*time.Millisecond {
		t.Fatalf("expected 1.5s delay, got %v", dc.Delay())
	}
}

func TestDecodeStepConfigRejectsMismatch(t *testing.T) {
	t.Parallel()

	// A branch config under a send-message kind decodes to an empty
	// message, which validation must reject.
	_, err := DecodeStepConfig(StepKindMessage, []byte(`{"conditions":[]}`))
	if !errors.Is(err, ErrInvalidStepConfig) {
		t.Fatalf("expected ErrInvalidStepConfig, got %v", err)
	}

	_, err = DecodeStepConfig("teleport", []byte(`{}`))
	if !errors.Is(err, ErrInvalidStepConfig) {
		t.Fatalf("expected ErrInvalidStepConfig for unknown kind, got %v", err)
	}

	_, err = DecodeStepConfig(StepKindDelay, []byte(`{"delayMs":-5}`))
	if !errors.Is(err, ErrInvalidStepConfig) {
		t.Fatalf("expected ErrInvalidStepConfig for negative delay, got %v", err)
	}
}

func TestBranchConfigValidate(t *testing.T) {
	t.Parallel()

	empty := BranchConfig{}
	if err := empty.Validate(); !errors.Is(err, ErrInvalidStepConfig) {
		t.Fatalf("expected empty branch to be invalid, got %v", err)
	}

	noTarget := BranchConfig{Conditions: []BranchCondition{
		{Condition: Condition{Field: FieldMessage, Operator: OpEquals, Value: "x"}},
	}}
	if err := noTarget.Validate(); !errors.Is(err, ErrInvalidStepConfig) {
		t.Fatalf("expected condition without target to be invalid, got %v", err)
	}

	defaultOnly := BranchConfig{DefaultTargetStepID: "next"}
	if err := defaultOnly.Validate(); err != nil {
		t.Fatalf("default-only branch should be valid: %v", err)
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	t.Parallel()

	orig := ExternalCallConfig{
		CallbackID:      "crm-1",
		PayloadTemplate: map[string]any{"source": "test"},
	}
	raw, err := EncodeStepConfig(orig)
	if err != nil {
		t.Fatalf("EncodeStepConfig failed: %v", err)
	}
	decoded, err := DecodeStepConfig(StepKindExternalCall, raw)
	if err != nil {
		t.Fatalf("DecodeStepConfig failed: %v", err)
	}
	ec := decoded.(ExternalCallConfig)
	if ec.CallbackID != "crm-1" || ec.PayloadTemplate["source"] != "test" {
		t.Fatalf("round trip mismatch: %+v", ec)
	}
}
