package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jpkallio/flowline/internal/graph"
	"github.com/jpkallio/flowline/pkg/api"
)

// decision is what one step execution tells the loop to do next.
// Exactly one of the three outcomes applies: fatal aborts the
// invocation with StateError, suspend parks the session on the step,
// otherwise execution advances to next (nil next means the flow
// completed).
type decision struct {
	suspend bool
	next    *api.Step
	fatal   error
}

// executeStep runs one step and routes to the next. The returned error
// is the step's side-effect failure (send failed, callback failed); it
// is reported to the observer but never aborts the invocation on its
// own. Only dec.fatal does that, and only for structural problems.
func (e *engineImpl) executeStep(ctx context.Context, flow *api.Flow, nav *graph.Navigator, step *api.Step, exctx *execContext) (decision, error) {
	switch cfg := step.Config.(type) {
	case api.MessageConfig:
		return e.executeMessage(ctx, flow, nav, step, cfg, exctx)
	case api.BranchConfig:
		return e.executeBranch(nav, step, cfg, exctx), nil
	case api.ExternalCallConfig:
		return e.executeExternalCall(ctx, nav, step, cfg, exctx)
	case api.DelayConfig:
		return e.executeDelay(ctx, step, cfg, exctx)
	default:
		return decision{fatal: &api.StepExecutionError{
			StepID: step.ID,
			Kind:   step.Kind,
			Err:    fmt.Errorf("%w: no executor for kind %q", api.ErrInvalidStepConfig, step.Kind),
		}}, nil
	}
}

func (e *engineImpl) executeMessage(ctx context.Context, flow *api.Flow, nav *graph.Navigator, step *api.Step, cfg api.MessageConfig, exctx *execContext) (decision, error) {
	var sendErr error

	creds, err := e.credentials.SenderCredentials(ctx, flow.TenantID)
	if err != nil {
		sendErr = err
	} else if e.sender == nil {
		sendErr = fmt.Errorf("no message sender configured")
	} else {
		sendCtx, cancel := context.WithTimeout(ctx, e.opts.SendTimeout)
		res := e.sender.Send(sendCtx, creds, exctx.contactAddress, cfg.Text)
		cancel()

		status := api.DeliverySent
		if !res.Success {
			status = api.DeliveryFailed
			sendErr = res.Err
			if sendErr == nil {
				sendErr = fmt.Errorf("send rejected by provider")
			}
		}
		e.appendAudit(ctx, api.AuditRecord{
			TenantID:          flow.TenantID,
			FlowID:            flow.ID,
			ContactAddress:    exctx.contactAddress,
			Direction:         api.DirectionOutgoing,
			Body:              cfg.Text,
			Status:            status,
			ProviderMessageID: res.ProviderMessageID,
		})
	}

	if sendErr != nil {
		// A failed delivery still advances the flow; skipping the rest
		// of the steps would strand the session with no way forward.
		e.logger.WarnContext(ctx, "outbound send failed",
			slog.String("contact", exctx.contactAddress),
			slog.String("step", step.ID),
			slog.Any("error", sendErr),
		)
		sendErr = &api.StepExecutionError{StepID: step.ID, Kind: step.Kind, Err: sendErr}
	}

	if cfg.WaitForResponse {
		return decision{suspend: true}, sendErr
	}
	return decision{next: nav.Successor(step.ID)}, sendErr
}

// executeBranch evaluates the branch's conditions in order against the
// live context. First match wins; no match falls to the configured
// default, then to the step's unconditional link.
func (e *engineImpl) executeBranch(nav *graph.Navigator, step *api.Step, cfg api.BranchConfig, exctx *execContext) decision {
	targetID := ""
	for _, bc := range cfg.Conditions {
		if bc.Evaluate(exctx.currentMessage, exctx.data) {
			targetID = bc.TargetStepID
			break
		}
	}
	if targetID == "" {
		targetID = cfg.DefaultTargetStepID
	}
	if targetID == "" {
		return decision{next: nav.Successor(step.ID)}
	}

	target := nav.Step(targetID)
	if target == nil {
		// The branch points at a deleted step. Routing cannot proceed.
		return decision{fatal: &api.StepExecutionError{
			StepID: step.ID,
			Kind:   step.Kind,
			Err:    fmt.Errorf("%w: branch target %s", api.ErrStepNotFound, targetID),
		}}
	}
	return decision{next: target}
}

func (e *engineImpl) executeExternalCall(ctx context.Context, nav *graph.Navigator, step *api.Step, cfg api.ExternalCallConfig, exctx *execContext) (decision, error) {
	payload := make(map[string]any, len(cfg.PayloadTemplate)+3)
	for k, v := range cfg.PayloadTemplate {
		payload[k] = v
	}
	payload["contactAddress"] = exctx.contactAddress
	payload["currentMessage"] = exctx.currentMessage
	payload["sessionData"] = exctx.data

	var callErr error
	if e.invoker == nil {
		callErr = fmt.Errorf("no callback invoker configured")
	} else {
		callCtx, cancel := context.WithTimeout(ctx, e.opts.CallbackTimeout)
		res := e.invoker.Invoke(callCtx, cfg.CallbackID, payload)
		cancel()
		if !res.Success {
			callErr = res.Err
			if callErr == nil {
				callErr = fmt.Errorf("callback returned status %d", res.Status)
			}
		}
	}

	if callErr != nil {
		// Callback outcomes never gate flow progress; the invoker's own
		// execution log is where failures are diagnosed.
		e.logger.WarnContext(ctx, "external callback failed",
			slog.String("contact", exctx.contactAddress),
			slog.String("step", step.ID),
			slog.String("callback", cfg.CallbackID),
			slog.Any("error", callErr),
		)
		callErr = &api.StepExecutionError{StepID: step.ID, Kind: step.Kind, Err: callErr}
	}

	return decision{next: nav.Successor(step.ID)}, callErr
}

func (e *engineImpl) executeDelay(ctx context.Context, step *api.Step, cfg api.DelayConfig, exctx *execContext) (decision, error) {
	var schedErr error
	if e.scheduler == nil {
		schedErr = fmt.Errorf("no scheduler configured")
	} else {
		schedErr = e.scheduler.Schedule(ctx, exctx.contactAddress, step.ID, cfg.Delay())
	}

	if schedErr != nil {
		// The session still parks on the delay step; a later inbound
		// message from the contact will move it forward even though the
		// timer was lost.
		e.logger.ErrorContext(ctx, "delay scheduling failed",
			slog.String("contact", exctx.contactAddress),
			slog.String("step", step.ID),
			slog.Duration("delay", cfg.Delay()),
			slog.Any("error", schedErr),
		)
		schedErr = &api.StepExecutionError{StepID: step.ID, Kind: step.Kind, Err: schedErr}
	}

	return decision{suspend: true}, schedErr
}
