package engine

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jpkallio/flowline/pkg/api"
)

// loadOrCreate resolves the session an inbound message belongs to.
//
// A contact with a live session continues it. A contact with no
// session, or a stale one, is bootstrapped through trigger matching:
// the message is tokenized and matched case-insensitively against the
// trigger keywords of the tenant's active flows. No match returns a
// nil session, which the caller turns into the fallback path; such a
// contact is never persisted.
//
// The created session is NOT written here. The invocation's single
// persistence point at its terminal state covers it.
func (e *engineImpl) loadOrCreate(ctx context.Context, contactAddress, text string, channel api.ChannelContext, now time.Time) (sess *api.Session, created bool, err error) {
	sess, err = e.sessions.Get(ctx, contactAddress)
	switch {
	case err == nil:
		if !sess.Stale(e.opts.SessionTTL, now) {
			return sess, false, nil
		}
		// Expired: drop it and treat the message as a fresh start.
		e.logger.InfoContext(ctx, "discarding stale session",
			slog.String("contact", contactAddress),
			slog.Time("last_activity", sess.LastActivity),
		)
		if derr := e.sessions.Delete(ctx, contactAddress); derr != nil {
			return nil, false, derr
		}
	case errors.Is(err, api.ErrSessionNotFound):
		// New contact.
	default:
		return nil, false, err
	}

	flow, err := e.matchTrigger(ctx, text, channel.TenantID)
	if err != nil {
		return nil, false, err
	}
	if flow == nil {
		return nil, false, nil
	}

	e.logger.InfoContext(ctx, "flow triggered",
		slog.String("contact", contactAddress),
		slog.String("flow", flow.ID),
		slog.String("tenant", flow.TenantID),
	)

	return &api.Session{
		ID:             uuid.NewString(),
		ContactAddress: contactAddress,
		FlowID:         flow.ID,
		Data:           make(map[string]string),
		Status:         api.SessionActive,
		LastActivity:   now,
	}, true, nil
}

// matchTrigger finds the first active flow of the tenant whose trigger
// keywords match the message. Matching is token-based: the message is
// split on whitespace and a flow matches when any keyword equals any
// token, case-insensitively. Flows are checked in ID order so two
// flows claiming the same keyword resolve deterministically.
func (e *engineImpl) matchTrigger(ctx context.Context, text, tenantID string) (*api.Flow, error) {
	flows, err := e.graph.ActiveFlows(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	sort.Slice(flows, func(i, j int) bool { return flows[i].ID < flows[j].ID })

	tokens := make(map[string]bool)
	for _, t := range strings.Fields(strings.ToLower(text)) {
		tokens[t] = true
	}

	for _, f := range flows {
		for _, kw := range f.TriggerKeywords {
			if tokens[strings.ToLower(kw)] {
				return f, nil
			}
		}
	}
	return nil, nil
}
