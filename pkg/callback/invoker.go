package callback

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/jpkallio/flowline/pkg/api"
)

// ErrCallbackNotFound is returned by a Registry for unknown or
// inactive callback IDs.
var ErrCallbackNotFound = errors.New("callback not found")

// HTTPInvoker resolves callbacks through a Registry and delivers them
// over HTTP with a JSON payload. It implements api.CallbackInvoker.
type HTTPInvoker struct {
	registry Registry
	log      ExecutionLog
	client   *http.Client
	logger   *slog.Logger
}

var _ api.CallbackInvoker = (*HTTPInvoker)(nil)

// NewHTTPInvoker creates an HTTPInvoker. log may be nil to disable the
// execution log; client may be nil for a default 15s-timeout client.
func NewHTTPInvoker(registry Registry, log ExecutionLog, client *http.Client, logger *slog.Logger) *HTTPInvoker {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPInvoker{
		registry: registry,
		log:      log,
		client:   client,
		logger:   logger,
	}
}

// Invoke performs one callback. The result carries the HTTP status and
// elapsed time; the caller never branches on it, but the execution log
// does.
func (h *HTTPInvoker) Invoke(ctx context.Context, callbackID string, payload map[string]any) api.CallbackResult {
	start := time.Now()

	def, err := h.registry.Lookup(ctx, callbackID)
	if err != nil {
		res := api.CallbackResult{Err: err, Elapsed: time.Since(start)}
		h.record(ctx, callbackID, res)
		return res
	}

	res := h.deliver(ctx, def, payload)
	res.Elapsed = time.Since(start)
	h.record(ctx, callbackID, res)
	return res
}

func (h *HTTPInvoker) deliver(ctx context.Context, def *Definition, payload map[string]any) api.CallbackResult {
	body, err := json.Marshal(payload)
	if err != nil {
		return api.CallbackResult{Err: err}
	}

	method := def.Method
	if method == "" {
		method = http.MethodPost
	}
	req, err := http.NewRequestWithContext(ctx, method, def.URL, bytes.NewReader(body))
	if err != nil {
		return api.CallbackResult{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range def.Headers {
		req.Header.Set(k, v)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return api.CallbackResult{Err: err}
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	result := api.CallbackResult{
		Status: resp.StatusCode,
		Body:   string(raw),
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		result.Success = true
	} else {
		result.Err = fmt.Errorf("callback %s returned status %d", def.ID, resp.StatusCode)
	}
	return result
}

func (h *HTTPInvoker) record(ctx context.Context, callbackID string, res api.CallbackResult) {
	if h.log == nil {
		return
	}
	rec := ExecutionRecord{
		CallbackID: callbackID,
		Success:    res.Success,
		Status:     res.Status,
		ElapsedMs:  res.Elapsed.Milliseconds(),
	}
	if res.Err != nil {
		rec.Error = res.Err.Error()
	}
	if err := h.log.Record(ctx, rec); err != nil {
		h.logger.WarnContext(ctx, "callback execution log write failed",
			slog.String("callback", callbackID),
			slog.Any("error", err),
		)
	}
}
