package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/stepflow-dev/stepflow/pkg/schema"
)

// HTTPConfig configures the api_call handler.
type HTTPConfig struct {
	MaxResponseBody int64
	DefaultTimeout  time.Duration
}

const (
	defaultMaxResponseBody = 10 * 1024 * 1024 // 10MB
	defaultHTTPTimeout     = 30 * time.Second
)

// APICallHandler implements the "api_call" handler. Success iff the
// response status is < 400.
type APICallHandler struct {
	config HTTPConfig
	client *http.Client
}

// NewAPICallHandler creates an api_call handler with the given config.
func NewAPICallHandler(cfg HTTPConfig) *APICallHandler {
	if cfg.MaxResponseBody <= 0 {
		cfg.MaxResponseBody = defaultMaxResponseBody
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = defaultHTTPTimeout
	}
	return &APICallHandler{
		config: cfg,
		client: &http.Client{Timeout: cfg.DefaultTimeout},
	}
}

func (h *APICallHandler) Name() string { return "api_call" }

func (h *APICallHandler) Schema() HandlerSchema {
	return HandlerSchema{Description: "Perform an HTTP request; success iff status < 400"}
}

func (h *APICallHandler) Execute(ctx context.Context, step *schema.WorkflowStep, exec *schema.WorkflowExecution) (*schema.StepResult, error) {
	rawURL := stringParam(step.Params, "url", "")
	if rawURL == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "api_call requires a url")
	}
	parsed, err := url.Parse(rawURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "api_call: invalid url %q", rawURL)
	}

	method := strings.ToUpper(stringParam(step.Params, "method", http.MethodGet))

	var body io.Reader
	if data, ok := step.Params["data"]; ok && data != nil {
		encoded, err := json.Marshal(data)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "api_call: encode body: %s", err.Error())
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "api_call: build request: %s", err.Error())
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range mapParam(step.Params, "headers") {
		if s, ok := v.(string); ok {
			req.Header.Set(k, s)
		}
	}

	started := time.Now()
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "api_call: %s", err.Error()).WithCause(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, h.config.MaxResponseBody))
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "api_call: read body: %s", err.Error()).WithCause(err)
	}

	// Decode JSON bodies; keep everything else as text.
	var decoded any = string(raw)
	contentType := resp.Header.Get("Content-Type")
	if strings.Contains(contentType, "application/json") {
		var v any
		if err := json.Unmarshal(raw, &v); err == nil {
			decoded = v
		}
	}

	data := map[string]any{
		"status_code": resp.StatusCode,
		"body":        decoded,
		"duration_ms": time.Since(started).Milliseconds(),
	}

	if resp.StatusCode >= 400 {
		return &schema.StepResult{
			Success: false,
			Data:    data,
			Error:   "HTTP " + resp.Status,
		}, nil
	}
	return schema.Ok(data), nil
}
