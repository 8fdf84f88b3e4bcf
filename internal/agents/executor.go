package agents

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// maxExecutorResponseBytes bounds how much of a remote response is read.
const maxExecutorResponseBytes = 4 * 1024 * 1024

// RemoteExecutionError wraps HTTP failures from a stage executor so callers
// can classify them with errors.As and log the agent and status.
type RemoteExecutionError struct {
	Agent      string
	StatusCode int // 0 when the request itself failed
	Err        error
}

func (e *RemoteExecutionError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("agents: %s executor returned status %d: %v", e.Agent, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("agents: %s executor call failed: %v", e.Agent, e.Err)
}

func (e *RemoteExecutionError) Unwrap() error { return e.Err }

// Executor invokes remote stage executor services over HTTP.
// Safe for concurrent use.
type Executor struct {
	client   *http.Client
	baseURLs map[string]string // agent name -> base URL
	logger   *slog.Logger
}

// NewExecutor creates an Executor. baseURLs maps agent names to their
// service base URLs; the per-agent path suffix comes from the registry.
func NewExecutor(baseURLs map[string]string, timeout time.Duration, logger *slog.Logger) *Executor {
	return &Executor{
		client:   &http.Client{Timeout: timeout},
		baseURLs: baseURLs,
		logger:   logger,
	}
}

// Execute POSTs the payload to the executor for the given stage type and
// decodes the JSON object response. Non-2xx statuses and transport errors
// are returned as *RemoteExecutionError.
func (e *Executor) Execute(ctx context.Context, st StageType, payload map[string]any) (map[string]any, error) {
	baseURL, ok := e.baseURLs[st.Agent]
	if !ok || baseURL == "" {
		return nil, fmt.Errorf("agent %q: %w", st.Agent, ErrUnsupportedAgent)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("agents: marshal payload for %s: %w", st.Agent, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+st.Path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("agents: build request for %s: %w", st.Agent, err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := e.client.Do(req)
	if err != nil {
		return nil, &RemoteExecutionError{Agent: st.Agent, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxExecutorResponseBytes))
	if err != nil {
		return nil, &RemoteExecutionError{Agent: st.Agent, StatusCode: resp.StatusCode, Err: err}
	}

	e.logger.Debug("executor call",
		"agent", st.Agent,
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds())

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &RemoteExecutionError{
			Agent:      st.Agent,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("%s", truncate(string(raw), 512)),
		}
	}

	output := map[string]any{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &output); err != nil {
			return nil, &RemoteExecutionError{Agent: st.Agent, StatusCode: resp.StatusCode,
				Err: fmt.Errorf("decode response: %w", err)}
		}
	}
	return output, nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
