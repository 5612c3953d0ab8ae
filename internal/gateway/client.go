package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/assessd/internal/config"
)

// maxResponseBytes caps gateway response bodies.
const maxResponseBytes = 4 * 1024 * 1024

// httpClient implements Client over the gateway's REST surface.
type httpClient struct {
	baseURL    string
	http       *http.Client
	limiter    *rate.Limiter
	maxRetries int
	backoff    time.Duration
	maxBackoff time.Duration
	logger     *zap.Logger
}

// NewClient creates a gateway client from config.
func NewClient(cfg *config.GatewayConfig, logger *zap.Logger) Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &httpClient{
		baseURL: cfg.BaseURL,
		http: &http.Client{
			Timeout: cfg.RequestTimeout.Duration(),
		},
		limiter:    rate.NewLimiter(rate.Limit(cfg.SyncRateLimit), cfg.SyncBurst),
		maxRetries: cfg.MaxRetries,
		backoff:    cfg.InitialBackoff.Duration(),
		maxBackoff: cfg.MaxBackoff.Duration(),
		logger:     logger,
	}
}

type createSessionRequest struct {
	CandidateID  string `json:"candidate_id"`
	PipelineType string `json:"pipeline_type"`
}

type createSessionResponse struct {
	SessionID string `json:"session_id"`
}

func (c *httpClient) CreateSession(ctx context.Context, candidateID, pipelineType string) (string, error) {
	var resp createSessionResponse
	err := c.postWithRetry(ctx, "/sessions", createSessionRequest{
		CandidateID:  candidateID,
		PipelineType: pipelineType,
	}, &resp)
	if err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}
	if resp.SessionID == "" {
		return "", fmt.Errorf("%w: missing session_id", ErrInvariantViolation)
	}
	return resp.SessionID, nil
}

func (c *httpClient) StartRound(ctx context.Context, sessionID, roundKind string) (*StartRoundResponse, error) {
	var resp StartRoundResponse
	path := fmt.Sprintf("/sessions/%s/rounds/%s/start", sessionID, roundKind)
	if err := c.post(ctx, path, nil, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStartFailed, err)
	}
	if resp.RoundID == "" {
		return nil, fmt.Errorf("%w: missing round_id", ErrInvariantViolation)
	}
	return &resp, nil
}

type submitRequest struct {
	WorkingData json.RawMessage `json:"working_data"`
}

func (c *httpClient) SubmitRound(ctx context.Context, roundID string, workingData json.RawMessage) (*EvaluationResult, error) {
	var resp EvaluationResult
	path := fmt.Sprintf("/rounds/%s/submit", roundID)
	if err := c.postWithRetry(ctx, path, submitRequest{WorkingData: workingData}, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSubmitFailed, err)
	}
	if err := validateResult(&resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *httpClient) CompleteRound(ctx context.Context, roundID string) (*EvaluationResult, error) {
	var resp EvaluationResult
	path := fmt.Sprintf("/rounds/%s/complete", roundID)
	if err := c.postWithRetry(ctx, path, nil, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSubmitFailed, err)
	}
	if err := validateResult(&resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *httpClient) SyncProgress(ctx context.Context, roundID string, workingData json.RawMessage) (*SyncExchange, error) {
	// Best effort: drop the sync instead of queueing behind the limiter.
	if !c.limiter.Allow() {
		c.logger.Debug("progress sync dropped by rate limiter", zap.String("round_id", roundID))
		return &SyncExchange{}, nil
	}
	var resp SyncExchange
	path := fmt.Sprintf("/rounds/%s/progress", roundID)
	if err := c.post(ctx, path, submitRequest{WorkingData: workingData}, &resp); err != nil {
		return nil, fmt.Errorf("sync progress: %w", err)
	}
	return &resp, nil
}

type outcomeRequest struct {
	Status       string  `json:"status"`
	OverallScore float64 `json:"overall_score"`
}

func (c *httpClient) RecordSessionOutcome(ctx context.Context, sessionID, status string, overallScore float64) error {
	path := fmt.Sprintf("/sessions/%s/outcome", sessionID)
	if err := c.post(ctx, path, outcomeRequest{Status: status, OverallScore: overallScore}, nil); err != nil {
		return fmt.Errorf("record session outcome: %w", err)
	}
	return nil
}

// validateResult fails closed on out-of-range scores.
func validateResult(r *EvaluationResult) error {
	if r.Score < 0 || r.Score > 100 {
		return fmt.Errorf("%w: score %v out of range", ErrInvariantViolation, r.Score)
	}
	return nil
}

// postWithRetry issues a POST with bounded exponential backoff on retryable
// failures (network errors, 429, 5xx).
func (c *httpClient) postWithRetry(ctx context.Context, path string, body, out interface{}) error {
	var lastErr error
	backoff := c.backoff
	start := time.Now()

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		err := c.post(ctx, path, body, out)
		if err == nil {
			if attempt > 0 {
				c.logger.Info("gateway call recovered after retries",
					zap.String("path", path),
					zap.Int("attempts", attempt),
					zap.Duration("total_time", time.Since(start)),
				)
			}
			return nil
		}

		lastErr = err
		if !isRetryable(err) || attempt == c.maxRetries {
			break
		}

		c.logger.Warn("retrying gateway call",
			zap.String("path", path),
			zap.Int("attempt", attempt+1),
			zap.Int("max_attempts", c.maxRetries+1),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
			return fmt.Errorf("gateway call canceled: %w", ctx.Err())
		case <-time.After(backoff):
			backoff *= 2
			if backoff > c.maxBackoff {
				backoff = c.maxBackoff
			}
		}
	}

	return lastErr
}

// statusError carries an HTTP status for retry classification.
type statusError struct {
	status int
	body   string
}

func (e *statusError) Error() string {
	if e.body != "" {
		return fmt.Sprintf("gateway returned %d: %s", e.status, e.body)
	}
	return fmt.Sprintf("gateway returned %d", e.status)
}

// isRetryable reports whether an error warrants another attempt.
func isRetryable(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		switch {
		case se.status == http.StatusTooManyRequests:
			return true
		case se.status >= 500 && se.status < 600:
			return true
		default:
			return false
		}
	}
	// Network errors and timeouts are retryable.
	return true
}

// post issues one POST and decodes the JSON response into out when non-nil.
func (c *httpClient) post(ctx context.Context, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &statusError{status: resp.StatusCode, body: truncate(string(data), 256)}
	}

	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("%w: %v", ErrInvariantViolation, err)
		}
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
