// Package client is a small Go client for the candidate-facing interview API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/yoockh/yoointerview/internal/models"
	"github.com/yoockh/yoointerview/internal/providers/room"
	"github.com/yoockh/yoointerview/internal/services"
	"github.com/yoockh/yoointerview/internal/utils"
)

// ErrDispatchStuck is returned by WaitForResults once the server reports the
// evaluation never reached the scoring backend. Polling further will not help.
var ErrDispatchStuck = errors.New("evaluation dispatch is stuck")

type Client struct {
	BaseURL string
	Token   string
	HTTP    *http.Client

	// MinInterval is used when the server sends no Retry-After.
	MinInterval time.Duration
	MaxInterval time.Duration
}

func New(baseURL, token string) *Client {
	return &Client{
		BaseURL:     strings.TrimRight(baseURL, "/"),
		Token:       token,
		HTTP:        &http.Client{Timeout: 15 * time.Second},
		MinInterval: 5 * time.Second,
		MaxInterval: time.Minute,
	}
}

// APIError is a non-2xx response.
type APIError struct {
	Status  int
	Code    utils.Code `json:"code"`
	Message string     `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%d %s: %s", e.Status, e.Code, e.Message)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) (http.Header, error) {
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, r)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		_ = json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(apiErr)
		return resp.Header, apiErr
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.Header, err
		}
	}
	return resp.Header, nil
}

func sessionPath(id, suffix string) string { return "/session/" + id + suffix }

func (c *Client) Begin(ctx context.Context, sessionID string) (*room.Handle, error) {
	var h room.Handle
	if _, err := c.do(ctx, http.MethodPost, sessionPath(sessionID, "/begin"), nil, &h); err != nil {
		return nil, err
	}
	return &h, nil
}

func (c *Client) Questions(ctx context.Context, sessionID string) ([]services.QuestionView, error) {
	var out struct {
		Questions []services.QuestionView `json:"questions"`
	}
	if _, err := c.do(ctx, http.MethodGet, sessionPath(sessionID, "/questions"), nil, &out); err != nil {
		return nil, err
	}
	return out.Questions, nil
}

// SubmitAnswer is safe to retry: the server replays the original result for
// an answer it already recorded.
func (c *Client) SubmitAnswer(ctx context.Context, sessionID, questionID, transcript string, duration time.Duration) (*services.SubmitResult, error) {
	body := map[string]any{
		"question_id":      questionID,
		"transcript":       transcript,
		"duration_seconds": int(duration.Round(time.Second) / time.Second),
	}
	var out services.SubmitResult
	if _, err := c.do(ctx, http.MethodPost, sessionPath(sessionID, "/answers"), body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Results(ctx context.Context, sessionID string) (*services.ResultView, time.Duration, error) {
	var v services.ResultView
	h, err := c.do(ctx, http.MethodGet, sessionPath(sessionID, "/results"), nil, &v)
	if err != nil {
		return nil, 0, err
	}
	var wait time.Duration
	if s, perr := strconv.Atoi(h.Get("Retry-After")); perr == nil && s > 0 {
		wait = time.Duration(s) * time.Second
	} else if v.RetryAfterSeconds > 0 {
		wait = time.Duration(v.RetryAfterSeconds) * time.Second
	}
	return &v, wait, nil
}

// WaitForResults polls until the session is evaluated. It honours the
// server's Retry-After and backs off on transport errors. Cancelling ctx stops
// polling and has no effect on the session.
func (c *Client) WaitForResults(ctx context.Context, sessionID string) (*models.EvaluationResult, error) {
	failures := 0
	for {
		view, wait, err := c.Results(ctx, sessionID)
		switch {
		case err != nil:
			var apiErr *APIError
			if errors.As(err, &apiErr) && apiErr.Status < 500 {
				return nil, err
			}
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			failures++
			wait = c.backoff(failures)
		case view.Status == models.StatusEvaluated && view.Result != nil:
			return view.Result, nil
		case view.DispatchStuck:
			return nil, ErrDispatchStuck
		case !view.Pending():
			return nil, fmt.Errorf("session %s is %s, no result will arrive", sessionID, view.Status)
		default:
			failures = 0
		}

		if wait < c.MinInterval {
			wait = c.MinInterval
		}
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}
	}
}

func (c *Client) backoff(failures int) time.Duration {
	d := c.MinInterval << min(failures, 6)
	if c.MaxInterval > 0 && d > c.MaxInterval {
		d = c.MaxInterval
	}
	return d
}
