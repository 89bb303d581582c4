package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yoockh/yoointerview/internal/models"
	"github.com/yoockh/yoointerview/internal/services"
)

func fastClient(url string) *Client {
	c := New(url, "tok")
	c.MinInterval = 5 * time.Millisecond
	c.MaxInterval = 20 * time.Millisecond
	return c
}

func TestWaitForResultsPollsUntilEvaluated(t *testing.T) {
	var polls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Equal(t, "/session/s-1/results", r.URL.Path)
		n := atomic.AddInt32(&polls, 1)
		v := services.ResultView{SessionID: "s-1", Status: models.StatusEvaluating}
		switch {
		case n == 2:
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		case n >= 4:
			v.Status = models.StatusEvaluated
			v.Result = &models.EvaluationResult{ID: "r-1", SessionID: "s-1"}
		}
		_ = json.NewEncoder(w).Encode(v)
	}))
	defer srv.Close()

	res, err := fastClient(srv.URL).WaitForResults(context.Background(), "s-1")
	require.NoError(t, err)
	assert.Equal(t, "r-1", res.ID)
	assert.Equal(t, int32(4), atomic.LoadInt32(&polls))
}

func TestWaitForResultsStopsOnStuckAndTerminal(t *testing.T) {
	view := services.ResultView{SessionID: "s-1", Status: models.StatusCompleted, DispatchStuck: true}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(view)
	}))
	defer srv.Close()

	_, err := fastClient(srv.URL).WaitForResults(context.Background(), "s-1")
	assert.ErrorIs(t, err, ErrDispatchStuck)

	view = services.ResultView{SessionID: "s-1", Status: models.StatusAbandoned}
	_, err = fastClient(srv.URL).WaitForResults(context.Background(), "s-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "abandoned")
}

func TestWaitForResultsIsCancellable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "30")
		_ = json.NewEncoder(w).Encode(services.ResultView{Status: models.StatusEvaluating, RetryAfterSeconds: 30})
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err := fastClient(srv.URL).WaitForResults(ctx, "s-1")
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestClientErrorsCarryCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"code":"STALE_QUESTION","message":"question is not current"}`))
	}))
	defer srv.Close()

	_, err := fastClient(srv.URL).SubmitAnswer(context.Background(), "s-1", "q-9", "hi", 3*time.Second)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusConflict, apiErr.Status)
	assert.Equal(t, "STALE_QUESTION", string(apiErr.Code))

	_, err = fastClient(srv.URL).WaitForResults(context.Background(), "s-1")
	require.ErrorAs(t, err, &apiErr)
}
