package clients

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vadiminshakov/captur/internal/domain"
	"github.com/vadiminshakov/captur/pkg/retrier"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *SupabaseClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := NewSupabaseClient(srv.URL, "anon-key",
		WithRetrier(retrier.New(
			retrier.WithMaxRetries(2),
			retrier.WithInitialInterval(time.Millisecond),
			retrier.WithRetryIf(retryable),
		)))
	require.NoError(t, err)
	return c
}

func TestNewSupabaseClient_Validation(t *testing.T) {
	_, err := NewSupabaseClient("", "key")
	assert.Error(t, err)
	_, err = NewSupabaseClient("https://example.supabase.co", "")
	assert.Error(t, err)
}

func TestSupabaseClient_GetBalance(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/rest/v1/profiles", r.URL.Path)
		assert.Equal(t, "eq.user-1", r.URL.Query().Get("id"))
		assert.Equal(t, "token_balance", r.URL.Query().Get("select"))
		assert.Equal(t, "anon-key", r.Header.Get("apikey"))
		assert.Equal(t, "Bearer anon-key", r.Header.Get("Authorization"))
		w.Write([]byte(`[{"token_balance": 12.34}]`))
	})

	balance, err := c.GetBalance(context.Background(), "user-1")
	require.NoError(t, err)
	assert.True(t, balance.Equal(decimal.RequireFromString("12.34")))
}

func TestSupabaseClient_GetBalanceNotFound(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{name: "empty result", status: http.StatusOK, body: `[]`},
		{name: "null balance", status: http.StatusOK, body: `[{"token_balance": null}]`},
		{name: "single row not acceptable", status: http.StatusNotAcceptable, body: `{"code":"PGRST116"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			})

			_, err := c.GetBalance(context.Background(), "user-1")
			assert.ErrorIs(t, err, domain.ErrNotFound)
			assert.Equal(t, int32(1), calls.Load(), "not found must not be retried")
		})
	}
}

func TestSupabaseClient_GetBalanceRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`[{"token_balance": "1.50"}]`))
	})

	balance, err := c.GetBalance(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, "1.5", balance.String())
	assert.Equal(t, int32(3), calls.Load())
}

func TestSupabaseClient_GetBalanceDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	})

	_, err := c.GetBalance(context.Background(), "user-1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrNotFound)
	assert.Equal(t, int32(1), calls.Load())
}

func TestSupabaseClient_GetBalanceHonorsRetryAfter(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "120")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`[{"token_balance": "2.00"}]`))
	}))
	t.Cleanup(srv.Close)

	// the two minute hint is capped, so the read still finishes quickly
	c, err := NewSupabaseClient(srv.URL, "anon-key",
		WithRetrier(retrier.New(
			retrier.WithMaxRetries(1),
			retrier.WithInitialInterval(time.Hour),
			retrier.WithMaxInterval(5*time.Millisecond),
			retrier.WithRetryIf(retryable),
		)))
	require.NoError(t, err)

	start := time.Now()
	balance, err := c.GetBalance(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, "2", balance.String())
	assert.Equal(t, int32(2), calls.Load())
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestParseRetryAfter(t *testing.T) {
	assert.Equal(t, 3*time.Second, parseRetryAfter("3"))
	assert.Equal(t, 3*time.Second, parseRetryAfter(" 3 "))
	assert.Zero(t, parseRetryAfter(""))
	assert.Zero(t, parseRetryAfter("-1"))
	assert.Zero(t, parseRetryAfter("Wed, 21 Oct 2015 07:28:00 GMT"))
}

func TestSupabaseClient_SetBalance(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		assert.Equal(t, "eq.user-1", r.URL.Query().Get("id"))
		assert.Equal(t, "return=minimal", r.Header.Get("Prefer"))
		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"token_balance": 0.07}`, string(body))
		w.WriteHeader(http.StatusNoContent)
	})

	require.NoError(t, c.SetBalance(context.Background(), "user-1", decimal.RequireFromString("0.07")))
}

func TestSupabaseClient_SetBalanceFailure(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	})

	assert.Error(t, c.SetBalance(context.Background(), "user-1", decimal.NewFromInt(1)))
	assert.Equal(t, int32(1), calls.Load(), "writes are not retried")
}

func TestSupabaseClient_InsertSample(t *testing.T) {
	captured := time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/rest/v1/locations", r.URL.Path)

		var rows []map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&rows))
		require.Len(t, rows, 1)
		assert.Equal(t, "user-1", rows[0]["user_id"])
		assert.Equal(t, 1.5, rows[0]["latitude"])
		assert.Equal(t, -2.5, rows[0]["longitude"])
		assert.Equal(t, "2026-02-03T04:05:06Z", rows[0]["captured_at"])
		w.WriteHeader(http.StatusCreated)
	})

	sample, err := domain.NewPositionSample(1.5, -2.5, captured)
	require.NoError(t, err)
	require.NoError(t, c.InsertSample(context.Background(), sample.ForUser("user-1")))
}

func TestSupabaseClient_AccessToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "anon-key", r.Header.Get("apikey"))
		assert.Equal(t, "Bearer user-jwt", r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c, err := NewSupabaseClient(srv.URL+"/", "anon-key", WithAccessToken("user-jwt"))
	require.NoError(t, err)
	require.NoError(t, c.SetBalance(context.Background(), "user-1", decimal.Zero))
}
