package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/vadiminshakov/captur/internal/domain"
	"github.com/vadiminshakov/captur/pkg/retrier"
)

const (
	defaultTimeout      = 10 * time.Second
	defaultReadRetries  = 3
	defaultRetryDelay   = 500 * time.Millisecond
	profilesTable       = "profiles"
	locationsTable      = "locations"
	restPathPrefix      = "/rest/v1/"
	headerPrefer        = "Prefer"
	preferReturnMinimal = "return=minimal"
)

// statusError is a non-2xx PostgREST response.
type statusError struct {
	Code int
	Body string
	// Wait is the Retry-After hint of a throttled response.
	Wait time.Duration
}

// RetryAfter lets the retrier honor the server's Retry-After.
func (e *statusError) RetryAfter() time.Duration {
	return e.Wait
}

func (e *statusError) Error() string {
	return fmt.Sprintf("supabase returned status %d: %s", e.Code, e.Body)
}

// retryable reports whether a failed call is worth repeating: transport
// failures and 5xx/429 are, client errors and not-found are not.
func retryable(err error) bool {
	if errors.Is(err, domain.ErrNotFound) || errors.Is(err, context.Canceled) {
		return false
	}
	var se *statusError
	if errors.As(err, &se) {
		return se.Code >= http.StatusInternalServerError || se.Code == http.StatusTooManyRequests
	}
	return true
}

// SupabaseClient talks to the PostgREST API of a Supabase project. It stores
// balances in profiles.token_balance and samples in the locations table.
type SupabaseClient struct {
	baseURL     string
	apiKey      string
	accessToken string
	httpClient  *http.Client
	retrier     *retrier.Retrier
}

// SupabaseOption configures a SupabaseClient.
type SupabaseOption func(*SupabaseClient)

// WithAccessToken sends the user's JWT instead of the API key as bearer, so
// row level security applies to the signed-in user.
func WithAccessToken(token string) SupabaseOption {
	return func(c *SupabaseClient) {
		c.accessToken = token
	}
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) SupabaseOption {
	return func(c *SupabaseClient) {
		c.httpClient = hc
	}
}

// WithRetrier replaces the retrier used for reads.
func WithRetrier(r *retrier.Retrier) SupabaseOption {
	return func(c *SupabaseClient) {
		c.retrier = r
	}
}

// NewSupabaseClient creates a client for the project at baseURL.
func NewSupabaseClient(baseURL, apiKey string, opts ...SupabaseOption) (*SupabaseClient, error) {
	if baseURL == "" {
		return nil, errors.New("supabase url is empty")
	}
	if apiKey == "" {
		return nil, errors.New("supabase api key is empty")
	}

	c := &SupabaseClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.retrier == nil {
		c.retrier = retrier.New(
			retrier.WithMaxRetries(defaultReadRetries),
			retrier.WithInitialInterval(defaultRetryDelay),
			retrier.WithRetryIf(retryable),
		)
	}

	return c, nil
}

type profileRow struct {
	TokenBalance decimal.NullDecimal `json:"token_balance"`
}

type locationRow struct {
	ID         string    `json:"id,omitempty"`
	UserID     string    `json:"user_id"`
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	CapturedAt time.Time `json:"captured_at"`
}

// GetBalance reads profiles.token_balance. A missing row or a null balance is domain.ErrNotFound.
func (c *SupabaseClient) GetBalance(ctx context.Context, userID string) (decimal.Decimal, error) {
	query := url.Values{}
	query.Set("select", "token_balance")
	query.Set("id", "eq."+userID)

	rows, err := retrier.DoWithData(c.retrier, ctx, func(ctx context.Context) ([]profileRow, error) {
		body, err := c.send(ctx, http.MethodGet, profilesTable, query, nil)
		if err != nil {
			return nil, err
		}
		var rows []profileRow
		if err := json.Unmarshal(body, &rows); err != nil {
			return nil, errors.Wrap(err, "failed to unmarshal profiles response")
		}
		return rows, nil
	})
	if err != nil {
		return decimal.Zero, errors.Wrapf(err, "failed to fetch balance for %s", userID)
	}

	if len(rows) == 0 || !rows[0].TokenBalance.Valid {
		return decimal.Zero, domain.ErrNotFound
	}

	return rows[0].TokenBalance.Decimal, nil
}

// SetBalance updates profiles.token_balance for the user.
func (c *SupabaseClient) SetBalance(ctx context.Context, userID string, balance decimal.Decimal) error {
	query := url.Values{}
	query.Set("id", "eq."+userID)

	payload := map[string]json.Number{
		"token_balance": json.Number(balance.StringFixed(domain.BalancePlaces)),
	}
	if _, err := c.send(ctx, http.MethodPatch, profilesTable, query, payload); err != nil {
		return errors.Wrapf(err, "failed to save balance for %s", userID)
	}

	return nil
}

// InsertSample inserts a row into the locations table.
func (c *SupabaseClient) InsertSample(ctx context.Context, sample domain.PositionSample) error {
	rows := []locationRow{{
		ID:         sample.ID,
		UserID:     sample.UserID,
		Latitude:   sample.Latitude,
		Longitude:  sample.Longitude,
		CapturedAt: sample.CapturedAt.UTC(),
	}}
	if _, err := c.send(ctx, http.MethodPost, locationsTable, nil, rows); err != nil {
		return errors.Wrap(err, "failed to send location")
	}

	return nil
}

func (c *SupabaseClient) send(ctx context.Context, method, table string, query url.Values, payload any) ([]byte, error) {
	var reqBody io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, errors.Wrap(err, "failed to marshal request")
		}
		reqBody = bytes.NewReader(data)
	}

	endpoint := c.baseURL + restPathPrefix + table
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create HTTP request")
	}

	bearer := c.apiKey
	if c.accessToken != "" {
		bearer = c.accessToken
	}
	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", bearer))
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(headerPrefer, preferReturnMinimal)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "HTTP request failed")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read response body")
	}

	// PostgREST answers 406 when .single() finds no row
	if resp.StatusCode == http.StatusNotAcceptable {
		return nil, domain.ErrNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &statusError{
			Code: resp.StatusCode,
			Body: string(body),
			Wait: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}

	return body, nil
}

// parseRetryAfter reads the delay-seconds form of Retry-After; dates and
// garbage yield zero, which falls back to the computed backoff.
func parseRetryAfter(v string) time.Duration {
	secs, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
