package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/eddiefleurent/stamford_condor/internal/models"
	"golang.org/x/time/rate"
)

const (
	defaultBaseURL = "https://api.tastytrade.com"
	// tastytrade allows 120 requests/minute per token; stay under it.
	restRequestsPerSecond = 2
	restBurst             = 4
)

// TastytradeAPI is the REST client for the tastytrade customer API. One
// session token is obtained at startup and reused for the life of the
// process; it is refreshed only when the upstream reports it invalid,
// never on network failures.
type TastytradeAPI struct {
	client       *http.Client
	baseURL      string
	clientSecret string
	refreshToken string
	limiter      *rate.Limiter

	mu           sync.Mutex
	sessionToken string
}

// NewTastytradeAPI creates a REST client. baseURL may be empty to use the
// production endpoint.
func NewTastytradeAPI(baseURL, clientSecret, refreshToken string) *TastytradeAPI {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &TastytradeAPI{
		client:       &http.Client{Timeout: 30 * time.Second},
		baseURL:      strings.TrimRight(baseURL, "/"),
		clientSecret: clientSecret,
		refreshToken: refreshToken,
		limiter:      rate.NewLimiter(restRequestsPerSecond, restBurst),
	}
}

type tokenResponse struct {
	AccessToken *string `json:"access_token"`
	TokenType   *string `json:"token_type"`
	ExpiresIn   *int    `json:"expires_in"`
}

// login exchanges the refresh token for a session token. Callers hold t.mu.
func (t *TastytradeAPI) login(ctx context.Context) error {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", t.refreshToken)
	form.Set("client_secret", t.clientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		t.baseURL+"/oauth/token", strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("building login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := t.client.Do(req)
	if err != nil {
		return &NetworkError{Err: fmt.Errorf("login: %w", err)}
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &NetworkError{Err: fmt.Errorf("login: reading response: %w", err)}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return classifyStatus(resp.StatusCode, string(body))
	}

	var tok tokenResponse
	if err := json.Unmarshal(body, &tok); err != nil {
		return fmt.Errorf("login: decoding token response: %w", err)
	}
	if tok.AccessToken == nil || *tok.AccessToken == "" {
		return &AuthError{Err: errors.New("login: response missing access_token")}
	}
	t.sessionToken = *tok.AccessToken
	return nil
}

// ensureSession returns the cached session token, logging in if needed.
func (t *TastytradeAPI) ensureSession(ctx context.Context) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sessionToken != "" {
		return t.sessionToken, nil
	}
	if err := t.login(ctx); err != nil {
		return "", err
	}
	return t.sessionToken, nil
}

// invalidateSession drops the cached token so the next call re-logs-in.
// Only called on an explicit auth failure.
func (t *TastytradeAPI) invalidateSession() {
	t.mu.Lock()
	t.sessionToken = ""
	t.mu.Unlock()
}

// doJSON performs an authenticated GET and decodes the JSON response into
// out. On an auth failure the session is re-established once and the
// request retried; network failures are returned as NetworkError without
// touching the session.
func (t *TastytradeAPI) doJSON(ctx context.Context, path string, query url.Values, out any) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	for attempt := 0; attempt < 2; attempt++ {
		token, err := t.ensureSession(ctx)
		if err != nil {
			return err
		}

		u := t.baseURL + path
		if len(query) > 0 {
			u += "?" + query.Encode()
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return fmt.Errorf("building request for %s: %w", path, err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Accept", "application/json")

		resp, err := t.client.Do(req)
		if err != nil {
			return &NetworkError{Err: fmt.Errorf("GET %s: %w", path, err)}
		}
		body, readErr := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
		_ = resp.Body.Close()
		if readErr != nil {
			return &NetworkError{Err: fmt.Errorf("GET %s: reading response: %w", path, readErr)}
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			if err := json.Unmarshal(body, out); err != nil {
				return fmt.Errorf("GET %s: decoding response: %w", path, err)
			}
			return nil
		}

		classified := classifyStatus(resp.StatusCode, string(body))
		if IsAuthErr(classified) && attempt == 0 {
			// Credentials-invalid is the one signal that permits a new
			// session.
			t.invalidateSession()
			continue
		}
		return classified
	}
	return &AuthError{Err: errors.New("session could not be re-established")}
}

// chainItem is the wire schema for one contract in the compact chain
// response. Optional upstream fields are pointers and validated once
// here, at the boundary; internal logic never probes for missing fields.
type chainItem struct {
	StreamerSymbol *string `json:"streamer-symbol"`
	StrikePrice    *string `json:"strike-price"`
	OptionType     *string `json:"option-type"` // "C" | "P"
	ExpirationDate *string `json:"expiration-date"`
	Bid            *string `json:"bid"`
	Ask            *string `json:"ask"`
	Delta          *string `json:"delta"`
}

type chainResponse struct {
	Data struct {
		Items []chainItem `json:"items"`
	} `json:"data"`
}

// GetOptionChain fetches the compact chain with greeks for an underlying
// and converts it to the internal snapshot type. Contracts missing any
// required field are dropped.
func (t *TastytradeAPI) GetOptionChain(ctx context.Context, underlying string) (models.Chain, error) {
	var resp chainResponse
	query := url.Values{"with-greeks": {"true"}}
	path := "/option-chains/" + url.PathEscape(underlying) + "/compact"
	if err := t.doJSON(ctx, path, query, &resp); err != nil {
		return nil, err
	}

	chain := make(models.Chain)
	for _, item := range resp.Data.Items {
		opt, expiration, ok := item.toOption()
		if !ok {
			continue
		}
		chain[expiration] = append(chain[expiration], opt)
	}
	if len(chain) == 0 {
		return nil, fmt.Errorf("empty option chain for %s", underlying)
	}
	return chain, nil
}

// toOption validates and converts a wire contract. ok is false when any
// required field is absent or unparseable.
func (c chainItem) toOption() (models.Option, string, bool) {
	if c.StreamerSymbol == nil || c.StrikePrice == nil || c.OptionType == nil ||
		c.ExpirationDate == nil || c.Delta == nil {
		return models.Option{}, "", false
	}
	strike, err := strconv.ParseFloat(*c.StrikePrice, 64)
	if err != nil || strike <= 0 {
		return models.Option{}, "", false
	}
	delta, err := strconv.ParseFloat(*c.Delta, 64)
	if err != nil {
		return models.Option{}, "", false
	}
	var typ models.OptionType
	switch *c.OptionType {
	case "C":
		typ = models.OptionTypeCall
	case "P":
		typ = models.OptionTypePut
	default:
		return models.Option{}, "", false
	}
	opt := models.Option{
		Symbol: *c.StreamerSymbol,
		Strike: strike,
		Type:   typ,
		Delta:  delta,
	}
	if c.Bid != nil {
		if v, err := strconv.ParseFloat(*c.Bid, 64); err == nil {
			opt.Bid = v
		}
	}
	if c.Ask != nil {
		if v, err := strconv.ParseFloat(*c.Ask, 64); err == nil {
			opt.Ask = v
		}
	}
	return opt, *c.ExpirationDate, true
}

type metricsResponse struct {
	Data struct {
		Items []struct {
			Symbol      *string `json:"symbol"`
			IVIndexRank *string `json:"implied-volatility-index-rank"`
		} `json:"items"`
	} `json:"data"`
}

// GetIVRank fetches the implied volatility index rank for a symbol,
// normalized to 0-100. Upstream sometimes reports a 0-1 ratio; values in
// (0, 1] are scaled up. A missing metric is 0, not an error.
func (t *TastytradeAPI) GetIVRank(ctx context.Context, symbol string) (float64, error) {
	var resp metricsResponse
	query := url.Values{"symbols": {symbol}}
	if err := t.doJSON(ctx, "/market-metrics", query, &resp); err != nil {
		return 0, err
	}
	for _, item := range resp.Data.Items {
		if item.Symbol == nil || *item.Symbol != symbol || item.IVIndexRank == nil {
			continue
		}
		ivr, err := strconv.ParseFloat(*item.IVIndexRank, 64)
		if err != nil {
			return 0, fmt.Errorf("parsing IV rank %q: %w", *item.IVIndexRank, err)
		}
		if ivr > 0 && ivr <= 1.0 {
			ivr *= 100.0
		}
		return ivr, nil
	}
	return 0, nil
}

type quoteTokenResponse struct {
	Data struct {
		Token     *string `json:"token"`
		DXLinkURL *string `json:"dxlink-url"`
	} `json:"data"`
}

// QuoteStreamerToken returns the DXLink endpoint and auth token for the
// market data websocket.
func (t *TastytradeAPI) QuoteStreamerToken(ctx context.Context) (wsURL, token string, err error) {
	var resp quoteTokenResponse
	if err := t.doJSON(ctx, "/api-quote-tokens", nil, &resp); err != nil {
		return "", "", err
	}
	if resp.Data.Token == nil || resp.Data.DXLinkURL == nil {
		return "", "", errors.New("quote token response missing token or url")
	}
	return *resp.Data.DXLinkURL, *resp.Data.Token, nil
}

// Client bundles the REST API with the DXLink streamer to satisfy the
// Broker interface.
type Client struct {
	*TastytradeAPI
	streamer *DXLinkClient
}

// Ensure Client implements Broker at compile time.
var _ Broker = (*Client)(nil)

// NewClient creates the full tastytrade market data client.
func NewClient(baseURL, clientSecret, refreshToken string, snapshotWindow time.Duration) *Client {
	api := NewTastytradeAPI(baseURL, clientSecret, refreshToken)
	return &Client{
		TastytradeAPI: api,
		streamer:      NewDXLinkClient(api.QuoteStreamerToken, snapshotWindow),
	}
}

// GetQuotes returns a batched quote snapshot via the websocket streamer.
func (c *Client) GetQuotes(ctx context.Context, symbols []string) (map[string]models.Quote, error) {
	return c.streamer.QuoteSnapshot(ctx, symbols)
}

// GetUnderlyingPrice returns the current mid price for the underlying.
func (c *Client) GetUnderlyingPrice(ctx context.Context, symbol string) (float64, error) {
	quotes, err := c.streamer.QuoteSnapshot(ctx, []string{symbol})
	if err != nil {
		return 0, err
	}
	q, ok := quotes[symbol]
	if !ok {
		return 0, fmt.Errorf("%w: no quote received for %s", ErrStaleData, symbol)
	}
	mid := q.Mid()
	if mid <= 0 {
		return 0, fmt.Errorf("%w: quote for %s has no usable price", ErrStaleData, symbol)
	}
	return mid, nil
}
