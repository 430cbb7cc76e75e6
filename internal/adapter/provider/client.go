package provider

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"rates-engine/internal/domain/model"
	"rates-engine/pkg/logger"
	"rates-engine/pkg/utils"
)

// APIError is an upstream failure: a non-2xx status or an error object in
// the response body.
type APIError struct {
	Provider string
	Status   int
	Code     int
	Type     string
	Info     string
}

func (e *APIError) Error() string {
	if e.Info != "" {
		return fmt.Sprintf("%s: %s (code %d, %s)", e.Provider, e.Info, e.Code, e.Type)
	}
	return fmt.Sprintf("%s: unexpected status %d", e.Provider, e.Status)
}

// ClientConfig configures the HTTP side of an upstream adapter.
type ClientConfig struct {
	BaseURL   string
	AccessKey string
	Timeout   time.Duration
	RetryMax  int
}

// client issues GET requests carrying the access key, retrying transient
// failures with backoff.
type client struct {
	provider  string
	baseURL   string
	accessKey string
	http      *retryablehttp.Client
	log       *logger.Logger
}

func newClient(provider string, cfg ClientConfig, log *logger.Logger) *client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = cfg.RetryMax
	rc.RetryWaitMin = 200 * time.Millisecond
	rc.RetryWaitMax = 2 * time.Second
	rc.HTTPClient.Timeout = cfg.Timeout
	rc.Logger = log
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler

	return &client{
		provider:  provider,
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		accessKey: cfg.AccessKey,
		http:      rc,
		log:       log,
	}
}

func (c *client) get(ctx context.Context, path string, params url.Values) ([]byte, error) {
	if params == nil {
		params = url.Values{}
	}
	if c.accessKey != "" {
		params.Set("access_key", c.accessKey)
	}
	endpoint := c.baseURL + "/" + strings.TrimLeft(path, "/") + "?" + params.Encode()

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{Provider: c.provider, Status: resp.StatusCode}
	}
	return body, nil
}

// quotesByBase groups the quotes of markets under their base, keeping the
// order bases first appear in.
func quotesByBase(markets []model.Market) ([]model.Currency, map[model.Currency][]model.Currency) {
	var bases []model.Currency
	quotes := make(map[model.Currency][]model.Currency)
	for _, m := range markets {
		if _, ok := quotes[m.Base]; !ok {
			bases = append(bases, m.Base)
		}
		quotes[m.Base] = append(quotes[m.Base], m.Quote)
	}
	return bases, quotes
}

func joinCurrencies(cs []model.Currency) string {
	parts := make([]string, len(cs))
	for i, c := range cs {
		parts[i] = string(c)
	}
	return strings.Join(parts, ",")
}

// fillMissing appends a null-valued rate for every requested market and day
// the upstream response did not cover, in either orientation.
func fillMissing(source string, rates []model.Rate, markets []model.Market, dates []time.Time) []model.Rate {
	seen := make(map[string]bool, len(rates))
	for _, r := range rates {
		seen[r.Market.ID()+":"+r.Date] = true
		seen[r.Market.Inverse().ID()+":"+r.Date] = true
	}
	for _, d := range dates {
		date := utils.FormatDate(d)
		for _, m := range markets {
			if seen[m.ID()+":"+date] {
				continue
			}
			rates = append(rates, model.Rate{
				Market:    m,
				Source:    source,
				Date:      date,
				Timestamp: d.Unix(),
			})
		}
	}
	return rates
}
