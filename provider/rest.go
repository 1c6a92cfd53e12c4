package provider

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"quantflow/config"
	"quantflow/logger"
	"quantflow/models"

	"github.com/jpillora/backoff"
)

// RESTClient fetches endpoint payloads over the provider's query API.
// Time-series endpoints are requested as full-history CSV, everything else
// as JSON function calls.
type RESTClient struct {
	config config.ProviderConfig
	apiKey string
	client *http.Client
	log    *logger.Log
}

// NewRESTClient creates a client for the given provider configuration.
func NewRESTClient(cfg config.ProviderConfig, apiKey string) *RESTClient {
	return &RESTClient{
		config: cfg,
		apiKey: apiKey,
		client: &http.Client{Timeout: cfg.Timeout},
		log:    logger.GetLogger(),
	}
}

// Fetch calls one endpoint for one symbol and normalizes the response.
// Transport failures that exhaust the retry budget and provider error
// bodies are both reported through the Result, never as an error return.
func (c *RESTClient) Fetch(ctx context.Context, endpoint models.Endpoint, symbol string) (*Result, error) {
	log := c.log.WithComponent("provider").WithFields(logger.Fields{
		"endpoint":  endpoint.Name,
		"symbol":    symbol,
		"operation": "fetch",
	})

	body, err := c.get(ctx, c.requestURL(endpoint, symbol))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		log.WithError(err).Warn("provider call failed")
		return &Result{ErrMessage: err.Error()}, nil
	}
	logger.IncrementFetch()

	var res *Result
	if endpoint.Kind == models.TimeSeriesKind {
		res = ParseTimeSeriesCSV(body, symbol)
	} else {
		res = ParseJSONPayload(body, endpoint, symbol)
	}
	if res.Failed() {
		log.WithFields(logger.Fields{"error_sample": res.ErrMessage}).Warn("provider returned error payload")
	} else {
		log.WithFields(logger.Fields{"rows": len(res.Rows)}).Debug("fetched endpoint payload")
	}
	return res, nil
}

// requestURL assembles the query URL for an endpoint call.
func (c *RESTClient) requestURL(endpoint models.Endpoint, symbol string) string {
	q := url.Values{}
	q.Set("function", endpoint.Function)
	if p := endpoint.SymbolParam(); p != "" && symbol != "" {
		q.Set(p, symbol)
	}
	if endpoint.Kind == models.TimeSeriesKind {
		q.Set("datatype", "csv")
		q.Set("outputsize", "full")
	}
	q.Set("apikey", c.apiKey)
	return c.config.BaseURL + "?" + q.Encode()
}

// get performs the HTTP request with exponential backoff on transient
// failures. Responses with status 429 or 5xx are retried; other non-200
// statuses fail immediately.
func (c *RESTClient) get(ctx context.Context, rawURL string) ([]byte, error) {
	b := &backoff.Backoff{
		Min:    c.config.Retry.BaseDelay,
		Max:    c.config.Retry.MaxDelay,
		Factor: float64(c.config.Retry.BackoffMultiplier),
		Jitter: true,
	}

	var lastErr error
	for attempt := 0; attempt < c.config.Retry.MaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(b.Duration()):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to build provider request: %w", err)
		}
		resp, err := c.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			continue
		}
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = err
			continue
		}
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			lastErr = fmt.Errorf("provider returned status %d", resp.StatusCode)
			continue
		}
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("provider returned status %d", resp.StatusCode)
		}
		return body, nil
	}
	return nil, fmt.Errorf("provider request failed after %d attempts: %w", c.config.Retry.MaxAttempts, lastErr)
}
