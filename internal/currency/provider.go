package currency

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"github.com/ppiankov/spendgate/internal/model"
)

// Provider returns the current rate table relative to base.
type Provider interface {
	GetRates(ctx context.Context, base string) (Table, error)
}

// StaticProvider serves a fixed table, typically loaded from config.
type StaticProvider struct {
	Base  string
	Rates Table
}

// GetRates returns a copy of the configured table.
func (p StaticProvider) GetRates(ctx context.Context, base string) (Table, error) {
	if Normalize(base) != Normalize(p.Base) {
		return nil, model.Errorf(model.KindRateUnavailable, "static rates are relative to %s, not %s", p.Base, base)
	}
	out := make(Table, len(p.Rates))
	for k, v := range p.Rates {
		out[Normalize(k)] = v
	}
	return out, nil
}

const requestTimeout = 5 * time.Second

// HTTPProvider fetches rates from an exchangerate-api compatible endpoint:
// GET <Endpoint>/<BASE> returning {"base":"USD","rates":{"EUR":0.92,...}}.
type HTTPProvider struct {
	Endpoint string
	Client   *http.Client
}

// NewHTTPProvider creates a provider with a bounded client timeout.
func NewHTTPProvider(endpoint string) *HTTPProvider {
	return &HTTPProvider{
		Endpoint: strings.TrimRight(endpoint, "/"),
		Client:   &http.Client{Timeout: requestTimeout},
	}
}

type ratesResponse struct {
	Base  string                     `json:"base"`
	Rates map[string]decimal.Decimal `json:"rates"`
}

// GetRates performs the HTTP lookup under ctx.
func (p *HTTPProvider) GetRates(ctx context.Context, base string) (Table, error) {
	url := fmt.Sprintf("%s/%s", p.Endpoint, Normalize(base))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create rate request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.Client.Do(req)
	if err != nil {
		return nil, &model.Error{Kind: model.KindRateUnavailable, Reason: "rate lookup failed", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, model.Errorf(model.KindRateUnavailable, "rate endpoint returned HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &model.Error{Kind: model.KindRateUnavailable, Reason: "read rate response", Err: err}
	}

	var parsed ratesResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, &model.Error{Kind: model.KindRateUnavailable, Reason: "parse rate response", Err: err}
	}
	if len(parsed.Rates) == 0 {
		return nil, model.Errorf(model.KindRateUnavailable, "rate response for %s is empty", base)
	}

	table := make(Table, len(parsed.Rates))
	for k, v := range parsed.Rates {
		table[Normalize(k)] = v
	}
	return table, nil
}

// CachedProvider keeps the last table per base for TTL and collapses
// concurrent misses into one upstream call.
type CachedProvider struct {
	next  Provider
	ttl   time.Duration
	now   func() time.Time
	group singleflight.Group

	mu      sync.RWMutex
	entries map[string]cacheEntry
}

type cacheEntry struct {
	table   Table
	fetched time.Time
}

// NewCachedProvider wraps next with a TTL cache.
func NewCachedProvider(next Provider, ttl time.Duration) *CachedProvider {
	return &CachedProvider{
		next:    next,
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]cacheEntry),
	}
}

// GetRates returns a cached table when fresh, otherwise refreshes it.
func (c *CachedProvider) GetRates(ctx context.Context, base string) (Table, error) {
	base = Normalize(base)

	c.mu.RLock()
	e, ok := c.entries[base]
	c.mu.RUnlock()
	if ok && c.now().Sub(e.fetched) < c.ttl {
		return e.table, nil
	}

	v, err, _ := c.group.Do(base, func() (any, error) {
		table, err := c.next.GetRates(ctx, base)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.entries[base] = cacheEntry{table: table, fetched: c.now()}
		c.mu.Unlock()
		return table, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(Table), nil
}
