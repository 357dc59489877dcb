package currency

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ppiankov/spendgate/internal/model"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestNormalizeBaseCurrencyUnchanged(t *testing.T) {
	n := Normalizer{Base: "USD"}
	got, err := n.Normalize(d("150"), "usd", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.Equal(d("150")) {
		t.Fatalf("expected 150, got %s", got)
	}
}

func TestNormalizeConvertsWithRate(t *testing.T) {
	n := Normalizer{Base: "USD"}
	table := Table{"EUR": d("0.8"), "INR": d("83.25")}

	tests := []struct {
		amount string
		from   string
		want   string
	}{
		{"100", "EUR", "125"},
		{"8325", "INR", "100"},
		{"10", "EUR", "12.5"},
		{"1", "INR", "0.01"},
	}
	for _, tt := range tests {
		got, err := n.Normalize(d(tt.amount), tt.from, table)
		if err != nil {
			t.Fatalf("%s %s: %v", tt.amount, tt.from, err)
		}
		if !got.Equal(d(tt.want)) {
			t.Errorf("%s %s: expected %s, got %s", tt.amount, tt.from, tt.want, got)
		}
	}
}

func TestNormalizeMissingRate(t *testing.T) {
	n := Normalizer{Base: "USD"}
	_, err := n.Normalize(d("10"), "JPY", Table{"EUR": d("0.9")})
	if !errors.Is(err, model.ErrRateUnavailable) {
		t.Fatalf("expected RateUnavailable, got %v", err)
	}
}

func TestNormalizeRejectsNonPositive(t *testing.T) {
	n := Normalizer{Base: "USD"}
	for _, raw := range []string{"0", "-1"} {
		_, err := n.Normalize(d(raw), "USD", nil)
		if !errors.Is(err, model.ErrValidation) {
			t.Errorf("amount %s: expected validation error, got %v", raw, err)
		}
	}
}

func TestNormalizeRejectsZeroRate(t *testing.T) {
	n := Normalizer{Base: "USD"}
	_, err := n.Normalize(d("10"), "EUR", Table{"EUR": decimal.Zero})
	if !errors.Is(err, model.ErrRateUnavailable) {
		t.Fatalf("expected RateUnavailable for zero rate, got %v", err)
	}
}

func TestValidCode(t *testing.T) {
	if !ValidCode("USD") || ValidCode("usd") || ValidCode("US") || ValidCode("USDT") {
		t.Fatal("ValidCode accepted or rejected the wrong codes")
	}
}

func TestStaticProviderWrongBase(t *testing.T) {
	p := StaticProvider{Base: "USD", Rates: Table{"eur": d("0.9")}}
	table, err := p.GetRates(context.Background(), "usd")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := table["EUR"]; !ok {
		t.Fatal("expected keys to be normalized")
	}
	if _, err := p.GetRates(context.Background(), "EUR"); !errors.Is(err, model.ErrRateUnavailable) {
		t.Fatalf("expected RateUnavailable for foreign base, got %v", err)
	}
}

func TestHTTPProviderParsesRates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/latest/USD" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, `{"base":"USD","rates":{"EUR":0.92,"inr":83.1}}`)
	}))
	defer srv.Close()

	p := NewHTTPProvider(srv.URL + "/latest/")
	table, err := p.GetRates(context.Background(), "usd")
	if err != nil {
		t.Fatalf("GetRates: %v", err)
	}
	if !table["EUR"].Equal(d("0.92")) {
		t.Errorf("expected EUR 0.92, got %s", table["EUR"])
	}
	if !table["INR"].Equal(d("83.1")) {
		t.Errorf("expected INR 83.1, got %s", table["INR"])
	}
}

func TestHTTPProviderServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewHTTPProvider(srv.URL).GetRates(context.Background(), "USD")
	if !errors.Is(err, model.ErrRateUnavailable) {
		t.Fatalf("expected RateUnavailable, got %v", err)
	}
}

func TestHTTPProviderHonoursContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := NewHTTPProvider(srv.URL).GetRates(ctx, "USD")
	if !errors.Is(err, model.ErrRateUnavailable) {
		t.Fatalf("expected RateUnavailable on timeout, got %v", err)
	}
}

type countingProvider struct {
	calls atomic.Int32
	delay time.Duration
}

func (c *countingProvider) GetRates(ctx context.Context, base string) (Table, error) {
	c.calls.Add(1)
	time.Sleep(c.delay)
	return Table{"EUR": d("0.9")}, nil
}

func TestCachedProviderCollapsesConcurrentMisses(t *testing.T) {
	upstream := &countingProvider{delay: 50 * time.Millisecond}
	c := NewCachedProvider(upstream, time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.GetRates(context.Background(), "USD"); err != nil {
				t.Errorf("GetRates: %v", err)
			}
		}()
	}
	wg.Wait()

	if n := upstream.calls.Load(); n != 1 {
		t.Fatalf("expected 1 upstream call, got %d", n)
	}
}

func TestCachedProviderExpires(t *testing.T) {
	upstream := &countingProvider{}
	c := NewCachedProvider(upstream, time.Minute)
	now := time.Now()
	c.now = func() time.Time { return now }

	c.GetRates(context.Background(), "USD")
	c.GetRates(context.Background(), "USD")
	if n := upstream.calls.Load(); n != 1 {
		t.Fatalf("expected cached hit, got %d calls", n)
	}

	now = now.Add(2 * time.Minute)
	c.GetRates(context.Background(), "USD")
	if n := upstream.calls.Load(); n != 2 {
		t.Fatalf("expected refresh after TTL, got %d calls", n)
	}
}
