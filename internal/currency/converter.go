package currency

import (
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	ratesURL       = "https://api.frankfurter.app/latest?from=USD"
	defaultTTL     = 24 * time.Hour
	ratesCacheFile = "currency_rates.json"
	requestTimeout = 10 * time.Second
)

// fallbackRates covers the currencies seen most often on the marketplace
// when the rate source is unreachable. Values are USD per one unit.
var fallbackRates = map[string]float64{
	"INR": 0.012,
	"IDR": 0.000064,
	"VND": 0.000041,
}

// codeAliases maps symbols and country shorthands to ISO currency codes.
var codeAliases = map[string]string{
	"$":  "USD",
	"US": "USD",
	"€":  "EUR",
	"£":  "GBP",
	"₹":  "INR",
	"A$": "AUD",
	"C$": "CAD",
	"NZ": "NZD",
	"S$": "SGD",
}

// Converter keeps a table of USD exchange rates refreshed at most once per
// TTL and persisted on disk between runs.
type Converter struct {
	mu          sync.Mutex
	rates       map[string]float64
	lastUpdated time.Time

	ttl        time.Duration
	cachePath  string
	httpClient *http.Client
	logger     *zap.Logger
	now        func() time.Time
}

type ratesSnapshot struct {
	Rates       map[string]float64 `json:"rates"`
	LastUpdated time.Time          `json:"last_updated"`
}

type frankfurterResponse struct {
	Rates map[string]float64 `json:"rates"`
}

// New creates a converter storing its rate snapshot under dataDir.
func New(dataDir string, logger *zap.Logger) *Converter {
	c := &Converter{
		rates:      map[string]float64{},
		ttl:        defaultTTL,
		cachePath:  filepath.Join(dataDir, ratesCacheFile),
		httpClient: &http.Client{Timeout: requestTimeout},
		logger:     logger,
		now:        time.Now,
	}
	c.loadSnapshot()

	return c
}

// NormalizeCode maps currency symbols and country aliases to ISO codes.
func NormalizeCode(raw string) string {
	code := strings.ToUpper(strings.TrimSpace(raw))
	if code == "" {
		return "USD"
	}
	if alias, ok := codeAliases[code]; ok {
		return alias
	}
	return code
}

// RateToUSD returns how many USD one unit of the given currency is worth.
// The second return value is false when no rate is available; callers must
// treat that as "cannot convert", never as parity with USD.
func (c *Converter) RateToUSD(code string) (float64, bool) {
	code = NormalizeCode(code)
	if code == "USD" {
		return 1.0, true
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stale() {
		if err := c.refresh(); err != nil {
			c.logger.Warn("currency rate refresh failed",
				zap.String("code", code),
				zap.Error(err),
			)
		}
	}

	if rate, ok := c.rates[code]; ok && rate > 0 {
		return rate, true
	}

	if rate, ok := fallbackRates[code]; ok {
		c.logger.Warn("using fallback exchange rate", zap.String("code", code))
		return rate, true
	}

	c.logger.Warn("no exchange rate available", zap.String("code", code))
	return 0, false
}

// ToUSD converts a native-currency amount into USD.
func (c *Converter) ToUSD(amount float64, code string) (float64, bool) {
	rate, ok := c.RateToUSD(code)
	if !ok {
		return 0, false
	}
	return amount * rate, true
}

// ToNative converts a USD amount into the given currency.
func (c *Converter) ToNative(usdAmount float64, code string) (float64, bool) {
	rate, ok := c.RateToUSD(code)
	if !ok || rate == 0 {
		return 0, false
	}
	return usdAmount / rate, true
}

// Beautify rounds an amount to an increment matching its magnitude so it
// reads as a human-chosen number.
func Beautify(amount float64) float64 {
	step := 1.0
	switch {
	case amount >= 10000:
		step = 100
	case amount >= 1000:
		step = 50
	case amount >= 100:
		step = 10
	case amount >= 20:
		step = 5
	}
	return math.Round(amount/step) * step
}

func (c *Converter) stale() bool {
	return len(c.rates) == 0 || c.now().Sub(c.lastUpdated) > c.ttl
}

// refresh fetches the latest USD-based rates and stores them inverted, so
// the table answers "USD per one unit of X". Caller holds the mutex.
func (c *Converter) refresh() error {
	resp, err := c.httpClient.Get(ratesURL)
	if err != nil {
		return fmt.Errorf("fetch rates: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch rates: bad status: %s", resp.Status)
	}

	var parsed frankfurterResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return fmt.Errorf("decode rates: %w", err)
	}

	rates := make(map[string]float64, len(parsed.Rates)+1)
	rates["USD"] = 1.0
	for code, perUSD := range parsed.Rates {
		if perUSD <= 0 {
			continue
		}
		rates[strings.ToUpper(code)] = 1.0 / perUSD
	}

	c.rates = rates
	c.lastUpdated = c.now()
	c.saveSnapshot()

	c.logger.Info("currency rates refreshed", zap.Int("count", len(rates)))
	return nil
}

func (c *Converter) loadSnapshot() {
	data, err := os.ReadFile(c.cachePath)
	if err != nil {
		return
	}

	var snap ratesSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		c.logger.Warn("discarding unreadable rates snapshot", zap.Error(err))
		return
	}

	c.rates = snap.Rates
	c.lastUpdated = snap.LastUpdated
}

func (c *Converter) saveSnapshot() {
	snap := ratesSnapshot{Rates: c.rates, LastUpdated: c.lastUpdated}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return
	}

	if err := os.MkdirAll(filepath.Dir(c.cachePath), 0o755); err != nil {
		c.logger.Warn("creating rates snapshot directory failed", zap.Error(err))
		return
	}

	if err := os.WriteFile(c.cachePath, data, 0o644); err != nil {
		c.logger.Warn("writing rates snapshot failed", zap.Error(err))
	}
}
