package baseline

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/civicbudget/tax-forecast/internal/forecast"
)

// cacheSchemaVersion invalidates cached baselines when the fitting
// semantics change.
const cacheSchemaVersion = 1

// CacheKey captures every parameter that changes a fitted baseline. Keys
// serialize to canonical JSON (struct order, sorted map keys) and the full
// SHA-1 digest names the cache file, so differing parameters cannot collide
// and identical parameters always map to the same file.
type CacheKey struct {
	SchemaVersion      int               `json:"schemaVersion"`
	Freq               string            `json:"freq"`
	FitStart           string            `json:"fitStart"`
	FitStop            string            `json:"fitStop"`
	ForecastStop       string            `json:"forecastStop"`
	IgnoreSectors      bool              `json:"ignoreSectors"`
	UseSubsectors      bool              `json:"useSubsectors"`
	SeasonalityMode    string            `json:"seasonalityMode"`
	ChangepointCap     int               `json:"changepointCap"`
	ChangepointPenalty float64           `json:"changepointPenalty"`
	IntervalWidth      float64           `json:"intervalWidth"`
	FourierOrder       int               `json:"fourierOrder"`
	ExtraFitParams     map[string]string `json:"extraFitParams,omitempty"`
}

// Hash returns the SHA-1 hex digest of the canonical JSON encoding.
func (k CacheKey) Hash() (string, error) {
	buf, err := json.Marshal(k)
	if err != nil {
		return "", fmt.Errorf("serialize cache key: %w", err)
	}
	sum := sha1.Sum(buf)
	return hex.EncodeToString(sum[:]), nil
}

// Cache is the on-disk store of fitted baselines, one CSV file per (tax,
// parameter hash). Entries are written deterministically, so re-running
// with identical parameters rewrites identical bytes; concurrent pipelines
// writing different keys touch different files.
type Cache struct {
	dir    string
	logger *zap.Logger
}

// NewCache creates a cache rooted at dir. The directory is created on the
// first store.
func NewCache(dir string, logger *zap.Logger) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{dir: dir, logger: logger}
}

// Dir returns the cache directory.
func (c *Cache) Dir() string { return c.dir }

// Path returns the cache file path for a tax and key.
func (c *Cache) Path(tax string, key CacheKey) (string, error) {
	hash, err := key.Hash()
	if err != nil {
		return "", err
	}
	return filepath.Join(c.dir, fmt.Sprintf("%s-baseline-%s.csv", tax, hash)), nil
}

// Load returns the cached table for a tax and key. The boolean is false
// when no entry exists.
func (c *Cache) Load(tax string, key CacheKey) (*forecast.Table, bool, error) {
	path, err := c.Path(tax, key)
	if err != nil {
		return nil, false, err
	}

	fh, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("open cache entry: %w", err)
	}
	defer fh.Close()

	t, err := forecast.ReadCSV(fh)
	if err != nil {
		return nil, false, fmt.Errorf("read cache entry %s: %w", path, err)
	}
	c.logger.Debug("loaded fitted baseline from cache",
		zap.String("op", "baseline.Cache.Load"),
		zap.String("tax", tax),
		zap.String("path", path),
	)
	return t, true, nil
}

// Store writes the table under the tax and key.
func (c *Cache) Store(tax string, key CacheKey, t *forecast.Table) error {
	path, err := c.Path(tax, key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(c.dir, 0755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}

	fh, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create cache entry: %w", err)
	}
	if err := t.WriteCSV(fh); err != nil {
		fh.Close()
		return fmt.Errorf("write cache entry %s: %w", path, err)
	}
	if err := fh.Close(); err != nil {
		return fmt.Errorf("close cache entry %s: %w", path, err)
	}

	c.logger.Debug("stored fitted baseline in cache",
		zap.String("op", "baseline.Cache.Store"),
		zap.String("tax", tax),
		zap.String("path", path),
	)
	return nil
}

// Clean removes every cached baseline, leaving other files in the directory
// alone.
func (c *Cache) Clean() error {
	entries, err := filepath.Glob(filepath.Join(c.dir, "*-baseline-*.csv"))
	if err != nil {
		return fmt.Errorf("list cache entries: %w", err)
	}
	for _, path := range entries {
		if err := os.Remove(path); err != nil {
			return fmt.Errorf("remove cache entry %s: %w", path, err)
		}
	}
	c.logger.Debug("cleaned cache",
		zap.String("op", "baseline.Cache.Clean"),
		zap.Int("removed", len(entries)),
	)
	return nil
}
