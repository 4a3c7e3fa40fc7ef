package registry

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/rxtech-lab/argo-live/pkg/errors"
)

// SignalEntry is one admissible signal strategy for a symbol.
type SignalEntry struct {
	ViabilityScore   float64        `json:"viability_score"`
	ParamConsistency float64        `json:"param_consistency"`
	Params           map[string]any `json:"params"`
	// Weight overrides the viability score as the component weight.
	Weight        *float64 `json:"weight,omitempty"`
	BuyThreshold  float64  `json:"buy_threshold,omitempty"`
	SellThreshold float64  `json:"sell_threshold,omitempty"`
}

// Catalog is the on-disk viable strategies artifact.
type Catalog struct {
	// Signal maps symbol → strategy tag → entry.
	Signal map[string]map[string]SignalEntry `json:"signal"`
	// Portfolio maps symbols key → strategy tag → params.
	Portfolio map[string]map[string]map[string]any `json:"portfolio"`
}

// NewCatalog returns an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{
		Signal:    make(map[string]map[string]SignalEntry),
		Portfolio: make(map[string]map[string]map[string]any),
	}
}

// LoadCatalog reads the catalog at path. A missing file yields an empty catalog.
func LoadCatalog(path string) (*Catalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return NewCatalog(), nil
		}

		return nil, errors.Wrapf(errors.ErrCodeCatalogReadFailed, err, "failed to read catalog %s", path)
	}

	catalog := NewCatalog()
	if err := json.Unmarshal(raw, catalog); err != nil {
		return nil, errors.Wrapf(errors.ErrCodeCatalogReadFailed, err, "failed to parse catalog %s", path)
	}

	if catalog.Signal == nil {
		catalog.Signal = make(map[string]map[string]SignalEntry)
	}

	if catalog.Portfolio == nil {
		catalog.Portfolio = make(map[string]map[string]map[string]any)
	}

	return catalog, nil
}

// Save writes the catalog to path through a temp file and a rename so
// readers never see a partial file.
func (c *Catalog) Save(path string) error {
	raw, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return errors.Wrap(errors.ErrCodeCatalogWriteFailed, "failed to encode catalog", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(errors.ErrCodeCatalogWriteFailed, err, "failed to create %s", dir)
	}

	tmp, err := os.CreateTemp(dir, ".viable_strategies-*.json")
	if err != nil {
		return errors.Wrap(errors.ErrCodeCatalogWriteFailed, "failed to create temp catalog", err)
	}

	defer os.Remove(tmp.Name()) //nolint:errcheck

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()

		return errors.Wrap(errors.ErrCodeCatalogWriteFailed, "failed to write temp catalog", err)
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()

		return errors.Wrap(errors.ErrCodeCatalogWriteFailed, "failed to sync temp catalog", err)
	}

	if err := tmp.Close(); err != nil {
		return errors.Wrap(errors.ErrCodeCatalogWriteFailed, "failed to close temp catalog", err)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		return errors.Wrapf(errors.ErrCodeCatalogWriteFailed, err, "failed to replace %s", path)
	}

	return nil
}
