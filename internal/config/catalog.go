package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	domain "github.com/R3E-Network/rewards_layer/internal/app/domain/evolution"
)

// LoadCatalogFromPath reads a catalog YAML file:
//
//	criteria:
//	  - base_position_id: gold
//	    min_investment: "1000.00"
//	    active: true
//	variants:
//	  - id: gold-phoenix
//	    base_position_id: gold
//	    rarity: legendary
func LoadCatalogFromPath(path string) (domain.Catalog, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return domain.Catalog{}, fmt.Errorf("read catalog: %w", err)
	}
	var cat domain.Catalog
	if err := yaml.Unmarshal(data, &cat); err != nil {
		return domain.Catalog{}, fmt.Errorf("parse catalog %s: %w", path, err)
	}
	for i, v := range cat.Variants {
		if !v.Rarity.Valid() {
			return domain.Catalog{}, fmt.Errorf("catalog %s: variant %q has no rarity", path, v.ID)
		}
		if v.BonusMultiplier.IsZero() {
			cat.Variants[i].BonusMultiplier = decimal.NewFromInt(1)
		}
	}
	return cat, nil
}

// FileCatalog is a catalog source backed by a YAML file. The file is re-read
// on every load so edits are picked up by the reloader.
type FileCatalog struct {
	Path string
}

func (f FileCatalog) LoadCatalog(_ context.Context) (domain.Catalog, error) {
	return LoadCatalogFromPath(f.Path)
}
