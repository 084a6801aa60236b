package product

import (
	_ "embed"
	"errors"
	"fmt"

	"gopkg.in/yaml.v2"
)

//go:embed catalog.yaml
var catalogYAML []byte

type catalogFile struct {
	Products []SeedItem `yaml:"products"`
}

// DefaultCatalog returns the supplier's standard steel range.
func DefaultCatalog() ([]SeedItem, error) {
	return ParseCatalog(catalogYAML)
}

func ParseCatalog(raw []byte) ([]SeedItem, error) {
	var file catalogFile
	if err := yaml.UnmarshalStrict(raw, &file); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}

	seen := make(map[string]struct{}, len(file.Products))
	var errs []error
	for i, item := range file.Products {
		if item.Name == "" || item.Category == "" {
			errs = append(errs, fmt.Errorf("item %d: name and category are required", i))
			continue
		}
		if _, dup := seen[item.Name]; dup {
			errs = append(errs, fmt.Errorf("item %d: duplicate name %q", i, item.Name))
		}
		seen[item.Name] = struct{}{}
		if item.RetailPrice < 0 || item.WholesalePrice < 0 || item.StockQuantity < 0 {
			errs = append(errs, fmt.Errorf("item %q: prices and stock must be >= 0", item.Name))
		}
		if item.WholesalePrice > item.RetailPrice {
			errs = append(errs, fmt.Errorf("item %q: wholesale price above retail", item.Name))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	return file.Products, nil
}
