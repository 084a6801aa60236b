package product

import "time"

type Product struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Category       string    `json:"category"`
	Specifications string    `json:"specifications"`
	RetailPrice    float64   `json:"retail_price"`
	WholesalePrice float64   `json:"wholesale_price"`
	ImageURL       string    `json:"image_url"`
	StockQuantity  int       `json:"stock_quantity"`
	CreatedAt      time.Time `json:"created_at"`
}

// SeedItem is one catalog entry as listed in catalog.yaml.
type SeedItem struct {
	Name           string  `yaml:"name"`
	Category       string  `yaml:"category"`
	Specifications string  `yaml:"specifications"`
	RetailPrice    float64 `yaml:"retail_price"`
	WholesalePrice float64 `yaml:"wholesale_price"`
	ImageURL       string  `yaml:"image_url"`
	StockQuantity  int     `yaml:"stock_quantity"`
}
