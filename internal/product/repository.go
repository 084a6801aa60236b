package product

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("product not found")

const selectProduct = `
	SELECT id, name, category, specifications, retail_price, wholesale_price, image_url, stock_quantity, created_at
	FROM products
`

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// List returns the catalog ordered by category then name. An empty category
// returns everything.
func (r *Repository) List(ctx context.Context, category string) ([]Product, error) {
	rows, err := r.db.QueryContext(ctx, selectProduct+`
		WHERE ($1 = '' OR category = $1)
		ORDER BY category, name
	`, category)
	if err != nil {
		return nil, fmt.Errorf("query products: %w", err)
	}
	defer rows.Close()

	products := make([]Product, 0)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate products: %w", err)
	}

	return products, nil
}

func (r *Repository) Get(ctx context.Context, id string) (Product, error) {
	p, err := scanProduct(r.db.QueryRowContext(ctx, selectProduct+`WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Product{}, ErrNotFound
	}
	return p, err
}

// Upsert inserts the item or refreshes its catalog fields by name. Stock is
// only set on insert so reseeding never overwrites live quantities.
func (r *Repository) Upsert(ctx context.Context, item SeedItem) (bool, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return false, fmt.Errorf("generate uuid v7: %w", err)
	}

	now := time.Now().UTC()
	var inserted bool
	err = r.db.QueryRowContext(ctx, `
		INSERT INTO products (id, name, category, specifications, retail_price, wholesale_price, image_url, stock_quantity, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
		ON CONFLICT (name) DO UPDATE
		SET category = EXCLUDED.category,
			specifications = EXCLUDED.specifications,
			retail_price = EXCLUDED.retail_price,
			wholesale_price = EXCLUDED.wholesale_price,
			image_url = EXCLUDED.image_url,
			updated_at = EXCLUDED.updated_at
		RETURNING (xmax = 0)
	`, id.String(), item.Name, item.Category, item.Specifications, item.RetailPrice,
		item.WholesalePrice, item.ImageURL, item.StockQuantity, now).Scan(&inserted)
	if err != nil {
		return false, fmt.Errorf("upsert product %q: %w", item.Name, err)
	}

	return inserted, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanProduct(row scanner) (Product, error) {
	var p Product
	err := row.Scan(&p.ID, &p.Name, &p.Category, &p.Specifications, &p.RetailPrice,
		&p.WholesalePrice, &p.ImageURL, &p.StockQuantity, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Product{}, err
	}
	if err != nil {
		return Product{}, fmt.Errorf("scan product: %w", err)
	}
	return p, nil
}
