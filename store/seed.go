package store

import (
	"context"
	"fmt"

	"phonesim/config"

	"github.com/shopspring/decimal"
)

// SeedCatalog upserts the configured phones and parts, creating zeroed stock
// and inventory rows for new entries. Existing counters are left untouched.
func (db *DB) SeedCatalog(ctx context.Context, cat *config.CatalogConfig) error {
	return db.WithTx(ctx, func(tx *Tx) error {
		for _, p := range cat.Phones {
			if _, err := tx.UpsertPhone(ctx, p.Name, decimal.NewFromFloat(p.Price)); err != nil {
				return fmt.Errorf("seed phone: %w", err)
			}
		}
		for _, p := range cat.Parts {
			if _, err := tx.UpsertPart(ctx, p.Name, p.Supplier); err != nil {
				return fmt.Errorf("seed part: %w", err)
			}
		}
		return nil
	})
}
