package db

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"

	"ms-redemption/internal/models"
)

// CreateSchema creates the tables and indexes from the bun models. It is used
// for SQLite; PostgreSQL deployments run the SQL migrations instead.
func CreateSchema(ctx context.Context, db *bun.DB) error {
	for _, model := range []interface{}{(*models.Order)(nil), (*models.OrderItem)(nil)} {
		if _, err := db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}

	indexes := []*bun.CreateIndexQuery{
		db.NewCreateIndex().Model((*models.Order)(nil)).Index("ux_orders_payment_token").Unique().Column("payment_token"),
		db.NewCreateIndex().Model((*models.Order)(nil)).Index("idx_orders_user_id").Column("user_id"),
		db.NewCreateIndex().Model((*models.OrderItem)(nil)).Index("idx_order_items_order_id").Column("order_id"),
	}
	for _, idx := range indexes {
		if _, err := idx.IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("create index: %w", err)
		}
	}
	return nil
}
