package analytics

import (
	"context"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"

	"ms-redemption/internal/models"
)

// DB runs the aggregate queries behind the event summaries.
type DB struct {
	bun bun.IDB
}

func NewDB(db bun.IDB) *DB {
	return &DB{bun: db}
}

// StatusCount is the number and value of orders in one status.
type StatusCount struct {
	Status models.Status   `bun:"status" json:"status"`
	Orders int             `bun:"orders" json:"orders"`
	Amount decimal.Decimal `bun:"amount" json:"amount"`
}

// ProductSales aggregates the lines of paid orders for one product.
type ProductSales struct {
	ProductID    string          `bun:"product_id" json:"product_id"`
	ProductName  string          `bun:"product_name" json:"product_name"`
	UnitsSold    int             `bun:"units_sold" json:"units_sold"`
	UnitsClaimed int             `bun:"units_claimed" json:"units_claimed"`
	Revenue      decimal.Decimal `bun:"revenue" json:"revenue"`
}

func (db *DB) StatusCounts(ctx context.Context, eventIDs []string) ([]StatusCount, error) {
	var counts []StatusCount
	err := db.bun.NewSelect().
		TableExpr("orders").
		ColumnExpr("status").
		ColumnExpr("COUNT(*) AS orders").
		ColumnExpr("COALESCE(SUM(total), 0) AS amount").
		Where("event_id IN (?)", bun.In(eventIDs)).
		Group("status").
		Order("status").
		Scan(ctx, &counts)
	return counts, err
}

func (db *DB) ProductSales(ctx context.Context, eventIDs []string, statuses []models.Status) ([]ProductSales, error) {
	var sales []ProductSales
	err := db.bun.NewSelect().
		TableExpr("order_items AS oi").
		Join("JOIN orders AS o ON o.order_id = oi.order_id").
		ColumnExpr("oi.product_id").
		ColumnExpr("MAX(oi.product_name) AS product_name").
		ColumnExpr("SUM(oi.quantity) AS units_sold").
		ColumnExpr("SUM(oi.claimed) AS units_claimed").
		ColumnExpr("COALESCE(SUM(oi.price_at_purchase * oi.quantity), 0) AS revenue").
		Where("o.event_id IN (?)", bun.In(eventIDs)).
		Where("o.status IN (?)", bun.In(statuses)).
		Group("oi.product_id").
		Order("oi.product_id").
		Scan(ctx, &sales)
	return sales, err
}
