package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/chronoswap/chronoswap/internal/types"
)

const orderColumns = `
	id, owner, asset_in, asset_out, amount_per_occurrence, min_amount_out,
	kind, next_execution_time, interval_seconds, total_occurrences,
	executed_occurrences, active, status, last_execution_time,
	escrow_released, created_at, updated_at`

func scanOrder(row pgx.Row) (*types.ScheduledOrder, error) {
	var o types.ScheduledOrder
	var amount, minOut, nextExec, interval, lastExec int64
	var total, executed int32

	err := row.Scan(
		&o.ID,
		&o.Owner,
		&o.AssetIn,
		&o.AssetOut,
		&amount,
		&minOut,
		&o.Kind,
		&nextExec,
		&interval,
		&total,
		&executed,
		&o.Active,
		&o.Status,
		&lastExec,
		&o.EscrowReleased,
		&o.CreatedAt,
		&o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	o.AmountPerOccurrence = uint64(amount)
	o.MinAmountOut = uint64(minOut)
	o.NextExecutionTime = uint64(nextExec)
	o.Interval = uint64(interval)
	o.TotalOccurrences = uint32(total)
	o.ExecutedOccurrences = uint32(executed)
	o.LastExecutionTime = uint64(lastExec)
	return &o, nil
}

func (p *PostgresBackend) InsertOrder(ctx context.Context, order *types.ScheduledOrder) error {
	query := `
		INSERT INTO orders (
			id, owner, asset_in, asset_out, amount_per_occurrence, min_amount_out,
			kind, next_execution_time, interval_seconds, total_occurrences,
			executed_occurrences, active, status, last_execution_time, escrow_released
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`

	_, err := p.pool.Exec(ctx, query,
		order.ID,
		order.Owner,
		order.AssetIn,
		order.AssetOut,
		int64(order.AmountPerOccurrence),
		int64(order.MinAmountOut),
		order.Kind,
		int64(order.NextExecutionTime),
		int64(order.Interval),
		int32(order.TotalOccurrences),
		int32(order.ExecutedOccurrences),
		order.Active,
		order.Status,
		int64(order.LastExecutionTime),
		order.EscrowReleased,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("%w: %s", types.ErrDuplicateOrderID, order.ID)
		}
		return fmt.Errorf("failed to insert order: %w", err)
	}
	return nil
}

func (p *PostgresBackend) GetOrder(ctx context.Context, id string) (*types.ScheduledOrder, error) {
	query := `SELECT` + orderColumns + ` FROM orders WHERE id = $1`

	order, err := scanOrder(p.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", types.ErrOrderNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	return order, nil
}

func (p *PostgresBackend) UpdateOrder(ctx context.Context, order *types.ScheduledOrder) error {
	query := `
		UPDATE orders
		SET next_execution_time = $2,
		    executed_occurrences = $3,
		    active = $4,
		    status = $5,
		    last_execution_time = $6,
		    escrow_released = $7,
		    updated_at = NOW()
		WHERE id = $1`

	tag, err := p.pool.Exec(ctx, query,
		order.ID,
		int64(order.NextExecutionTime),
		int32(order.ExecutedOccurrences),
		order.Active,
		order.Status,
		int64(order.LastExecutionTime),
		order.EscrowReleased,
	)
	if err != nil {
		return fmt.Errorf("failed to update order: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", types.ErrOrderNotFound, order.ID)
	}
	return nil
}

func (p *PostgresBackend) UpdateOrderGuarded(ctx context.Context, order *types.ScheduledOrder, prevExecuted uint32) (bool, error) {
	query := `
		UPDATE orders
		SET next_execution_time = $2,
		    executed_occurrences = $3,
		    active = $4,
		    status = $5,
		    last_execution_time = $6,
		    escrow_released = $7,
		    updated_at = NOW()
		WHERE id = $1 AND active = TRUE AND executed_occurrences = $8`

	tag, err := p.pool.Exec(ctx, query,
		order.ID,
		int64(order.NextExecutionTime),
		int32(order.ExecutedOccurrences),
		order.Active,
		order.Status,
		int64(order.LastExecutionTime),
		order.EscrowReleased,
		int32(prevExecuted),
	)
	if err != nil {
		return false, fmt.Errorf("failed to update order: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (p *PostgresBackend) GetUserOrderIDs(ctx context.Context, owner string) ([]string, error) {
	query := `SELECT id FROM orders WHERE owner = $1 ORDER BY created_at`

	rows, err := p.pool.Query(ctx, query, owner)
	if err != nil {
		return nil, fmt.Errorf("failed to get user orders: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (p *PostgresBackend) GetActiveOrders(ctx context.Context) ([]types.ScheduledOrder, error) {
	query := `SELECT` + orderColumns + ` FROM orders WHERE active ORDER BY created_at`
	return p.queryOrders(ctx, query)
}

func (p *PostgresBackend) GetUnreleasedOrders(ctx context.Context) ([]types.ScheduledOrder, error) {
	query := `SELECT` + orderColumns + ` FROM orders WHERE NOT active AND NOT escrow_released ORDER BY created_at`
	return p.queryOrders(ctx, query)
}

func (p *PostgresBackend) queryOrders(ctx context.Context, query string) ([]types.ScheduledOrder, error) {
	rows, err := p.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}
	defer rows.Close()

	var orders []types.ScheduledOrder
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *order)
	}
	return orders, rows.Err()
}
