// Package repository содержит реализацию доступа к документному
// хранилищу в PostgreSQL. Атомарность изменения отдельного заказа
// делегируется базе; оптимистические блокировки на этом уровне
// не реализуются.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/mmeshcher/restopos-system/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrOrderNotFound возвращается, если заказ не найден.
var (
	ErrOrderNotFound = errors.New("order not found")
	// ErrOrderLocked возвращается при попытке изменить проведённый
	// или отменённый заказ.
	ErrOrderLocked = errors.New("order is locked")
	// ErrTableOccupied возвращается, если на стол уже ссылается
	// другой незавершённый заказ.
	ErrTableOccupied = errors.New("table already has an active order")
	// ErrCouponNotFound возвращается, если купон не найден.
	ErrCouponNotFound = errors.New("coupon not found")
)

const activeTableIndex = "orders_active_table_idx"

// PostgresRepository предоставляет доступ к хранилищу данных POS.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует
// схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

func (r *PostgresRepository) withRetry(ctx context.Context, fn func() error) error {
	var err error
	delays := []time.Duration{1 * time.Second, 3 * time.Second, 5 * time.Second}

	for i := 0; i <= len(delays); i++ {
		err = fn()
		if err == nil {
			return nil
		}

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			if pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected {
				if i < len(delays) {
					time.Sleep(delays[i])
					continue
				}
			}
		}

		if isConnectionError(err) {
			if i < len(delays) {
				time.Sleep(delays[i])
				continue
			}
		}

		break
	}
	return err
}

func isConnectionError(err error) bool {
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// CreateOrder сохраняет новый заказ вместе с позициями и возвращает
// присвоенное имя документа. Нарушение частичного уникального индекса
// по столу транслируется в ErrTableOccupied.
func (r *PostgresRepository) CreateOrder(ctx context.Context, o *model.Order) (string, error) {
	var name string

	err := r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		var id int64
		err = tx.QueryRow(ctx,
			`INSERT INTO orders
			    (channel, status, discount_type, discount, tax, total,
			     table_no, customer, is_paid, docstatus, remarks)
			 VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8, $9, $10, $11)
			 RETURNING id`,
			string(o.Channel), string(o.Status), string(o.DiscountType),
			o.DiscountCents, o.TaxCents, o.TotalCents,
			o.TableNo, o.Customer, o.IsPaid, o.Docstatus, o.Remarks,
		).Scan(&id)
		if err != nil {
			return translateTableConflict(fmt.Errorf("insert order: %w", err))
		}

		name = fmt.Sprintf("ORD-%06d", id)
		if _, err := tx.Exec(ctx, `UPDATE orders SET name = $1 WHERE id = $2`, name, id); err != nil {
			return fmt.Errorf("assign order name: %w", err)
		}

		for _, it := range o.Items {
			_, err := tx.Exec(ctx,
				`INSERT INTO order_items (order_id, item_code, qty, rate, complimentary, takeaway)
				 VALUES ($1, $2, $3, $4, $5, $6)`,
				id, it.ItemCode, it.Qty, it.RateCents, it.Complimentary, it.Takeaway,
			)
			if err != nil {
				return fmt.Errorf("insert order item: %w", err)
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return translateTableConflict(fmt.Errorf("commit tx: %w", err))
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	o.Name = name
	return name, nil
}

func translateTableConflict(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) &&
		pgErr.Code == pgerrcode.UniqueViolation &&
		pgErr.ConstraintName == activeTableIndex {
		return ErrTableOccupied
	}
	return err
}

const orderColumns = `name, channel, status, discount_type, discount, tax, total,
	COALESCE(table_no, ''), customer, is_paid, docstatus, remarks, created_at, updated_at`

func scanOrder(row pgx.Row) (*model.Order, error) {
	var o model.Order
	var channel, status, discountType string
	err := row.Scan(
		&o.Name, &channel, &status, &discountType,
		&o.DiscountCents, &o.TaxCents, &o.TotalCents,
		&o.TableNo, &o.Customer, &o.IsPaid, &o.Docstatus, &o.Remarks,
		&o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	o.Channel = model.Channel(channel)
	o.Status = model.OrderStatus(status)
	o.DiscountType = model.DiscountType(discountType)
	return &o, nil
}

// GetOrder возвращает заказ с позициями по имени документа.
func (r *PostgresRepository) GetOrder(ctx context.Context, name string) (*model.Order, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE name = $1`, name)

	o, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}

	items, err := r.orderItems(ctx, name)
	if err != nil {
		return nil, err
	}
	o.Items = items

	return o, nil
}

func (r *PostgresRepository) orderItems(ctx context.Context, name string) ([]model.LineItem, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT i.item_code, i.qty, i.rate, i.complimentary, i.takeaway
		 FROM order_items i
		 JOIN orders o ON o.id = i.order_id
		 WHERE o.name = $1
		 ORDER BY i.id`,
		name,
	)
	if err != nil {
		return nil, fmt.Errorf("select order items: %w", err)
	}
	defer rows.Close()

	var items []model.LineItem
	for rows.Next() {
		var it model.LineItem
		if err := rows.Scan(&it.ItemCode, &it.Qty, &it.RateCents, &it.Complimentary, &it.Takeaway); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return items, nil
}

// UpdateOrder сохраняет изменённые статус, скидку, итоги и флаги заказа.
// Проведённые и отменённые заказы неизменяемы: попытка их обновить
// возвращает ErrOrderLocked.
func (r *PostgresRepository) UpdateOrder(ctx context.Context, o *model.Order) error {
	return r.withRetry(ctx, func() error {
		tag, err := r.pool.Exec(ctx,
			`UPDATE orders
			 SET status = $2, discount_type = $3, discount = $4, tax = $5,
			     total = $6, is_paid = $7, docstatus = $8, updated_at = now()
			 WHERE name = $1 AND docstatus = 0`,
			o.Name, string(o.Status), string(o.DiscountType),
			o.DiscountCents, o.TaxCents, o.TotalCents, o.IsPaid, o.Docstatus,
		)
		if err != nil {
			return fmt.Errorf("update order: %w", err)
		}

		if tag.RowsAffected() == 0 {
			var exists bool
			if err := r.pool.QueryRow(ctx,
				`SELECT EXISTS (SELECT 1 FROM orders WHERE name = $1)`, o.Name,
			).Scan(&exists); err != nil {
				return fmt.Errorf("check order: %w", err)
			}
			if !exists {
				return ErrOrderNotFound
			}
			return ErrOrderLocked
		}
		return nil
	})
}

// ListLiveOrders возвращает все заказы в неконечных состояниях вместе
// с позициями, в порядке создания.
func (r *PostgresRepository) ListLiveOrders(ctx context.Context) ([]model.Order, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+orderColumns+`
		 FROM orders
		 WHERE status NOT IN ($1, $2)
		 ORDER BY created_at`,
		string(model.StatusCompleted), string(model.StatusCanceled),
	)
	if err != nil {
		return nil, fmt.Errorf("select live orders: %w", err)
	}
	defer rows.Close()

	var orders []model.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, *o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	for i := range orders {
		items, err := r.orderItems(ctx, orders[i].Name)
		if err != nil {
			return nil, err
		}
		orders[i].Items = items
	}

	return orders, nil
}

// ListTables возвращает все столы зала.
func (r *PostgresRepository) ListTables(ctx context.Context) ([]model.DiningTable, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT name, floor, seats, shape FROM dining_tables ORDER BY floor, name`)
	if err != nil {
		return nil, fmt.Errorf("select tables: %w", err)
	}
	defer rows.Close()

	var tables []model.DiningTable
	for rows.Next() {
		var t model.DiningTable
		if err := rows.Scan(&t.Name, &t.Floor, &t.Seats, &t.Shape); err != nil {
			return nil, fmt.Errorf("scan table: %w", err)
		}
		tables = append(tables, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return tables, nil
}

// GetCoupon возвращает купон по коду.
func (r *PostgresRepository) GetCoupon(ctx context.Context, code string) (*model.Coupon, error) {
	var c model.Coupon
	var discountType string
	err := r.pool.QueryRow(ctx,
		`SELECT code, discount_type, value FROM coupons WHERE code = $1`, code,
	).Scan(&c.Code, &discountType, &c.Value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCouponNotFound
		}
		return nil, fmt.Errorf("get coupon: %w", err)
	}
	c.Type = model.DiscountType(discountType)
	return &c, nil
}

// DiscountCeiling возвращает максимальный потолок скидки среди ролей
// вызывающего, в минорных единицах. Для неизвестных ролей потолок нулевой.
func (r *PostgresRepository) DiscountCeiling(ctx context.Context, roles []model.Role) (int64, error) {
	names := make([]string, 0, len(roles))
	for _, role := range roles {
		names = append(names, string(role))
	}

	var ceiling int64
	err := r.pool.QueryRow(ctx,
		`SELECT COALESCE(MAX(max_discount), 0) FROM discount_policy WHERE role = ANY($1)`,
		names,
	).Scan(&ceiling)
	if err != nil {
		return 0, fmt.Errorf("discount ceiling: %w", err)
	}
	return ceiling, nil
}
