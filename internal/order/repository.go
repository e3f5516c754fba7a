package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog/log"
)

type Repository interface {
	// PlaceOrder в одной транзакции блокирует объявления, создаёт заказ с позициями
	// по ценам из базы и помечает объявления проданными.
	PlaceOrder(ctx context.Context, buyerID uuid.UUID, costumeIDs []uuid.UUID, shipping ShippingAddress) (*Order, error)
	// CancelAndRelease отменяет неоплаченный заказ в статусе processing и возвращает объявления в продажу.
	CancelAndRelease(ctx context.Context, orderID uuid.UUID) error
	// MarkPaid фиксирует оплату. Отменённый заказ оплаченным не становится.
	MarkPaid(ctx context.Context, orderID uuid.UUID) error
	GetOrderByID(ctx context.Context, id uuid.UUID) (*Order, error)
	GetOrdersByBuyerID(ctx context.Context, buyerID uuid.UUID) ([]Order, error)
	GetSalesBySellerID(ctx context.Context, sellerID uuid.UUID) ([]Sale, error)
	UpdateOrderStatus(ctx context.Context, orderID uuid.UUID, from, to OrderStatus) error
	SetPaymentIntent(ctx context.Context, orderID uuid.UUID, intentID string) error
}

type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type postgresRepository struct {
	db DB
}

func NewRepository(db DB) Repository {
	return &postgresRepository{db: db}
}

func (r *postgresRepository) withTx(ctx context.Context, orderID uuid.UUID, fn func(tx pgx.Tx) error) (err error) {
	tx, beginErr := r.db.Begin(ctx)
	if beginErr != nil {
		return fmt.Errorf("repository: failed to begin transaction: %w", beginErr)
	}
	defer func() {
		if p := recover(); p != nil {
			log.Error().Interface("panic_value", p).Stringer("order_id", orderID).Msg("repository: panic recovered in transaction, rolling back")
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				log.Error().Err(rbErr).Stringer("order_id", orderID).Msg("repository: failed to rollback transaction after panic")
			}
			panic(p)
		} else if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				log.Error().Err(rbErr).Stringer("order_id", orderID).Msg("repository: failed to rollback transaction")
			}
		} else if commitErr := tx.Commit(ctx); commitErr != nil {
			log.Error().Err(commitErr).Stringer("order_id", orderID).Msg("repository: failed to commit transaction")
			err = fmt.Errorf("repository: failed to commit transaction: %w", commitErr)
		}
	}()

	return fn(tx)
}

func (r *postgresRepository) PlaceOrder(ctx context.Context, buyerID uuid.UUID, costumeIDs []uuid.UUID, shipping ShippingAddress) (*Order, error) {
	orderID, err := uuid.NewV4()
	if err != nil {
		return nil, fmt.Errorf("repository: failed to generate order ID: %w", err)
	}

	order := &Order{
		ID:       orderID,
		BuyerID:  buyerID,
		Status:   StatusProcessing,
		Shipping: shipping,
	}

	err = r.withTx(ctx, orderID, func(tx pgx.Tx) error {
		locked, err := lockAvailable(ctx, tx, costumeIDs)
		if err != nil {
			return err
		}
		if len(locked) != len(costumeIDs) {
			return ErrItemsUnavailable
		}

		items := make([]OrderItem, 0, len(costumeIDs))
		for _, id := range costumeIDs {
			item := locked[id]
			if item.SellerID == buyerID {
				return ErrOwnListing
			}
			itemID, err := uuid.NewV4()
			if err != nil {
				return fmt.Errorf("repository: failed to generate order item ID: %w", err)
			}
			item.ID = itemID
			item.OrderID = orderID
			items = append(items, item)
		}

		now := time.Now().UTC()
		order.Items = items
		order.TotalPrice = TotalOf(items)
		order.CreatedAt = now
		order.UpdatedAt = now

		_, err = tx.Exec(ctx, `
			INSERT INTO orders (id, buyer_id, total_price, status,
			                    ship_name, ship_line1, ship_line2, ship_city, ship_state, ship_postal_code, ship_country,
			                    created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		`,
			order.ID, order.BuyerID, order.TotalPrice, string(order.Status),
			shipping.Name, shipping.Line1, shipping.Line2, shipping.City, shipping.State, shipping.PostalCode, shipping.Country,
			order.CreatedAt, order.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("repository: failed to insert order: %w", err)
		}

		for i := range order.Items {
			item := &order.Items[i]
			item.CreatedAt = now
			_, err = tx.Exec(ctx, `
				INSERT INTO order_items (id, order_id, costume_id, seller_id, title, price_at_purchase, quantity, created_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			`, item.ID, item.OrderID, item.CostumeID, item.SellerID, item.Title, item.PriceAtPurchase, item.Quantity, item.CreatedAt)
			if err != nil {
				return fmt.Errorf("repository: failed to insert order item for order %s: %w", orderID, err)
			}
		}

		tag, err := tx.Exec(ctx, `
			UPDATE costumes SET status = 'sold', updated_at = NOW()
			WHERE id = ANY($1) AND status = 'available'
		`, uuidArray(costumeIDs))
		if err != nil {
			return fmt.Errorf("repository: failed to mark costumes sold: %w", err)
		}
		if tag.RowsAffected() != int64(len(costumeIDs)) {
			return ErrItemsUnavailable
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return order, nil
}

// lockAvailable берёт блокировки строк в порядке id, чтобы параллельные оформления не взаимоблокировались.
func lockAvailable(ctx context.Context, tx pgx.Tx, ids []uuid.UUID) (map[uuid.UUID]OrderItem, error) {
	rows, err := tx.Query(ctx, `
		SELECT id, seller_id, title, price
		FROM costumes
		WHERE id = ANY($1) AND status = 'available'
		ORDER BY id
		FOR UPDATE
	`, uuidArray(ids))
	if err != nil {
		return nil, fmt.Errorf("repository: failed to lock costumes: %w", err)
	}
	defer rows.Close()

	locked := make(map[uuid.UUID]OrderItem, len(ids))
	for rows.Next() {
		item := OrderItem{Quantity: 1}
		if err := rows.Scan(&item.CostumeID, &item.SellerID, &item.Title, &item.PriceAtPurchase); err != nil {
			return nil, fmt.Errorf("repository: failed to scan locked costume: %w", err)
		}
		locked[item.CostumeID] = item
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: error iterating locked costumes: %w", err)
	}
	return locked, nil
}

func (r *postgresRepository) CancelAndRelease(ctx context.Context, orderID uuid.UUID) error {
	return r.withTx(ctx, orderID, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE orders SET status = 'cancelled', updated_at = NOW()
			WHERE id = $1 AND status = 'processing' AND paid_at IS NULL
		`, orderID)
		if err != nil {
			return fmt.Errorf("repository: failed to cancel order %s: %w", orderID, err)
		}
		if tag.RowsAffected() == 0 {
			return cancelRefused(ctx, tx, orderID)
		}

		_, err = tx.Exec(ctx, `
			UPDATE costumes SET status = 'available', updated_at = NOW()
			WHERE status = 'sold' AND id IN (SELECT costume_id FROM order_items WHERE order_id = $1)
		`, orderID)
		if err != nil {
			return fmt.Errorf("repository: failed to release costumes of order %s: %w", orderID, err)
		}
		return nil
	})
}

// cancelRefused объясняет, почему заказ не удалось отменить.
func cancelRefused(ctx context.Context, q rowQuerier, orderID uuid.UUID) error {
	var (
		status OrderStatus
		paidAt *time.Time
	)
	err := q.QueryRow(ctx, `SELECT status, paid_at FROM orders WHERE id = $1`, orderID).Scan(&status, &paidAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrOrderNotFound
		}
		return fmt.Errorf("repository: failed to check order %s: %w", orderID, err)
	}
	if status == StatusProcessing && paidAt != nil {
		return ErrOrderPaid
	}
	return ErrInvalidStatusTransition
}

func (r *postgresRepository) MarkPaid(ctx context.Context, orderID uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE orders SET paid_at = COALESCE(paid_at, NOW()), updated_at = NOW()
		WHERE id = $1 AND status <> 'cancelled'
	`, orderID)
	if err != nil {
		return fmt.Errorf("repository: failed to mark order %s paid: %w", orderID, err)
	}
	if tag.RowsAffected() == 0 {
		err := missingOrStale(ctx, r.db, orderID)
		if errors.Is(err, ErrInvalidStatusTransition) {
			return ErrOrderCancelled
		}
		return err
	}
	return nil
}

type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// missingOrStale объясняет, почему условный UPDATE не затронул ни одной строки.
func missingOrStale(ctx context.Context, q rowQuerier, orderID uuid.UUID) error {
	var exists bool
	if err := q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`, orderID).Scan(&exists); err != nil {
		return fmt.Errorf("repository: failed to check order %s: %w", orderID, err)
	}
	if !exists {
		return ErrOrderNotFound
	}
	return ErrInvalidStatusTransition
}

const selectOrderColumns = `
	SELECT id, buyer_id, status, total_price,
	       ship_name, ship_line1, ship_line2, ship_city, ship_state, ship_postal_code, ship_country,
	       payment_intent_id, paid_at, created_at, updated_at
	FROM orders
`

func scanOrder(row pgx.Row) (*Order, error) {
	var o Order
	err := row.Scan(
		&o.ID,
		&o.BuyerID,
		&o.Status,
		&o.TotalPrice,
		&o.Shipping.Name,
		&o.Shipping.Line1,
		&o.Shipping.Line2,
		&o.Shipping.City,
		&o.Shipping.State,
		&o.Shipping.PostalCode,
		&o.Shipping.Country,
		&o.PaymentIntentID,
		&o.PaidAt,
		&o.CreatedAt,
		&o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (r *postgresRepository) GetOrderByID(ctx context.Context, orderID uuid.UUID) (*Order, error) {
	order, err := scanOrder(r.db.QueryRow(ctx, selectOrderColumns+` WHERE id = $1`, orderID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("repository: failed to select order by id %s: %w", orderID, err)
	}

	items, err := r.itemsByOrderIDs(ctx, []uuid.UUID{orderID})
	if err != nil {
		return nil, err
	}
	order.Items = items[orderID]
	return order, nil
}

func (r *postgresRepository) GetOrdersByBuyerID(ctx context.Context, buyerID uuid.UUID) ([]Order, error) {
	rows, err := r.db.Query(ctx, selectOrderColumns+` WHERE buyer_id = $1 ORDER BY created_at DESC`, buyerID)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to query orders for buyer %s: %w", buyerID, err)
	}
	defer rows.Close()

	orders := make([]Order, 0)
	ids := make([]uuid.UUID, 0)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("repository: failed to scan order for buyer %s: %w", buyerID, err)
		}
		orders = append(orders, *o)
		ids = append(ids, o.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: error iterating orders for buyer %s: %w", buyerID, err)
	}
	if len(orders) == 0 {
		return orders, nil
	}

	items, err := r.itemsByOrderIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range orders {
		orders[i].Items = items[orders[i].ID]
	}
	return orders, nil
}

func (r *postgresRepository) itemsByOrderIDs(ctx context.Context, orderIDs []uuid.UUID) (map[uuid.UUID][]OrderItem, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, order_id, costume_id, seller_id, title, price_at_purchase, quantity, created_at
		FROM order_items
		WHERE order_id = ANY($1)
		ORDER BY created_at, id
	`, uuidArray(orderIDs))
	if err != nil {
		return nil, fmt.Errorf("repository: failed to query order items: %w", err)
	}
	defer rows.Close()

	result := make(map[uuid.UUID][]OrderItem, len(orderIDs))
	for rows.Next() {
		var item OrderItem
		err := rows.Scan(
			&item.ID,
			&item.OrderID,
			&item.CostumeID,
			&item.SellerID,
			&item.Title,
			&item.PriceAtPurchase,
			&item.Quantity,
			&item.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("repository: failed to scan order item: %w", err)
		}
		result[item.OrderID] = append(result[item.OrderID], item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: error iterating order items: %w", err)
	}
	return result, nil
}

func (r *postgresRepository) GetSalesBySellerID(ctx context.Context, sellerID uuid.UUID) ([]Sale, error) {
	rows, err := r.db.Query(ctx, `
		SELECT o.id, o.status, i.costume_id, i.title, i.price_at_purchase,
		       o.ship_name, o.ship_line1, o.ship_line2, o.ship_city, o.ship_state, o.ship_postal_code, o.ship_country,
		       o.created_at
		FROM order_items i
		JOIN orders o ON o.id = i.order_id
		WHERE i.seller_id = $1
		ORDER BY o.created_at DESC, i.id
	`, sellerID)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to query sales for seller %s: %w", sellerID, err)
	}
	defer rows.Close()

	sales := make([]Sale, 0)
	for rows.Next() {
		var s Sale
		err := rows.Scan(
			&s.OrderID,
			&s.OrderStatus,
			&s.CostumeID,
			&s.Title,
			&s.PriceAtPurchase,
			&s.Shipping.Name,
			&s.Shipping.Line1,
			&s.Shipping.Line2,
			&s.Shipping.City,
			&s.Shipping.State,
			&s.Shipping.PostalCode,
			&s.Shipping.Country,
			&s.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("repository: failed to scan sale for seller %s: %w", sellerID, err)
		}
		sales = append(sales, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: error iterating sales for seller %s: %w", sellerID, err)
	}
	return sales, nil
}

func (r *postgresRepository) UpdateOrderStatus(ctx context.Context, orderID uuid.UUID, from, to OrderStatus) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE orders SET status = $3, updated_at = NOW()
		WHERE id = $1 AND status = $2
	`, orderID, string(from), string(to))
	if err != nil {
		return fmt.Errorf("repository: failed to update status for order %s: %w", orderID, err)
	}
	if tag.RowsAffected() == 0 {
		return missingOrStale(ctx, r.db, orderID)
	}
	return nil
}

func (r *postgresRepository) SetPaymentIntent(ctx context.Context, orderID uuid.UUID, intentID string) error {
	tag, err := r.db.Exec(ctx, `UPDATE orders SET payment_intent_id = $2, updated_at = NOW() WHERE id = $1`, orderID, intentID)
	if err != nil {
		return fmt.Errorf("repository: failed to set payment intent for order %s: %w", orderID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrOrderNotFound
	}
	return nil
}

func uuidArray(ids []uuid.UUID) [][16]byte {
	out := make([][16]byte, len(ids))
	for i, id := range ids {
		out[i] = id
	}
	return out
}
