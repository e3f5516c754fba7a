package listing

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const costumeColumns = "id, seller_id, title, description, category, size, condition, price, images, status, created_at, updated_at"

type Repository interface {
	Create(ctx context.Context, costume *Costume) error
	GetByID(ctx context.Context, id uuid.UUID) (*Costume, error)
	Update(ctx context.Context, costume *Costume) error
	Delete(ctx context.Context, id uuid.UUID) error
	AppendImage(ctx context.Context, id uuid.UUID, imageURL string) error
	Search(ctx context.Context, f Filter) ([]Costume, int, error)
}

type postgresRepository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) Repository {
	return &postgresRepository{db: db}
}

func (r *postgresRepository) Create(ctx context.Context, costume *Costume) error {
	if costume.ID == uuid.Nil {
		id, err := uuid.NewV4()
		if err != nil {
			return fmt.Errorf("repository: failed to generate costume id: %w", err)
		}
		costume.ID = id
	}
	if costume.Images == nil {
		costume.Images = pq.StringArray{}
	}
	now := time.Now().UTC()
	costume.CreatedAt = now
	costume.UpdatedAt = now

	query := `
		INSERT INTO costumes (id, seller_id, title, description, category, size, condition, price, images, status, created_at, updated_at)
		VALUES (:id, :seller_id, :title, :description, :category, :size, :condition, :price, :images, :status, :created_at, :updated_at)
	`
	if _, err := r.db.NamedExecContext(ctx, query, costume); err != nil {
		return fmt.Errorf("repository: failed to insert costume: %w", err)
	}
	return nil
}

func (r *postgresRepository) GetByID(ctx context.Context, id uuid.UUID) (*Costume, error) {
	var costume Costume
	err := r.db.GetContext(ctx, &costume, `SELECT `+costumeColumns+` FROM costumes WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("repository: failed to select costume %s: %w", id, err)
	}
	return &costume, nil
}

// Update меняет только доступное объявление; проданное считается неизменяемым.
func (r *postgresRepository) Update(ctx context.Context, costume *Costume) error {
	costume.UpdatedAt = time.Now().UTC()
	query := `
		UPDATE costumes
		SET title = :title, description = :description, category = :category, size = :size,
		    condition = :condition, price = :price, updated_at = :updated_at
		WHERE id = :id AND status = 'available'
	`
	res, err := r.db.NamedExecContext(ctx, query, costume)
	if err != nil {
		return fmt.Errorf("repository: failed to update costume %s: %w", costume.ID, err)
	}
	return r.checkAffected(ctx, res, costume.ID)
}

func (r *postgresRepository) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM costumes WHERE id = $1 AND status = 'available'`, id)
	if err != nil {
		// Отменённый заказ оставляет позиции, ссылающиеся на вернувшееся в продажу объявление.
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == pgerrcode.ForeignKeyViolation {
			return ErrHasOrderHistory
		}
		return fmt.Errorf("repository: failed to delete costume %s: %w", id, err)
	}
	return r.checkAffected(ctx, res, id)
}

func (r *postgresRepository) AppendImage(ctx context.Context, id uuid.UUID, imageURL string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE costumes
		SET images = array_append(images, $2), updated_at = NOW()
		WHERE id = $1 AND cardinality(images) < $3
	`, id, imageURL, MaxImages)
	if err != nil {
		return fmt.Errorf("repository: failed to append image to costume %s: %w", id, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("repository: failed to read affected rows: %w", err)
	}
	if n == 0 {
		if _, err := r.GetByID(ctx, id); err != nil {
			return err
		}
		return ErrTooManyImages
	}
	return nil
}

func (r *postgresRepository) Search(ctx context.Context, f Filter) ([]Costume, int, error) {
	q := buildSearchQuery(f)

	countSQL, countArgs, err := sqlx.Named(q.countSQL(), q.args)
	if err != nil {
		return nil, 0, fmt.Errorf("repository: failed to bind count query: %w", err)
	}
	var total int
	if err := r.db.GetContext(ctx, &total, r.db.Rebind(countSQL), countArgs...); err != nil {
		return nil, 0, fmt.Errorf("repository: failed to count costumes: %w", err)
	}
	if total == 0 {
		return []Costume{}, 0, nil
	}

	selectSQL, selectArgs, err := sqlx.Named(q.selectSQL(f.Limit, f.Offset()), q.args)
	if err != nil {
		return nil, 0, fmt.Errorf("repository: failed to bind search query: %w", err)
	}
	costumes := make([]Costume, 0, f.Limit)
	if err := r.db.SelectContext(ctx, &costumes, r.db.Rebind(selectSQL), selectArgs...); err != nil {
		return nil, 0, fmt.Errorf("repository: failed to search costumes: %w", err)
	}
	return costumes, total, nil
}

// checkAffected различает "нет такого объявления" и "объявление уже продано".
func (r *postgresRepository) checkAffected(ctx context.Context, res sql.Result, id uuid.UUID) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("repository: failed to read affected rows: %w", err)
	}
	if n > 0 {
		return nil
	}
	if _, err := r.GetByID(ctx, id); err != nil {
		return err
	}
	return ErrAlreadySold
}
