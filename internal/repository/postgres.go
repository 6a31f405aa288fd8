package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/goartstore/trail-module/internal/domain/lifecycle"
	"github.com/bigkaa/goartstore/trail-module/internal/domain/model"
	"github.com/bigkaa/goartstore/trail-module/internal/domain/ttl"
)

// draftColumns — список колонок в порядке scanDraft.
const draftColumns = `reference_code, owner_id, owner_email, payload, status,
	is_paid, paid_at, created_at, expires_at, version`

// postgresDraftRepo — реализация DraftRepository на PostgreSQL.
// Момент "сейчас" берётся из clock и передаётся в каждый запрос параметром.
type postgresDraftRepo struct {
	db    DBTX
	clock ttl.Clock
}

// NewPostgresDraftRepository создаёт репозиторий черновиков на PostgreSQL.
func NewPostgresDraftRepository(db DBTX, clock ttl.Clock) DraftRepository {
	return &postgresDraftRepo{db: db, clock: clock}
}

func (r *postgresDraftRepo) Create(ctx context.Context, d *model.DraftTrail) (*model.DraftTrail, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	query := `
		INSERT INTO draft_trails (reference_code, owner_id, owner_email, payload, status,
			is_paid, paid_at, created_at, expires_at, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 1)
		ON CONFLICT (reference_code) DO UPDATE
		SET owner_id = EXCLUDED.owner_id, owner_email = EXCLUDED.owner_email,
			payload = EXCLUDED.payload, status = EXCLUDED.status,
			is_paid = EXCLUDED.is_paid, paid_at = EXCLUDED.paid_at,
			created_at = EXCLUDED.created_at, expires_at = EXCLUDED.expires_at,
			version = draft_trails.version + 1
		RETURNING ` + draftColumns

	row := r.db.QueryRow(ctx, query,
		d.ReferenceCode, d.OwnerID, d.OwnerEmail, payloadArg(d), string(d.Status),
		d.IsPaid, d.PaidAt, d.CreatedAt, d.ExpiresAt,
	)
	stored, err := scanDraft(row)
	if err != nil {
		return nil, fmt.Errorf("%w: ошибка сохранения черновика: %w", ErrStorage, err)
	}
	return stored.WithDaysRemaining(r.clock.Now()), nil
}

func (r *postgresDraftRepo) Get(ctx context.Context, code string) (*model.DraftTrail, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	query := `SELECT ` + draftColumns + ` FROM draft_trails WHERE reference_code = $1`

	d, err := scanDraft(r.db.QueryRow(ctx, query, code))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: ошибка получения черновика: %w", ErrStorage, err)
	}

	now := r.clock.Now()
	if d.IsExpired(now) {
		if err := r.purge(ctx, code, now); err != nil {
			return nil, err
		}
		return nil, ErrGone
	}
	return d.WithDaysRemaining(now), nil
}

func (r *postgresDraftRepo) List(ctx context.Context) ([]*model.DraftTrail, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	now := r.clock.Now()
	if _, err := r.sweep(ctx, now); err != nil {
		return nil, err
	}
	return r.query(ctx, now, `SELECT `+draftColumns+` FROM draft_trails
		ORDER BY created_at, reference_code`)
}

func (r *postgresDraftRepo) ListByOwner(ctx context.Context, ownerEmail string) ([]*model.DraftTrail, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	now := r.clock.Now()
	if _, err := r.sweep(ctx, now); err != nil {
		return nil, err
	}
	return r.query(ctx, now, `SELECT `+draftColumns+` FROM draft_trails
		WHERE lower(owner_email) = $1
		ORDER BY created_at, reference_code`, normalizeEmail(ownerEmail))
}

func (r *postgresDraftRepo) ListByOwnerID(ctx context.Context, ownerID string) ([]*model.DraftTrail, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	now := r.clock.Now()
	if _, err := r.sweep(ctx, now); err != nil {
		return nil, err
	}
	return r.query(ctx, now, `SELECT `+draftColumns+` FROM draft_trails
		WHERE owner_id = $1
		ORDER BY created_at, reference_code`, ownerID)
}

func (r *postgresDraftRepo) UpdateStatus(ctx context.Context, code string, status lifecycle.Status, expectedVersion int64) (*model.DraftTrail, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	now := r.clock.Now()
	query := `
		UPDATE draft_trails
		SET status = $2, version = version + 1
		WHERE reference_code = $1 AND expires_at >= $3 AND ($4::bigint = 0 OR version = $4)
		RETURNING ` + draftColumns

	d, err := scanDraft(r.db.QueryRow(ctx, query, code, string(status), now, expectedVersion))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, r.explainMiss(ctx, code, now)
		}
		return nil, fmt.Errorf("%w: ошибка обновления статуса: %w", ErrStorage, err)
	}
	return d.WithDaysRemaining(now), nil
}

func (r *postgresDraftRepo) UpdatePaid(ctx context.Context, code string, isPaid bool, expectedVersion int64) (*model.DraftTrail, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	now := r.clock.Now()
	var paidAt *time.Time
	if isPaid {
		paidAt = &now
	}

	query := `
		UPDATE draft_trails
		SET is_paid = $2, paid_at = $3, version = version + 1
		WHERE reference_code = $1 AND expires_at >= $4 AND ($5::bigint = 0 OR version = $5)
		RETURNING ` + draftColumns

	d, err := scanDraft(r.db.QueryRow(ctx, query, code, isPaid, paidAt, now, expectedVersion))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, r.explainMiss(ctx, code, now)
		}
		return nil, fmt.Errorf("%w: ошибка обновления оплаты: %w", ErrStorage, err)
	}
	return d.WithDaysRemaining(now), nil
}

func (r *postgresDraftRepo) Delete(ctx context.Context, code string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	tag, err := r.db.Exec(ctx, `DELETE FROM draft_trails WHERE reference_code = $1`, code)
	if err != nil {
		return false, fmt.Errorf("%w: ошибка удаления черновика: %w", ErrStorage, err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *postgresDraftRepo) Sweep(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return r.sweep(ctx, r.clock.Now())
}

// sweep удаляет все записи, истёкшие к моменту now, одним запросом.
func (r *postgresDraftRepo) sweep(ctx context.Context, now time.Time) (int, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM draft_trails WHERE expires_at < $1`, now)
	if err != nil {
		return 0, fmt.Errorf("%w: ошибка очистки истёкших черновиков: %w", ErrStorage, err)
	}
	return int(tag.RowsAffected()), nil
}

// purge удаляет одну запись, если она истекла к моменту now.
func (r *postgresDraftRepo) purge(ctx context.Context, code string, now time.Time) error {
	_, err := r.db.Exec(ctx,
		`DELETE FROM draft_trails WHERE reference_code = $1 AND expires_at < $2`, code, now)
	if err != nil {
		return fmt.Errorf("%w: ошибка удаления истёкшего черновика: %w", ErrStorage, err)
	}
	return nil
}

// explainMiss определяет причину, по которой UPDATE не затронул строк:
// записи нет, запись истекла или версия изменилась.
func (r *postgresDraftRepo) explainMiss(ctx context.Context, code string, now time.Time) error {
	var expiresAt time.Time
	err := r.db.QueryRow(ctx,
		`SELECT expires_at FROM draft_trails WHERE reference_code = $1`, code,
	).Scan(&expiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("%w: ошибка получения черновика: %w", ErrStorage, err)
	}

	if ttl.IsExpired(expiresAt, now) {
		if err := r.purge(ctx, code, now); err != nil {
			return err
		}
		return ErrGone
	}
	return ErrConflict
}

func (r *postgresDraftRepo) query(ctx context.Context, now time.Time, sql string, args ...any) ([]*model.DraftTrail, error) {
	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: ошибка получения списка черновиков: %w", ErrStorage, err)
	}
	defer rows.Close()

	result := make([]*model.DraftTrail, 0)
	for rows.Next() {
		d, err := scanDraft(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: ошибка сканирования черновика: %w", ErrStorage, err)
		}
		result = append(result, d.WithDaysRemaining(now))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorage, err)
	}
	return result, nil
}

// scanDraft читает строку в порядке draftColumns.
func scanDraft(row pgx.Row) (*model.DraftTrail, error) {
	var (
		d       model.DraftTrail
		payload []byte
		status  string
		paidAt  *time.Time
	)
	if err := row.Scan(
		&d.ReferenceCode, &d.OwnerID, &d.OwnerEmail, &payload, &status,
		&d.IsPaid, &paidAt, &d.CreatedAt, &d.ExpiresAt, &d.Version,
	); err != nil {
		return nil, err
	}

	d.Status = lifecycle.Status(status)
	if len(payload) > 0 {
		d.Payload = payload
	}
	if paidAt != nil {
		t := paidAt.UTC()
		d.PaidAt = &t
	}
	d.CreatedAt = d.CreatedAt.UTC()
	d.ExpiresAt = d.ExpiresAt.UTC()
	return &d, nil
}

// payloadArg возвращает payload для колонки json (nil → NULL).
func payloadArg(d *model.DraftTrail) any {
	if len(d.Payload) == 0 {
		return nil
	}
	return string(d.Payload)
}

// normalizeEmail приводит email к виду для сравнения.
func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
