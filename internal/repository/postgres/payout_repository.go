package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	domainErrors "github.com/cassiomorais/payouts/internal/domain/errors"
	"github.com/cassiomorais/payouts/internal/domain/masspay"
	"github.com/cassiomorais/payouts/internal/domain/payout"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const payoutColumns = `id, idempotency_key, provider, receiver_type, currency, email_subject,
	recipients, status, correlation_ids, submitted_recipients, retry_count, max_retries,
	last_error, created_at, updated_at, completed_at, version`

// allowedSortColumns is a whitelist of columns valid for ORDER BY.
var allowedSortColumns = map[string]string{
	"created_at":      "created_at",
	"updated_at":      "updated_at",
	"status":          "status",
	"total_amount":    "total_amount",
	"recipient_count": "recipient_count",
}

// PayoutRepository implements payout.Repository using PostgreSQL.
type PayoutRepository struct {
	pool *pgxpool.Pool
}

func NewPayoutRepository(pool *pgxpool.Pool) *PayoutRepository {
	return &PayoutRepository{pool: pool}
}

func (r *PayoutRepository) db(ctx context.Context) DBTX {
	return ConnFromCtx(ctx, r.pool)
}

// scanner is satisfied by both pgx.Row and pgx.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// Create inserts a new payout. A second payout with the same idempotency key
// yields ErrDuplicateIdempotencyKey.
func (r *PayoutRepository) Create(ctx context.Context, p *payout.Payout) error {
	recipients, err := json.Marshal(p.Recipients)
	if err != nil {
		return fmt.Errorf("marshal recipients: %w", err)
	}
	if p.Version == 0 {
		p.Version = 1
	}

	_, err = r.db(ctx).Exec(ctx,
		`INSERT INTO payouts
		 (id, idempotency_key, provider, receiver_type, currency, email_subject,
		  recipients, recipient_count, total_amount, status, correlation_ids, submitted_recipients,
		  retry_count, max_retries, last_error, created_at, updated_at, completed_at, version)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)`,
		p.ID, p.IdempotencyKey, string(p.Provider), string(p.ReceiverType), p.Currency, p.EmailSubject,
		recipients, len(p.Recipients), p.Total().String(), string(p.Status), correlationIDs(p), p.SubmittedRecipients,
		p.RetryCount, p.MaxRetries, p.LastError, p.CreatedAt, p.UpdatedAt, p.CompletedAt, p.Version,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return domainErrors.ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("insert payout: %w", err)
	}
	return nil
}

func (r *PayoutRepository) GetByID(ctx context.Context, id uuid.UUID) (*payout.Payout, error) {
	return scanPayout(r.db(ctx).QueryRow(ctx,
		`SELECT `+payoutColumns+` FROM payouts WHERE id = $1`, id))
}

func (r *PayoutRepository) GetByIdempotencyKey(ctx context.Context, key string) (*payout.Payout, error) {
	return scanPayout(r.db(ctx).QueryRow(ctx,
		`SELECT `+payoutColumns+` FROM payouts WHERE idempotency_key = $1`, key))
}

// Update persists the mutable state of a payout with optimistic locking: the
// row must still carry p.Version, which is then bumped. Recipients never
// change after creation.
func (r *PayoutRepository) Update(ctx context.Context, p *payout.Payout) error {
	tag, err := r.db(ctx).Exec(ctx,
		`UPDATE payouts SET
		  status=$1, correlation_ids=$2, submitted_recipients=$3, retry_count=$4,
		  last_error=$5, updated_at=$6, completed_at=$7, version=version+1
		 WHERE id=$8 AND version=$9`,
		string(p.Status), correlationIDs(p), p.SubmittedRecipients, p.RetryCount,
		p.LastError, p.UpdatedAt, p.CompletedAt, p.ID, p.Version,
	)
	if err != nil {
		return fmt.Errorf("update payout: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := r.db(ctx).QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM payouts WHERE id = $1)`, p.ID).Scan(&exists); err != nil {
			return fmt.Errorf("check payout: %w", err)
		}
		if !exists {
			return domainErrors.ErrPayoutNotFound
		}
		return domainErrors.ErrOptimisticLockFailed
	}
	p.Version++
	return nil
}

func (r *PayoutRepository) List(ctx context.Context, f payout.ListFilter) ([]*payout.Payout, error) {
	query, args := buildListQuery(f)

	rows, err := r.db(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list payouts: %w", err)
	}
	defer rows.Close()

	var payouts []*payout.Payout
	for rows.Next() {
		p, err := scanPayout(rows)
		if err != nil {
			return nil, err
		}
		payouts = append(payouts, p)
	}
	return payouts, rows.Err()
}

func buildListQuery(f payout.ListFilter) (string, []any) {
	query := `SELECT ` + payoutColumns + ` FROM payouts WHERE 1=1`
	args := []any{}
	argIdx := 1

	if f.Status != nil {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, string(*f.Status))
		argIdx++
	}
	if f.Provider != nil {
		query += fmt.Sprintf(" AND provider = $%d", argIdx)
		args = append(args, string(*f.Provider))
		argIdx++
	}
	if f.UpdatedBefore != nil {
		query += fmt.Sprintf(" AND updated_at < $%d", argIdx)
		args = append(args, *f.UpdatedBefore)
		argIdx++
	}

	sortBy := "created_at"
	if col, ok := allowedSortColumns[f.SortBy]; ok {
		sortBy = col
	}
	sortOrder := "DESC"
	if strings.EqualFold(f.SortOrder, "asc") {
		sortOrder = "ASC"
	}
	query += fmt.Sprintf(" ORDER BY %s %s", sortBy, sortOrder)

	limit := f.Limit
	if limit <= 0 {
		limit = 20
	}
	query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", argIdx, argIdx+1)
	args = append(args, limit, f.Offset)

	return query, args
}

func scanPayout(s scanner) (*payout.Payout, error) {
	p := &payout.Payout{}
	var (
		provider     string
		receiverType string
		status       string
		recipients   []byte
	)
	err := s.Scan(
		&p.ID, &p.IdempotencyKey, &provider, &receiverType, &p.Currency, &p.EmailSubject,
		&recipients, &status, &p.CorrelationIDs, &p.SubmittedRecipients, &p.RetryCount, &p.MaxRetries,
		&p.LastError, &p.CreatedAt, &p.UpdatedAt, &p.CompletedAt, &p.Version,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domainErrors.ErrPayoutNotFound
		}
		return nil, fmt.Errorf("scan payout: %w", err)
	}

	if err := json.Unmarshal(recipients, &p.Recipients); err != nil {
		return nil, fmt.Errorf("unmarshal payout recipients: %w", err)
	}
	p.Provider = payout.Provider(provider)
	p.ReceiverType = masspay.ReceiverType(receiverType)
	p.Status = payout.Status(status)
	return p, nil
}

// correlationIDs never returns nil so the NOT NULL column gets '{}'.
func correlationIDs(p *payout.Payout) []string {
	if p.CorrelationIDs == nil {
		return []string{}
	}
	return p.CorrelationIDs
}
