package revenue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/accordproto/accord/internal/amount"
)

// PostgresStore persists revenue state in PostgreSQL. The accrual
// balances live in a single-row table so pool drains stay atomic against
// concurrent accruals.
type PostgresStore struct {
	db *sql.DB
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a store backed by the given database.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const shareColumns = `recipient_address, participation_tokens, contribution_score,
	accumulated_rewards, last_claim_period, updated_at`

// UpsertShare inserts or replaces a holder's share.
func (s *PostgresStore) UpsertShare(ctx context.Context, share *Share) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revenue_shares (`+shareColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (recipient_address) DO UPDATE SET
			participation_tokens = EXCLUDED.participation_tokens,
			contribution_score   = EXCLUDED.contribution_score,
			accumulated_rewards  = EXCLUDED.accumulated_rewards,
			last_claim_period    = EXCLUDED.last_claim_period,
			updated_at           = EXCLUDED.updated_at`,
		share.RecipientAddress,
		int64(share.ParticipationTokens),
		share.ContributionScore,
		share.AccumulatedRewards,
		int64(share.LastClaimPeriod),
		share.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert share: %w", err)
	}
	return nil
}

// GetShare returns a holder's share.
func (s *PostgresStore) GetShare(ctx context.Context, recipient string) (*Share, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+shareColumns+`
		FROM revenue_shares
		WHERE recipient_address = $1`, recipient)
	share, err := scanShare(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrShareNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get share: %w", err)
	}
	return share, nil
}

// ListShares returns every holder ordered by recipient address.
func (s *PostgresStore) ListShares(ctx context.Context) ([]*Share, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+shareColumns+`
		FROM revenue_shares
		ORDER BY recipient_address ASC`)
	if err != nil {
		return nil, fmt.Errorf("list shares: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*Share
	for rows.Next() {
		share, err := scanShare(rows)
		if err != nil {
			return nil, fmt.Errorf("scan share: %w", err)
		}
		out = append(out, share)
	}
	return out, rows.Err()
}

// AddAccrual adds deltas to the pool and treasury balances.
func (s *PostgresStore) AddAccrual(ctx context.Context, poolDelta, treasuryDelta string) error {
	if _, ok := amount.Parse(poolDelta); !ok {
		return ErrInvalidAmount
	}
	if _, ok := amount.Parse(treasuryDelta); !ok {
		return ErrInvalidAmount
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE revenue_accrual
		SET pool_balance     = pool_balance + $1::numeric,
		    treasury_balance = treasury_balance + $2::numeric,
		    updated_at       = $3
		WHERE singleton`, poolDelta, treasuryDelta, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("add accrual: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("add accrual: %w", err)
	}
	if n == 0 {
		return errors.New("revenue: accrual row missing")
	}
	return nil
}

// PoolStatus reports the current pool and treasury balances.
func (s *PostgresStore) PoolStatus(ctx context.Context) (*PoolStatus, error) {
	var st PoolStatus
	err := s.db.QueryRowContext(ctx, `
		SELECT pool_balance, treasury_balance, updated_at
		FROM revenue_accrual
		WHERE singleton`).Scan(&st.PoolBalance, &st.TreasuryBalance, &st.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("pool status: %w", err)
	}
	st.PoolBalance = normalizeNumeric(st.PoolBalance)
	st.TreasuryBalance = normalizeNumeric(st.TreasuryBalance)
	return &st, nil
}

// DrainPool zeroes the pool balance and returns the drained amount. The
// self-join reads the pre-update row, so the read and the zeroing are one
// atomic statement.
func (s *PostgresStore) DrainPool(ctx context.Context) (string, error) {
	var drained string
	err := s.db.QueryRowContext(ctx, `
		UPDATE revenue_accrual AS r
		SET pool_balance = 0, updated_at = $1
		FROM revenue_accrual AS old
		WHERE r.singleton = old.singleton
		RETURNING old.pool_balance`, time.Now().UTC()).Scan(&drained)
	if err != nil {
		return "", fmt.Errorf("drain pool: %w", err)
	}
	return normalizeNumeric(drained), nil
}

// CreateDistribution records a completed round.
func (s *PostgresStore) CreateDistribution(ctx context.Context, d *Distribution) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revenue_distributions (period_id, total_revenue, holder_count, remainder, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		int64(d.PeriodID), d.TotalRevenue, d.HolderCount, d.Remainder, d.CreatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrAlreadyDistributed
		}
		return fmt.Errorf("create distribution: %w", err)
	}
	return nil
}

// LatestDistribution returns the most recent round, or nil when none.
func (s *PostgresStore) LatestDistribution(ctx context.Context) (*Distribution, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT period_id, total_revenue, holder_count, remainder, created_at
		FROM revenue_distributions
		ORDER BY period_id DESC
		LIMIT 1`)
	d, err := scanDistribution(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest distribution: %w", err)
	}
	return d, nil
}

// ListDistributions returns recent rounds, newest first.
func (s *PostgresStore) ListDistributions(ctx context.Context, limit int) ([]*Distribution, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT period_id, total_revenue, holder_count, remainder, created_at
		FROM revenue_distributions
		ORDER BY period_id DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list distributions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*Distribution
	for rows.Next() {
		d, err := scanDistribution(rows)
		if err != nil {
			return nil, fmt.Errorf("scan distribution: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// CreateClaim appends a claim record and assigns its ID.
func (s *PostgresStore) CreateClaim(ctx context.Context, claim *Claim) error {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO revenue_claims (recipient_address, amount, period_id, tx_ref, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`,
		claim.RecipientAddress, claim.Amount, int64(claim.PeriodID), claim.TxRef, claim.CreatedAt,
	).Scan(&claim.ID)
	if err != nil {
		return fmt.Errorf("create claim: %w", err)
	}
	return nil
}

// ListClaims returns a recipient's claims, newest first.
func (s *PostgresStore) ListClaims(ctx context.Context, recipient string, limit int) ([]*Claim, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, recipient_address, amount, period_id, tx_ref, created_at
		FROM revenue_claims
		WHERE recipient_address = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2`, recipient, limit)
	if err != nil {
		return nil, fmt.Errorf("list claims: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*Claim
	for rows.Next() {
		var c Claim
		var period int64
		if err := rows.Scan(&c.ID, &c.RecipientAddress, &c.Amount, &period, &c.TxRef, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan claim: %w", err)
		}
		c.PeriodID = uint64(period)
		c.Amount = normalizeNumeric(c.Amount)
		out = append(out, &c)
	}
	return out, rows.Err()
}

// ---- Helpers ----

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanShare(row rowScanner) (*Share, error) {
	var share Share
	var tokens, lastPeriod int64
	err := row.Scan(
		&share.RecipientAddress,
		&tokens,
		&share.ContributionScore,
		&share.AccumulatedRewards,
		&lastPeriod,
		&share.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	share.ParticipationTokens = uint64(tokens)
	share.LastClaimPeriod = uint64(lastPeriod)
	share.AccumulatedRewards = normalizeNumeric(share.AccumulatedRewards)
	return &share, nil
}

func scanDistribution(row rowScanner) (*Distribution, error) {
	var d Distribution
	var period int64
	err := row.Scan(&period, &d.TotalRevenue, &d.HolderCount, &d.Remainder, &d.CreatedAt)
	if err != nil {
		return nil, err
	}
	d.PeriodID = uint64(period)
	d.TotalRevenue = normalizeNumeric(d.TotalRevenue)
	d.Remainder = normalizeNumeric(d.Remainder)
	return &d, nil
}

// normalizeNumeric re-canonicalizes a NUMERIC column value into the
// engine's fixed six-decimal string form.
func normalizeNumeric(s string) string {
	if v, ok := amount.Parse(s); ok {
		return amount.Format(v)
	}
	return s
}
