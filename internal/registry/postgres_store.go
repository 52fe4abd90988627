package registry

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/accordproto/accord/internal/amount"
)

// PostgresStore implements Store using PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

var _ Store = (*PostgresStore)(nil)

const profileColumns = `agent_id, owner_address, capabilities, staked_amount, stake_tier,
	payment_rate, reputation_score, total_executions, successful_executions,
	supported_networks, deactivated, created_at, updated_at`

func (p *PostgresStore) Create(ctx context.Context, profile *Profile) error {
	now := time.Now()
	profile.CreatedAt = now
	profile.UpdatedAt = now

	_, err := p.db.ExecContext(ctx, `
		INSERT INTO agents (agent_id, owner_address, capabilities, staked_amount, stake_tier,
			payment_rate, reputation_score, total_executions, successful_executions,
			supported_networks, deactivated, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $12)
	`, profile.AgentID, profile.OwnerAddress, pq.Array(profile.Capabilities),
		profile.StakedAmount, string(profile.StakeTier), nullString(profile.PaymentRate),
		profile.ReputationScore, profile.TotalExecutions, profile.SuccessfulExecutions,
		pq.Array(profile.SupportedNetworks), profile.Deactivated, now)

	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return ErrDuplicateAgent
		}
		return fmt.Errorf("failed to create agent: %w", err)
	}

	return nil
}

func (p *PostgresStore) Get(ctx context.Context, agentID string) (*Profile, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT `+profileColumns+` FROM agents WHERE agent_id = $1
	`, agentID)

	profile, err := scanProfile(row)
	if err == sql.ErrNoRows {
		return nil, ErrAgentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get agent: %w", err)
	}
	return profile, nil
}

func (p *PostgresStore) Update(ctx context.Context, profile *Profile) error {
	profile.UpdatedAt = time.Now()

	result, err := p.db.ExecContext(ctx, `
		UPDATE agents SET owner_address = $1, capabilities = $2, staked_amount = $3,
			stake_tier = $4, payment_rate = $5, reputation_score = $6,
			total_executions = $7, successful_executions = $8,
			supported_networks = $9, deactivated = $10, updated_at = $11
		WHERE agent_id = $12
	`, profile.OwnerAddress, pq.Array(profile.Capabilities), profile.StakedAmount,
		string(profile.StakeTier), nullString(profile.PaymentRate), profile.ReputationScore,
		profile.TotalExecutions, profile.SuccessfulExecutions,
		pq.Array(profile.SupportedNetworks), profile.Deactivated, profile.UpdatedAt,
		profile.AgentID)

	if err != nil {
		return fmt.Errorf("failed to update agent: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return ErrAgentNotFound
	}

	return nil
}

// Find pushes filtering and the deterministic ordering contract down
// to SQL. NUMERIC columns compare numerically, matching the big.Int
// comparison the memory store uses.
func (p *PostgresStore) Find(ctx context.Context, query Query) ([]*Profile, error) {
	if query.Limit <= 0 {
		query.Limit = 50
	}

	sqlQuery := `SELECT ` + profileColumns + ` FROM agents WHERE NOT deactivated`
	var args []interface{}

	if len(query.Capabilities) > 0 {
		args = append(args, pq.Array(query.Capabilities))
		sqlQuery += fmt.Sprintf(" AND capabilities @> $%d", len(args))
	}
	if query.MinReputation > 0 {
		args = append(args, query.MinReputation)
		sqlQuery += fmt.Sprintf(" AND reputation_score >= $%d", len(args))
	}
	if query.MaxPaymentRate != "" {
		args = append(args, query.MaxPaymentRate)
		sqlQuery += fmt.Sprintf(" AND (payment_rate IS NULL OR payment_rate <= $%d)", len(args))
	}
	if query.Network != "" {
		args = append(args, pq.Array([]string{query.Network}))
		sqlQuery += fmt.Sprintf(" AND supported_networks @> $%d", len(args))
	}

	sqlQuery += " ORDER BY reputation_score DESC, staked_amount DESC, agent_id ASC"

	args = append(args, query.Limit)
	sqlQuery += fmt.Sprintf(" LIMIT $%d", len(args)) //nolint:gosec // placeholder index, not user input
	if query.Offset > 0 {
		args = append(args, query.Offset)
		sqlQuery += fmt.Sprintf(" OFFSET $%d", len(args)) //nolint:gosec // placeholder index, not user input
	}

	rows, err := p.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to find agents: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var profiles []*Profile
	for rows.Next() {
		profile, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("scan agent: %w", err)
		}
		profiles = append(profiles, profile)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate agents: %w", err)
	}

	return profiles, nil
}

func (p *PostgresStore) Count(ctx context.Context) (int64, error) {
	var count int64
	err := p.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM agents`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count agents: %w", err)
	}
	return count, nil
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanProfile(row rowScanner) (*Profile, error) {
	var profile Profile
	var tier string
	var paymentRate sql.NullString
	var capabilities, networks pq.StringArray

	err := row.Scan(&profile.AgentID, &profile.OwnerAddress, &capabilities,
		&profile.StakedAmount, &tier, &paymentRate, &profile.ReputationScore,
		&profile.TotalExecutions, &profile.SuccessfulExecutions,
		&networks, &profile.Deactivated, &profile.CreatedAt, &profile.UpdatedAt)
	if err != nil {
		return nil, err
	}

	profile.StakeTier = StakeTier(tier)
	profile.PaymentRate = paymentRate.String
	profile.Capabilities = []string(capabilities)
	profile.SupportedNetworks = []string(networks)
	profile.StakedAmount = normalizeNumeric(profile.StakedAmount)
	if profile.PaymentRate != "" {
		profile.PaymentRate = normalizeNumeric(profile.PaymentRate)
	}
	return &profile, nil
}

// normalizeNumeric reformats a NUMERIC column value to the canonical
// 6-decimal form, since Postgres may emit fewer decimals.
func normalizeNumeric(s string) string {
	if v, ok := amount.Parse(s); ok {
		return amount.Format(v)
	}
	return s
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
