package escrow

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/accordproto/accord/internal/amount"
	"github.com/accordproto/accord/internal/pagination"
)

// PostgresStore implements Store using PostgreSQL. Milestones ride in
// a JSONB column; they are only read and written through their escrow,
// so relational access is not needed.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

var _ Store = (*PostgresStore)(nil)

const escrowColumns = `id, requester_address, agent_id, payment_amount, currency,
	milestones, deadline, state, intent_id, from_network, to_network,
	bridge_protocol, frozen, created_at, updated_at, resolved_at`

func (p *PostgresStore) Create(ctx context.Context, e *Escrow) error {
	milestones, err := json.Marshal(e.Milestones)
	if err != nil {
		return fmt.Errorf("marshal milestones: %w", err)
	}

	_, err = p.db.ExecContext(ctx, `
		INSERT INTO escrows (id, requester_address, agent_id, payment_amount, currency,
			milestones, deadline, state, intent_id, from_network, to_network,
			bridge_protocol, frozen, created_at, updated_at, resolved_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`, e.ID, e.RequesterAddress, e.AgentID, e.PaymentAmount, e.Currency,
		milestones, e.Deadline, string(e.State), nullString(e.IntentID),
		nullString(e.FromNetwork), nullString(e.ToNetwork), nullString(e.BridgeProtocol),
		e.Frozen, e.CreatedAt, e.UpdatedAt, nullTime(e.ResolvedAt))
	if err != nil {
		return fmt.Errorf("failed to create escrow: %w", err)
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Escrow, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT `+escrowColumns+` FROM escrows WHERE id = $1
	`, id)

	e, err := scanEscrow(row)
	if err == sql.ErrNoRows {
		return nil, ErrEscrowNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get escrow: %w", err)
	}
	return e, nil
}

func (p *PostgresStore) Update(ctx context.Context, e *Escrow) error {
	milestones, err := json.Marshal(e.Milestones)
	if err != nil {
		return fmt.Errorf("marshal milestones: %w", err)
	}

	result, err := p.db.ExecContext(ctx, `
		UPDATE escrows SET milestones = $1, state = $2, frozen = $3,
			updated_at = $4, resolved_at = $5
		WHERE id = $6
	`, milestones, string(e.State), e.Frozen, e.UpdatedAt, nullTime(e.ResolvedAt), e.ID)
	if err != nil {
		return fmt.Errorf("failed to update escrow: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return ErrEscrowNotFound
	}
	return nil
}

func (p *PostgresStore) ListByAgent(ctx context.Context, agentID string, cursor *pagination.Cursor, limit int) ([]*Escrow, error) {
	query := `SELECT ` + escrowColumns + ` FROM escrows WHERE agent_id = $1`
	args := []interface{}{agentID}

	if cursor != nil {
		args = append(args, cursor.CreatedAt, cursor.ID)
		query += ` AND (created_at < $2 OR (created_at = $2 AND id > $3))`
	}
	args = append(args, limit)
	query += fmt.Sprintf(` ORDER BY created_at DESC, id ASC LIMIT $%d`, len(args))

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list escrows: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return collectEscrows(rows)
}

func (p *PostgresStore) ListExpired(ctx context.Context, before time.Time, limit int) ([]*Escrow, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+escrowColumns+` FROM escrows
		WHERE NOT frozen AND state IN ($1, $2) AND deadline < $3
		ORDER BY deadline ASC
		LIMIT $4
	`, string(StateOpen), string(StatePartiallyReleased), before, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list expired escrows: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return collectEscrows(rows)
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEscrow(row rowScanner) (*Escrow, error) {
	var e Escrow
	var state string
	var milestones []byte
	var intentID, fromNetwork, toNetwork, bridgeProtocol sql.NullString
	var resolvedAt sql.NullTime

	err := row.Scan(&e.ID, &e.RequesterAddress, &e.AgentID, &e.PaymentAmount,
		&e.Currency, &milestones, &e.Deadline, &state, &intentID,
		&fromNetwork, &toNetwork, &bridgeProtocol, &e.Frozen,
		&e.CreatedAt, &e.UpdatedAt, &resolvedAt)
	if err != nil {
		return nil, err
	}

	e.State = State(state)
	e.IntentID = intentID.String
	e.FromNetwork = fromNetwork.String
	e.ToNetwork = toNetwork.String
	e.BridgeProtocol = bridgeProtocol.String
	if resolvedAt.Valid {
		t := resolvedAt.Time
		e.ResolvedAt = &t
	}
	e.Milestones = []Milestone{}
	if len(milestones) > 0 {
		if err := json.Unmarshal(milestones, &e.Milestones); err != nil {
			return nil, fmt.Errorf("unmarshal milestones: %w", err)
		}
	}
	e.PaymentAmount = normalizeNumeric(e.PaymentAmount)
	return &e, nil
}

func collectEscrows(rows *sql.Rows) ([]*Escrow, error) {
	var escrows []*Escrow
	for rows.Next() {
		e, err := scanEscrow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan escrow: %w", err)
		}
		escrows = append(escrows, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate escrows: %w", err)
	}
	return escrows, nil
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

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
