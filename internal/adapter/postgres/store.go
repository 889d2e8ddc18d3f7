package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Strob0t/deskgate/internal/domain"
	"github.com/Strob0t/deskgate/internal/domain/approval"
	"github.com/Strob0t/deskgate/internal/domain/risk"
	"github.com/Strob0t/deskgate/internal/port/database"
)

var _ database.LedgerStore = (*Store)(nil)

// Store implements database.LedgerStore using PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const approvalColumns = `id, source, organization_id, tool_name, risk_level, status, payload,
	decided_by, decision_note, created_at, updated_at, expires_at`

func scanApproval(row scannable) (approval.Record, error) {
	var (
		r       approval.Record
		lvl     string
		status  string
		payload []byte
	)
	err := row.Scan(&r.ID, &r.Source, &r.OrganizationID, &r.ToolName, &lvl, &status, &payload,
		&r.DecidedBy, &r.DecisionNote, &r.CreatedAt, &r.UpdatedAt, &r.ExpiresAt)
	if err != nil {
		return r, err
	}
	r.RiskLevel = risk.Level(lvl)
	r.Status = approval.Status(status)
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &r.Payload); err != nil {
			return r, fmt.Errorf("decode payload: %w", err)
		}
	}
	return r, nil
}

func (s *Store) CreateApproval(ctx context.Context, r *approval.Record) error {
	payload, err := json.Marshal(r.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO approvals (id, source, organization_id, tool_name, risk_level, status, payload,
			decided_by, decision_note, created_at, updated_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		r.ID, r.Source, r.OrganizationID, r.ToolName, string(r.RiskLevel), string(r.Status), payload,
		r.DecidedBy, r.DecisionNote, r.CreatedAt, r.UpdatedAt, nullTime(r.ExpiresAt))
	if err != nil {
		return fmt.Errorf("insert approval %s: %w", r.ID, err)
	}
	return nil
}

func (s *Store) GetApproval(ctx context.Context, id string) (*approval.Record, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+approvalColumns+` FROM approvals WHERE id = $1`, id)
	r, err := scanApproval(row)
	if err != nil {
		return nil, notFoundWrap(err, "get approval %s", id)
	}
	return &r, nil
}

func (s *Store) ListApprovals(ctx context.Context, filter approval.ListFilter) ([]approval.Record, error) {
	query, args := listQuery(filter)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list approvals: %w", err)
	}
	defer rows.Close()

	out := []approval.Record{}
	for rows.Next() {
		r, err := scanApproval(rows)
		if err != nil {
			return nil, fmt.Errorf("scan approval: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// listQuery builds the filtered listing. Empty filter fields add no condition.
func listQuery(filter approval.ListFilter) (string, []any) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, strings.Replace(cond, "?", "$"+strconv.Itoa(len(args)), 1))
	}
	if filter.Status != "" {
		add("status = ?", string(filter.Status))
	}
	if filter.OrganizationID != "" {
		add("organization_id = ?", filter.OrganizationID)
	}
	if filter.SessionID != "" {
		add("payload->>'session_id' = ?", filter.SessionID)
	}
	if filter.ToolName != "" {
		add("tool_name = ?", filter.ToolName)
	}
	if filter.RiskLevel != "" {
		add("risk_level = ?", string(filter.RiskLevel))
	}

	var b strings.Builder
	b.WriteString(`SELECT ` + approvalColumns + ` FROM approvals`)
	if len(where) > 0 {
		b.WriteString(" WHERE " + strings.Join(where, " AND "))
	}
	args = append(args, filter.ClampedLimit())
	b.WriteString(" ORDER BY created_at DESC, id DESC LIMIT $" + strconv.Itoa(len(args)))
	return b.String(), args
}

func (s *Store) DecideApproval(ctx context.Context, id string, req approval.DecideRequest, now time.Time) (*approval.Record, error) {
	row := s.pool.QueryRow(ctx,
		`UPDATE approvals
		 SET status = $2, decided_by = $3, decision_note = $4, updated_at = $5
		 WHERE id = $1 AND status = 'pending'
		 RETURNING `+approvalColumns,
		id, string(req.Decision.Status()), req.DecidedBy, req.Note, now)
	r, err := scanApproval(row)
	if err == nil {
		return &r, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("decide approval %s: %w", id, err)
	}

	// Either the record does not exist or it already left pending.
	cur, getErr := s.GetApproval(ctx, id)
	if getErr != nil {
		return nil, getErr
	}
	return cur, fmt.Errorf("approval %s is %s: %w", id, cur.Status, domain.ErrConflict)
}

func (s *Store) ExpireApprovals(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE approvals SET status = 'expired', updated_at = $1
		 WHERE status = 'pending' AND expires_at IS NOT NULL AND expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("expire approvals: %w", err)
	}
	return tag.RowsAffected(), nil
}
