package storage

import (
	"context"
	"encoding/json"
	"fmt"

	sq "github.com/Masterminds/squirrel"
)

// Audit actions recorded outside the setup flow.
const (
	ActionTokenRemoved = "token_removed"
	ActionDataCleared  = "data_cleared"
)

// LogAction appends one audit row. meta must never carry secrets.
func (s *Store) LogAction(ctx context.Context, userID int64, action string, meta map[string]string) error {
	metaJSON := "{}"
	if len(meta) > 0 {
		b, err := json.Marshal(meta)
		if err != nil {
			return fmt.Errorf("marshal audit meta: %w", err)
		}
		metaJSON = string(b)
	}

	q := s.sql.Insert("audit_log").
		Columns("user_id", "action", "meta_json", "created_at").
		Values(userID, action, metaJSON, s.now().UTC())
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build audit insert query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, sqlStr, args...); err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

// ListActions returns the newest entries of a user first.
func (s *Store) ListActions(ctx context.Context, userID int64, limit uint64) ([]AuditEntry, error) {
	q := s.sql.Select("id", "user_id", "action", "meta_json", "created_at").
		From("audit_log").
		Where(sq.Eq{"user_id": userID}).
		OrderBy("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list audit query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	defer rows.Close()

	out := make([]AuditEntry, 0)
	for rows.Next() {
		var e AuditEntry
		if err := rows.Scan(&e.ID, &e.UserID, &e.Action, &e.MetaJSON, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit entries: %w", err)
	}
	return out, nil
}

// ClearUser removes every audit row of a user and reports how many went.
func (s *Store) ClearUser(ctx context.Context, userID int64) (int64, error) {
	q := s.sql.Delete("audit_log").Where(sq.Eq{"user_id": userID})
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return 0, fmt.Errorf("build clear audit query: %w", err)
	}
	res, err := s.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return 0, fmt.Errorf("clear audit entries: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("clear audit rows affected: %w", err)
	}
	return n, nil
}
