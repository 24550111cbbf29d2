package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/bdobrica/Hibi/internal/hibi/journal"
)

// WriteAudit logs an audit entry
func (s *Store) WriteAudit(ctx context.Context, e journal.AuditEntry) error {
	var errorNull sql.NullString
	if e.ErrorMessage != "" {
		errorNull = sql.NullString{String: e.ErrorMessage, Valid: true}
	}

	ts := e.Timestamp
	if ts.IsZero() {
		ts = s.now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_log (ts, trace_id, user_id, action, result,
			event_count, prompt_tokens, completion_tokens, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, ts.UnixMilli(), e.TraceID, e.UserID, e.Action, e.Result,
		e.EventCount, e.PromptTokens, e.CompletionTokens, errorNull)
	if err != nil {
		return fmt.Errorf("failed to write audit log: %w", err)
	}
	return nil
}

// GetAuditLog retrieves recent audit entries, newest first
func (s *Store) GetAuditLog(ctx context.Context, limit int) ([]*journal.AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, ts, trace_id, user_id, action, result,
			event_count, prompt_tokens, completion_tokens, error_message
		FROM audit_log
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}
	defer rows.Close()

	var entries []*journal.AuditEntry
	for rows.Next() {
		var (
			entry  journal.AuditEntry
			ms     int64
			errMsg sql.NullString
		)
		err := rows.Scan(&entry.ID, &ms, &entry.TraceID, &entry.UserID, &entry.Action,
			&entry.Result, &entry.EventCount, &entry.PromptTokens, &entry.CompletionTokens, &errMsg)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		entry.Timestamp = fromMillis(ms)
		entry.ErrorMessage = errMsg.String
		entries = append(entries, &entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit log: %w", err)
	}
	return entries, nil
}
