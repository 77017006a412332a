package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mehebubhossain/apex-mdapi/internal/batch"
	"github.com/mehebubhossain/apex-mdapi/internal/remote"
)

// CreateBatch inserts a batch and all of its items in one transaction.
func (s *Store) CreateBatch(ctx context.Context, b *batch.Batch) error {
	ctx = ensureContext(ctx)
	now := time.Now().UTC().Format(time.RFC3339Nano)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create batch: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO batches (id, name, state, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		b.ID, b.Name, string(b.State), now, now,
	); err != nil {
		return fmt.Errorf("insert batch: %w", err)
	}

	for _, item := range b.Items {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO batch_items (
                batch_id, item_index, action, metadata_type, full_name, body,
                context, wait_for_previous, handle, failure, polls, updated_at
            ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			b.ID,
			item.Index,
			string(item.Payload.Action),
			item.Payload.Type,
			item.Payload.FullName,
			nullableString(string(item.Payload.Body)),
			nullableString(string(item.Context)),
			boolToInt(item.WaitForPrevious),
			item.Handle,
			item.Failure,
			item.Polls,
			now,
		); err != nil {
			return fmt.Errorf("insert item %d: %w", item.Index, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create batch: %w", err)
	}
	return nil
}

// GetBatch loads a batch and its full item list, ordered by index.
func (s *Store) GetBatch(ctx context.Context, id string) (*batch.Batch, error) {
	ctx = ensureContext(ctx)

	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, state, created_at, updated_at, completed_at FROM batches WHERE id = ?`, id)
	b, err := scanBatch(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: %s", batch.ErrNotFound, id)
		}
		return nil, fmt.Errorf("select batch: %w", err)
	}

	items, err := s.itemsForBatch(ctx, id)
	if err != nil {
		return nil, err
	}
	b.Items = items
	return b, nil
}

// ListBatches returns batches filtered by optional states, newest first,
// each with its full item list.
func (s *Store) ListBatches(ctx context.Context, states ...batch.State) ([]*batch.Batch, error) {
	ctx = ensureContext(ctx)

	query := `SELECT id, name, state, created_at, updated_at, completed_at FROM batches`
	args := make([]any, 0, len(states))
	if len(states) > 0 {
		placeholders := make([]string, 0, len(states))
		for _, state := range states {
			placeholders = append(placeholders, "?")
			args = append(args, string(state))
		}
		query += " WHERE state IN (" + strings.Join(placeholders, ", ") + ")"
	}
	query += " ORDER BY created_at DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select batches: %w", err)
	}
	defer rows.Close()

	var batches []*batch.Batch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, fmt.Errorf("scan batch: %w", err)
		}
		batches = append(batches, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate batches: %w", err)
	}

	for _, b := range batches {
		items, err := s.itemsForBatch(ctx, b.ID)
		if err != nil {
			return nil, err
		}
		b.Items = items
	}
	return batches, nil
}

// RunningBatchIDs returns the ids of batches still in the running state,
// oldest first, for resume at startup.
func (s *Store) RunningBatchIDs(ctx context.Context) ([]string, error) {
	ctx = ensureContext(ctx)
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM batches WHERE state = ? ORDER BY created_at ASC`, string(batch.StateRunning))
	if err != nil {
		return nil, fmt.Errorf("select running batches: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan batch id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate running batches: %w", err)
	}
	return ids, nil
}

// UpdateItem persists the mutable fields of one item after dispatch.
func (s *Store) UpdateItem(ctx context.Context, batchID string, item *batch.Item) error {
	ctx = ensureContext(ctx)
	now := time.Now().UTC().Format(time.RFC3339Nano)

	var done any
	var state, code, message any
	if item.Status != nil {
		done = boolToInt(item.Status.Done)
		state = item.Status.State
		code = item.Status.StatusCode
		message = item.Status.Message
	}

	res, err := s.execWithRetry(ctx,
		`UPDATE batch_items SET
            handle = ?, status_done = ?, status_state = ?, status_code = ?,
            status_message = ?, failure = ?, polls = ?, updated_at = ?
        WHERE batch_id = ? AND item_index = ?`,
		item.Handle, done, state, code, message, item.Failure, item.Polls, now,
		batchID, item.Index,
	)
	if err != nil {
		return fmt.Errorf("update item: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update item rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s item %d", batch.ErrNotFound, batchID, item.Index)
	}

	if _, err := s.execWithRetry(ctx,
		`UPDATE batches SET updated_at = ? WHERE id = ?`, now, batchID); err != nil {
		return fmt.Errorf("touch batch: %w", err)
	}
	return nil
}

// CompleteBatch transitions a batch from running to completed. The update is
// a compare-and-set: it reports true for exactly one caller, which is the
// caller that owns the completion notification.
func (s *Store) CompleteBatch(ctx context.Context, id string) (bool, error) {
	ctx = ensureContext(ctx)
	now := time.Now().UTC().Format(time.RFC3339Nano)

	res, err := s.execWithRetry(ctx,
		`UPDATE batches SET state = ?, completed_at = ?, updated_at = ?
         WHERE id = ? AND state = ?`,
		string(batch.StateCompleted), now, now, id, string(batch.StateRunning),
	)
	if err != nil {
		return false, fmt.Errorf("complete batch: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("complete batch rows affected: %w", err)
	}
	return affected == 1, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBatch(row rowScanner) (*batch.Batch, error) {
	var (
		b           batch.Batch
		state       string
		createdAt   string
		updatedAt   string
		completedAt sql.NullString
	)
	if err := row.Scan(&b.ID, &b.Name, &state, &createdAt, &updatedAt, &completedAt); err != nil {
		return nil, err
	}

	parsed, ok := batch.ParseState(state)
	if !ok {
		return nil, fmt.Errorf("unknown batch state %q", state)
	}
	b.State = parsed
	b.CreatedAt = parseTime(createdAt)
	b.UpdatedAt = parseTime(updatedAt)
	if completedAt.Valid {
		t := parseTime(completedAt.String)
		b.CompletedAt = &t
	}
	return &b, nil
}

func (s *Store) itemsForBatch(ctx context.Context, batchID string) ([]*batch.Item, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT item_index, action, metadata_type, full_name, body, context,
                wait_for_previous, handle, status_done, status_state,
                status_code, status_message, failure, polls
         FROM batch_items WHERE batch_id = ? ORDER BY item_index ASC`, batchID)
	if err != nil {
		return nil, fmt.Errorf("select items: %w", err)
	}
	defer rows.Close()

	var items []*batch.Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate items: %w", err)
	}
	return items, nil
}

func scanItem(row rowScanner) (*batch.Item, error) {
	var (
		item          batch.Item
		action        string
		body          sql.NullString
		contextValue  sql.NullString
		wait          int
		statusDone    sql.NullInt64
		statusState   sql.NullString
		statusCode    sql.NullString
		statusMessage sql.NullString
	)
	if err := row.Scan(
		&item.Index, &action, &item.Payload.Type, &item.Payload.FullName,
		&body, &contextValue, &wait, &item.Handle,
		&statusDone, &statusState, &statusCode, &statusMessage,
		&item.Failure, &item.Polls,
	); err != nil {
		return nil, err
	}

	parsedAction, ok := remote.ParseAction(action)
	if !ok {
		return nil, fmt.Errorf("unknown item action %q", action)
	}
	item.Payload.Action = parsedAction
	if body.Valid && body.String != "" {
		item.Payload.Body = json.RawMessage(body.String)
	}
	if contextValue.Valid && contextValue.String != "" {
		item.Context = json.RawMessage(contextValue.String)
	}
	item.WaitForPrevious = wait != 0
	if statusDone.Valid {
		item.Status = &remote.Status{
			Done:       statusDone.Int64 != 0,
			State:      statusState.String,
			StatusCode: statusCode.String,
			Message:    statusMessage.String,
		}
	}
	return &item, nil
}

func parseTime(value string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

func nullableString(value string) any {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return value
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}
