package postgres

import (
	"context"
	"fmt"

	"github.com/nexus-tt/nexus/internal/domain/usage"
)

const usageColumns = `user_id, engine, period, total_tokens, input_tokens, output_tokens,
	message_count, created_at, updated_at, COALESCE(last_used_at, updated_at)`

func scanUsage(row scannable) (*usage.Record, error) {
	var r usage.Record
	err := row.Scan(&r.UserID, &r.Engine, &r.Period, &r.TotalTokens, &r.InputTokens, &r.OutputTokens,
		&r.MessageCount, &r.CreatedAt, &r.UpdatedAt, &r.LastUsedAt)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// Apply adds one event to the monthly counter of its user and engine in a
// single upsert, so concurrent writers never lose increments.
func (s *Store) Apply(ctx context.Context, e usage.Event) (*usage.Record, error) {
	r, err := scanUsage(s.pool.QueryRow(ctx,
		`INSERT INTO usage_counters AS u
		     (user_id, engine, period, total_tokens, input_tokens, output_tokens, message_count, last_used_at)
		 VALUES ($1, $2, $3, $4, $5, $6, 1, $7)
		 ON CONFLICT (user_id, engine, period) DO UPDATE
		 SET total_tokens  = u.total_tokens + EXCLUDED.total_tokens,
		     input_tokens  = u.input_tokens + EXCLUDED.input_tokens,
		     output_tokens = u.output_tokens + EXCLUDED.output_tokens,
		     message_count = u.message_count + 1,
		     last_used_at  = GREATEST(u.last_used_at, EXCLUDED.last_used_at),
		     updated_at    = now()
		 RETURNING `+usageColumns,
		e.UserID, string(e.Engine), usage.Period(e.OccurredAt),
		int64(e.Total()), int64(e.InputTokens), int64(e.OutputTokens), nullTime(e.OccurredAt)))
	if err != nil {
		return nil, fmt.Errorf("apply usage for %s: %w", e.UserID, err)
	}
	return r, nil
}

// ListUsage returns every counter of the user, latest period first.
func (s *Store) ListUsage(ctx context.Context, userID string) ([]usage.Record, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+usageColumns+` FROM usage_counters WHERE user_id = $1 ORDER BY period DESC, engine`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("list usage for %s: %w", userID, err)
	}
	defer rows.Close()

	records := []usage.Record{}
	for rows.Next() {
		r, err := scanUsage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan usage: %w", err)
		}
		records = append(records, *r)
	}
	return records, rows.Err()
}
