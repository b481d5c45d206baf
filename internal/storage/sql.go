package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"remindcore/internal/registry"
	"remindcore/internal/reminder"
	logx "remindcore/pkg/logx"
)

// sqlStore implements Store on database/sql for both SQL drivers.
// Queries are written with "?" placeholders and rebound per dialect.
type sqlStore struct {
	db       *sql.DB
	log      logx.Logger
	numbered bool // $1, $2 ... placeholders (postgres)
}

func (s *sqlStore) q(query string) string {
	if !s.numbered {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *sqlStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqlStore) SaveState(ctx context.Context, st registry.State) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM reminder_live`); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM reminder_retry`); err != nil {
		return err
	}
	for _, r := range st.Live {
		payload, err := json.Marshal(r)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			s.q(`INSERT INTO reminder_live(rkey, handle, fire_at, payload) VALUES(?,?,?,?)`),
			r.Key.String(), string(r.Handle), r.FireAt.UTC().Format(time.RFC3339Nano), string(payload),
		); err != nil {
			return err
		}
	}
	for _, cfg := range st.Retry {
		payload, err := json.Marshal(cfg)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			s.q(`INSERT INTO reminder_retry(rkey, payload) VALUES(?,?)`),
			cfg.Key().String(), string(payload),
		); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx,
		s.q(`UPDATE reminder_meta SET saved_at = ? WHERE id = 1`),
		time.Now().UTC().Format(time.RFC3339Nano),
	); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *sqlStore) LoadState(ctx context.Context) (registry.State, bool, error) {
	if s == nil || s.db == nil {
		return registry.State{}, false, ErrDisabled
	}
	var savedAt sql.NullString
	if err := s.db.QueryRowContext(ctx, `SELECT saved_at FROM reminder_meta WHERE id = 1`).Scan(&savedAt); err != nil {
		return registry.State{}, false, err
	}
	if !savedAt.Valid || savedAt.String == "" {
		return registry.State{}, false, nil
	}

	var st registry.State
	rows, err := s.db.QueryContext(ctx, `SELECT payload FROM reminder_live ORDER BY rkey`)
	if err != nil {
		return registry.State{}, false, err
	}
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			rows.Close()
			return registry.State{}, false, err
		}
		var r reminder.ScheduledReminder
		if err := json.Unmarshal([]byte(payload), &r); err != nil {
			s.log.Warn("skipping malformed live reminder row", logx.Err(err))
			continue
		}
		st.Live = append(st.Live, r)
	}
	if err := closeRows(rows); err != nil {
		return registry.State{}, false, err
	}

	rows, err = s.db.QueryContext(ctx, `SELECT payload FROM reminder_retry ORDER BY rkey`)
	if err != nil {
		return registry.State{}, false, err
	}
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			rows.Close()
			return registry.State{}, false, err
		}
		var cfg reminder.Config
		if err := json.Unmarshal([]byte(payload), &cfg); err != nil {
			s.log.Warn("skipping malformed retry row", logx.Err(err))
			continue
		}
		st.Retry = append(st.Retry, cfg)
	}
	if err := closeRows(rows); err != nil {
		return registry.State{}, false, err
	}
	return st, true, nil
}

func closeRows(rows *sql.Rows) error {
	err := rows.Err()
	if cerr := rows.Close(); err == nil {
		err = cerr
	}
	return err
}

func (s *sqlStore) AppendHistory(ctx context.Context, recs ...reminder.ScheduledReminder) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	for _, r := range recs {
		payload, err := json.Marshal(r)
		if err != nil {
			return err
		}
		if _, err := s.db.ExecContext(ctx,
			s.q(`INSERT INTO reminder_history(rkey, handle, state, fire_at, closed_at, reason, payload) VALUES(?,?,?,?,?,?,?)`),
			r.Key.String(), string(r.Handle), r.State.String(),
			r.FireAt.UTC().Format(time.RFC3339Nano), r.ClosedAt.UTC().Format(time.RFC3339Nano),
			nullStr(r.Reason), string(payload),
		); err != nil {
			return err
		}
	}
	return nil
}

func (s *sqlStore) RecentHistory(ctx context.Context, limit int) ([]reminder.ScheduledReminder, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, s.q(`SELECT payload FROM reminder_history ORDER BY id DESC LIMIT ?`), limit)
	if err != nil {
		return nil, err
	}
	var out []reminder.ScheduledReminder
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			rows.Close()
			return nil, err
		}
		var r reminder.ScheduledReminder
		if err := json.Unmarshal([]byte(payload), &r); err != nil {
			continue
		}
		out = append(out, r)
	}
	return out, closeRows(rows)
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
