package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"subwatch/internal/domain"
	"subwatch/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) UpsertReminder(ctx context.Context, r domain.ScheduledReminder) error {
	offsets, err := json.Marshal(r.Offsets)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO reminders(subscription_id, user_id, contact_email, display_name, subscription_name, amount_minor, currency, renewal_date, offsets, frequency, active)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?)
		 ON CONFLICT(subscription_id) DO UPDATE SET
		   user_id=excluded.user_id,
		   contact_email=excluded.contact_email,
		   display_name=excluded.display_name,
		   subscription_name=excluded.subscription_name,
		   amount_minor=excluded.amount_minor,
		   currency=excluded.currency,
		   renewal_date=excluded.renewal_date,
		   offsets=excluded.offsets,
		   frequency=excluded.frequency,
		   active=excluded.active`,
		r.SubscriptionID, r.UserID, r.ContactEmail, r.DisplayName, r.SubscriptionName,
		r.AmountMinor, r.Currency, fmtTime(r.RenewalDate), string(offsets), string(r.Frequency), boolInt(r.Active),
	)
	return err
}

func (s *sqliteStore) SetReminderActive(ctx context.Context, subscriptionID string, active bool) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE reminders SET active = ? WHERE subscription_id = ?`,
		boolInt(active), subscriptionID,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *sqliteStore) DeleteReminder(ctx context.Context, subscriptionID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM reminders WHERE subscription_id = ?`, subscriptionID)
	return err
}

func (s *sqliteStore) ListReminders(ctx context.Context) ([]domain.ScheduledReminder, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT subscription_id, user_id, contact_email, display_name, subscription_name, amount_minor, currency, renewal_date, offsets, frequency, active
		 FROM reminders ORDER BY subscription_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.ScheduledReminder
	for rows.Next() {
		var r domain.ScheduledReminder
		var renewal, offsets, freq string
		var active int
		if err := rows.Scan(&r.SubscriptionID, &r.UserID, &r.ContactEmail, &r.DisplayName, &r.SubscriptionName,
			&r.AmountMinor, &r.Currency, &renewal, &offsets, &freq, &active); err != nil {
			return nil, err
		}
		if r.RenewalDate, err = parseTime(renewal); err != nil {
			return nil, fmt.Errorf("reminder %s: %w", r.SubscriptionID, err)
		}
		if err := json.Unmarshal([]byte(offsets), &r.Offsets); err != nil {
			return nil, fmt.Errorf("reminder %s: offsets: %w", r.SubscriptionID, err)
		}
		r.Frequency = domain.Frequency(freq)
		r.Active = active != 0
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *sqliteStore) AppendLog(ctx context.Context, e domain.LogEntry) error {
	if e.SentAt.IsZero() {
		e.SentAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO reminder_log(subscription_id, user_id, offset_days, sent_at, outcome)
		 VALUES(?,?,?,?,?)`,
		e.SubscriptionID, e.UserID, e.OffsetDays, e.SentAt.UnixMilli(), string(e.Outcome),
	)
	return err
}

func (s *sqliteStore) QueryLog(ctx context.Context, subscriptionID string) ([]domain.LogEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT subscription_id, user_id, offset_days, sent_at, outcome
		 FROM reminder_log WHERE subscription_id = ? ORDER BY id`,
		subscriptionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.LogEntry
	for rows.Next() {
		var e domain.LogEntry
		var at int64
		var outcome string
		if err := rows.Scan(&e.SubscriptionID, &e.UserID, &e.OffsetDays, &at, &outcome); err != nil {
			return nil, err
		}
		e.SentAt = time.UnixMilli(at)
		e.Outcome = domain.Outcome(outcome)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *sqliteStore) PruneLog(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM reminder_log WHERE sent_at < ?`, olderThan.UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Renewal dates are stored as RFC3339Nano text; sent_at timestamps use unix
// millis so the prune comparison in SQL matches chronological order.
func fmtTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
