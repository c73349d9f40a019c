package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver registration.

	"places_bot/internal/model"
	"places_bot/migrations"
)

const timeLayout = "2006-01-02T15:04:05Z"

// SQLite implements Storage backed by a SQLite database.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at dsn and runs pending migrations.
func NewSQLite(dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection keeps SQLite's single writer happy and makes an
	// in-memory database visible to every caller.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	// Watches must not outlive their subscriber row.
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	if err := migrations.Run(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLite{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// UpsertSubscriber inserts the subscriber or, if the chat is already
// registered, re-activates it keeping its stored settings. The struct is
// refreshed from the row either way.
func (s *SQLite) UpsertSubscriber(ctx context.Context, sub *model.Subscriber) error {
	now := time.Now().UTC().Format(timeLayout)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO subscribers (chat_id, interval_minutes, class, is_active, created_at)
		 VALUES (?, ?, ?, 1, ?)
		 ON CONFLICT (chat_id) DO UPDATE SET is_active = 1`,
		sub.ChatID, sub.IntervalMinutes, string(sub.Class), now,
	)
	if err != nil {
		return fmt.Errorf("upsert subscriber: %w", err)
	}
	stored, err := s.GetSubscriber(ctx, sub.ChatID)
	if err != nil {
		return err
	}
	*sub = *stored
	return nil
}

// GetSubscriber returns a single subscriber by its chat ID.
func (s *SQLite) GetSubscriber(ctx context.Context, chatID int64) (*model.Subscriber, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT chat_id, interval_minutes, class, is_active, last_polled_at, created_at
		 FROM subscribers WHERE chat_id = ?`, chatID,
	)
	return scanSubscriber(row)
}

// ListActiveSubscribers returns all subscribers with the active flag set.
func (s *SQLite) ListActiveSubscribers(ctx context.Context) ([]model.Subscriber, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT chat_id, interval_minutes, class, is_active, last_polled_at, created_at
		 FROM subscribers WHERE is_active = 1 ORDER BY chat_id`,
	)
	if err != nil {
		return nil, fmt.Errorf("query subscribers: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var subs []model.Subscriber
	for rows.Next() {
		sub, err := scanSubscriber(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, *sub)
	}
	return subs, rows.Err()
}

// SetSubscriberActive flips the active flag for a chat.
func (s *SQLite) SetSubscriberActive(ctx context.Context, chatID int64, active bool) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE subscribers SET is_active = ? WHERE chat_id = ?`, boolToInt(active), chatID,
	)
	if err != nil {
		return fmt.Errorf("set subscriber active: %w", err)
	}
	return nil
}

// SetDefaultInterval updates the subscriber's default poll interval.
func (s *SQLite) SetDefaultInterval(ctx context.Context, chatID int64, minutes int) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE subscribers SET interval_minutes = ? WHERE chat_id = ?`, minutes, chatID,
	)
	if err != nil {
		return fmt.Errorf("set default interval: %w", err)
	}
	return nil
}

// SetDefaultClass updates the subscriber's default notification class.
func (s *SQLite) SetDefaultClass(ctx context.Context, chatID int64, class model.NotifyClass) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE subscribers SET class = ? WHERE chat_id = ?`, string(class), chatID,
	)
	if err != nil {
		return fmt.Errorf("set default class: %w", err)
	}
	return nil
}

// SetLastPolled advances the subscriber-level poll cursor. Only this column
// is touched so concurrent configuration changes are not clobbered.
func (s *SQLite) SetLastPolled(ctx context.Context, chatID int64, t time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE subscribers SET last_polled_at = ? WHERE chat_id = ?`,
		t.UTC().Format(timeLayout), chatID,
	)
	if err != nil {
		return fmt.Errorf("set last polled: %w", err)
	}
	return nil
}

// CreateWatch inserts a new watch and populates its ID and CreatedAt.
func (s *SQLite) CreateWatch(ctx context.Context, w *model.Watch) error {
	now := time.Now().UTC().Format(timeLayout)
	var placeID *string
	if w.PlaceID != "" {
		placeID = &w.PlaceID
	}
	var lat, lon, radius *float64
	if w.Kind == model.KindArea {
		lat, lon, radius = &w.Lat, &w.Lon, &w.RadiusKM
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO watches (chat_id, kind, name, place_id, lat, lon, radius_km,
		                      interval_minutes, class, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		w.ChatID, string(w.Kind), w.Name, placeID, lat, lon, radius,
		w.IntervalMinutes, classPtr(w.Class), now,
	)
	if err != nil {
		return fmt.Errorf("insert watch: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	w.ID = id
	w.CreatedAt, _ = time.Parse(timeLayout, now)
	return nil
}

// GetWatch returns a single watch by its ID.
func (s *SQLite) GetWatch(ctx context.Context, id int64) (*model.Watch, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, chat_id, kind, name, place_id, lat, lon, radius_km,
		        interval_minutes, class, last_checked_at, created_at
		 FROM watches WHERE id = ?`, id,
	)
	return scanWatch(row)
}

// ListWatches returns all watches belonging to the given chat.
func (s *SQLite) ListWatches(ctx context.Context, chatID int64) ([]model.Watch, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, chat_id, kind, name, place_id, lat, lon, radius_km,
		        interval_minutes, class, last_checked_at, created_at
		 FROM watches WHERE chat_id = ? ORDER BY id`, chatID,
	)
	if err != nil {
		return nil, fmt.Errorf("query watches: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var watches []model.Watch
	for rows.Next() {
		w, err := scanWatch(rows)
		if err != nil {
			return nil, err
		}
		watches = append(watches, *w)
	}
	return watches, rows.Err()
}

// DeleteWatch removes a watch. Seen marks are keyed by chat, not watch, and
// stay untouched.
func (s *SQLite) DeleteWatch(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM watches WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete watch: %w", err)
	}
	return nil
}

// SetWatchInterval sets or clears the watch's interval override.
func (s *SQLite) SetWatchInterval(ctx context.Context, id int64, minutes *int) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE watches SET interval_minutes = ? WHERE id = ?`, minutes, id,
	)
	if err != nil {
		return fmt.Errorf("set watch interval: %w", err)
	}
	return nil
}

// SetWatchClass sets or clears the watch's notification class override.
func (s *SQLite) SetWatchClass(ctx context.Context, id int64, class *model.NotifyClass) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE watches SET class = ? WHERE id = ?`, classPtr(class), id,
	)
	if err != nil {
		return fmt.Errorf("set watch class: %w", err)
	}
	return nil
}

// SetLastChecked advances the watch-level check cursor.
func (s *SQLite) SetLastChecked(ctx context.Context, id int64, t time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE watches SET last_checked_at = ? WHERE id = ?`,
		t.UTC().Format(timeLayout), id,
	)
	if err != nil {
		return fmt.Errorf("set last checked: %w", err)
	}
	return nil
}

// SeenIDs returns which of the given record IDs are already marked for the chat.
func (s *SQLite) SeenIDs(ctx context.Context, chatID int64, ids []string) (map[string]struct{}, error) {
	seen := make(map[string]struct{}, len(ids))
	if len(ids) == 0 {
		return seen, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, 0, len(ids)+1)
	args = append(args, chatID)
	for _, id := range ids {
		args = append(args, id)
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT record_id FROM seen_records WHERE chat_id = ? AND record_id IN (`+placeholders+`)`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("query seen records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan seen record: %w", err)
		}
		seen[id] = struct{}{}
	}
	return seen, rows.Err()
}

// MarkSeen inserts seen marks for the given IDs in one transaction and
// returns the IDs whose mark this call created. Existing marks are left
// alone; the per-row insert count tells the two cases apart.
func (s *SQLite) MarkSeen(ctx context.Context, chatID int64, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC().Format(timeLayout)
	var inserted []string
	for _, id := range ids {
		res, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO seen_records (chat_id, record_id, seen_at) VALUES (?, ?, ?)`,
			chatID, id, now,
		)
		if err != nil {
			return nil, fmt.Errorf("mark seen: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("rows affected: %w", err)
		}
		if n > 0 {
			inserted = append(inserted, id)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit seen marks: %w", err)
	}
	return inserted, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func classPtr(c *model.NotifyClass) *string {
	if c == nil {
		return nil
	}
	v := string(*c)
	return &v
}

type scannable interface {
	Scan(dest ...any) error
}

func scanSubscriber(row scannable) (*model.Subscriber, error) {
	var sub model.Subscriber
	var classStr string
	var isActive int
	var lastPolled, created sql.NullString
	err := row.Scan(&sub.ChatID, &sub.IntervalMinutes, &classStr, &isActive, &lastPolled, &created)
	if err != nil {
		return nil, fmt.Errorf("scan subscriber: %w", err)
	}
	sub.Class = model.NotifyClass(classStr)
	sub.IsActive = isActive == 1
	if lastPolled.Valid {
		t, _ := time.Parse(timeLayout, lastPolled.String)
		sub.LastPolledAt = &t
	}
	if created.Valid {
		sub.CreatedAt, _ = time.Parse(timeLayout, created.String)
	}
	return &sub, nil
}

func scanWatch(row scannable) (*model.Watch, error) {
	var w model.Watch
	var kindStr string
	var placeID, classStr, lastChecked, created sql.NullString
	var lat, lon, radius sql.NullFloat64
	var interval sql.NullInt64
	err := row.Scan(&w.ID, &w.ChatID, &kindStr, &w.Name, &placeID, &lat, &lon, &radius,
		&interval, &classStr, &lastChecked, &created)
	if err != nil {
		return nil, fmt.Errorf("scan watch: %w", err)
	}
	w.Kind = model.WatchKind(kindStr)
	if placeID.Valid {
		w.PlaceID = placeID.String
	}
	if lat.Valid {
		w.Lat = lat.Float64
	}
	if lon.Valid {
		w.Lon = lon.Float64
	}
	if radius.Valid {
		w.RadiusKM = radius.Float64
	}
	if interval.Valid {
		v := int(interval.Int64)
		w.IntervalMinutes = &v
	}
	if classStr.Valid {
		c := model.NotifyClass(classStr.String)
		w.Class = &c
	}
	if lastChecked.Valid {
		t, _ := time.Parse(timeLayout, lastChecked.String)
		w.LastCheckedAt = &t
	}
	if created.Valid {
		w.CreatedAt, _ = time.Parse(timeLayout, created.String)
	}
	return &w, nil
}
