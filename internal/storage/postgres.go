package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Maticulos/Projeto-Kanghoo-sub000/internal/cache"
	"github.com/Maticulos/Projeto-Kanghoo-sub000/internal/notify"
	"github.com/Maticulos/Projeto-Kanghoo-sub000/internal/tracking"
)

// PostgresStore persists positions, trips and notifications. It satisfies
// notify.Store, notify.RecipientDirectory and cache.Persister.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore returns a store that uses the given db for persistence.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// SavePosition appends a position sample for the vehicle.
func (s *PostgresStore) SavePosition(ctx context.Context, vehicleID string, p tracking.Position) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO vehicle_positions (vehicle_id, lat, lon, speed_kmh, heading, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		vehicleID, p.Lat, p.Lon, p.SpeedKmh, p.Heading, p.Timestamp,
	)
	return err
}

// SaveTrip upserts the trip row for the session. The open trip for a vehicle
// is keyed by (vehicle_id, started_at).
func (s *PostgresStore) SaveTrip(ctx context.Context, sess *tracking.Session) error {
	var eta sql.NullInt64
	if sess.ETA > 0 {
		eta = sql.NullInt64{Int64: int64(sess.ETA / time.Second), Valid: true}
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE trips SET status = $1, eta_seconds = $2, updated_at = $3
		WHERE vehicle_id = $4 AND started_at = $5`,
		string(sess.Status), eta, sess.LastUpdate, sess.VehicleID, sess.StartedAt,
	)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		return nil
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO trips (vehicle_id, driver_id, driver_name, route_id, status, eta_seconds, started_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		sess.VehicleID, nullString(sess.Driver.ID), nullString(sess.Driver.Name),
		nullString(sess.Route.ID), string(sess.Status), eta, sess.StartedAt, sess.LastUpdate,
	)
	return err
}

// SaveNotification persists the notification for later retrieval.
func (s *PostgresStore) SaveNotification(ctx context.Context, n *notify.Notification) error {
	recipients, err := json.Marshal(n.Recipients)
	if err != nil {
		return err
	}
	data, err := json.Marshal(n.Data)
	if err != nil {
		return err
	}
	if n.Data == nil {
		data = []byte("{}")
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO notifications (id, type, priority, title, message, recipients, broadcast, read, data, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO NOTHING`,
		n.ID, string(n.Type), string(n.Priority), n.Title, n.Message,
		recipients, n.Broadcast, n.Read, data, n.CreatedAt, n.ExpiresAt,
	)
	return err
}

// GetNotification returns the notification for id, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (s *PostgresStore) GetNotification(ctx context.Context, id string) (*notify.Notification, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, type, priority, title, message, recipients, broadcast, read, data, created_at, expires_at
		FROM notifications WHERE id = $1`, id)
	n, err := scanNotification(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return n, nil
}

// ListNotificationsForUser returns unexpired notifications addressed to the
// user or broadcast, newest first.
func (s *PostgresStore) ListNotificationsForUser(ctx context.Context, userID string, limit int) ([]*notify.Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, type, priority, title, message, recipients, broadcast, read, data, created_at, expires_at
		FROM notifications
		WHERE expires_at > now() AND (broadcast OR recipients @> $1)
		ORDER BY created_at DESC
		LIMIT $2`,
		fmt.Sprintf(`["%s"]`, userID), limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*notify.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// DeleteExpiredNotifications removes rows past their expiry. Returns the
// number of rows deleted.
func (s *PostgresStore) DeleteExpiredNotifications(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM notifications WHERE expires_at <= now()`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// AdminIDs returns the ids of all admin users.
func (s *PostgresStore) AdminIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM users WHERE role = 'admin'`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// PersistBatch flushes cache entries to their durable tables, dispatching on
// the key prefix. Unknown prefixes are skipped.
func (s *PostgresStore) PersistBatch(ctx context.Context, entries []cache.Entry) error {
	var firstErr error
	for _, e := range entries {
		var err error
		switch {
		case strings.HasPrefix(e.Key, "position:"):
			if p, ok := e.Value.(tracking.Position); ok {
				err = s.SavePosition(ctx, strings.TrimPrefix(e.Key, "position:"), p)
			}
		case strings.HasPrefix(e.Key, "trip:"):
			if sess, ok := e.Value.(*tracking.Session); ok {
				err = s.SaveTrip(ctx, sess)
			}
		}
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanNotification(row rowScanner) (*notify.Notification, error) {
	var (
		n          notify.Notification
		typ, prio  string
		recipients []byte
		data       []byte
	)
	err := row.Scan(&n.ID, &typ, &prio, &n.Title, &n.Message, &recipients,
		&n.Broadcast, &n.Read, &data, &n.CreatedAt, &n.ExpiresAt)
	if err != nil {
		return nil, err
	}
	n.Type = notify.EventType(typ)
	n.Priority = notify.Priority(prio)
	if err := json.Unmarshal(recipients, &n.Recipients); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, &n.Data); err != nil {
		return nil, err
	}
	return &n, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
