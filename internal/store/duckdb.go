// Presencewatch - Game Server Presence Tracking and Transport Failover
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/presencewatch

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/duckdb/duckdb-go/v2" // registers the "duckdb" driver

	"github.com/tomtom215/presencewatch/internal/models"
)

const duckdbSchema = `
CREATE TABLE IF NOT EXISTS player_profiles (
	id VARCHAR PRIMARY KEY,
	server_id VARCHAR NOT NULL,
	player_name VARCHAR NOT NULL,
	player_id VARCHAR,
	is_online BOOLEAN NOT NULL,
	current_session_start TIMESTAMP,
	last_join_time TIMESTAMP,
	last_leave_time TIMESTAMP,
	last_seen_time TIMESTAMP NOT NULL,
	first_seen_at TIMESTAMP NOT NULL,
	total_sessions INTEGER NOT NULL,
	total_play_time_minutes BIGINT NOT NULL,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL,
	UNIQUE (server_id, player_name)
);
CREATE TABLE IF NOT EXISTS player_sessions (
	id VARCHAR PRIMARY KEY,
	profile_id VARCHAR NOT NULL,
	server_id VARCHAR NOT NULL,
	player_name VARCHAR NOT NULL,
	player_id VARCHAR,
	join_time TIMESTAMP NOT NULL,
	leave_time TIMESTAMP,
	duration_minutes BIGINT,
	is_active BOOLEAN NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_player_sessions_profile ON player_sessions (profile_id);
CREATE TABLE IF NOT EXISTS player_activities (
	id VARCHAR PRIMARY KEY,
	profile_id VARCHAR NOT NULL,
	session_id VARCHAR,
	server_id VARCHAR NOT NULL,
	player_name VARCHAR NOT NULL,
	player_id VARCHAR,
	action VARCHAR NOT NULL,
	occurred_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_player_activities_server ON player_activities (server_id);
`

const profileColumns = `id, server_id, player_name, player_id, is_online, current_session_start,
	last_join_time, last_leave_time, last_seen_time, first_seen_at, total_sessions,
	total_play_time_minutes, created_at, updated_at`

const sessionColumns = `id, profile_id, server_id, player_name, player_id, join_time,
	leave_time, duration_minutes, is_active`

const activityColumns = `id, profile_id, session_id, server_id, player_name, player_id, action, occurred_at`

// DuckDBStore persists presence data in a DuckDB database file.
type DuckDBStore struct {
	conn *sql.DB
}

// OpenDuckDBStore opens the database at path and creates the schema. An
// empty path or ":memory:" opens an in-memory database.
func OpenDuckDBStore(ctx context.Context, path string) (*DuckDBStore, error) {
	dsn := ":memory:"
	if path != "" && path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		dsn = path
	}
	dsn += "?access_mode=read_write&autoinstall_known_extensions=false&autoload_known_extensions=false"

	conn, err := sql.Open("duckdb", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	for _, stmt := range strings.Split(duckdbSchema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := conn.ExecContext(ctx, stmt); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to create schema: %w", err)
		}
	}
	return &DuckDBStore{conn: conn}, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func nullTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullInt(n *int64) interface{} {
	if n == nil {
		return nil
	}
	return *n
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}

func scanProfile(row rowScanner) (*models.PlayerProfile, error) {
	var (
		p                                 models.PlayerProfile
		playerID                          sql.NullString
		sessionStart, lastJoin, lastLeave sql.NullTime
	)
	err := row.Scan(&p.ID, &p.ServerID, &p.PlayerName, &playerID, &p.IsOnline, &sessionStart,
		&lastJoin, &lastLeave, &p.LastSeenTime, &p.FirstSeenAt, &p.TotalSessions,
		&p.TotalPlayTimeMinutes, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	p.PlayerID = playerID.String
	p.CurrentSessionStart = timePtr(sessionStart)
	p.LastJoinTime = timePtr(lastJoin)
	p.LastLeaveTime = timePtr(lastLeave)
	p.LastSeenTime = p.LastSeenTime.UTC()
	p.FirstSeenAt = p.FirstSeenAt.UTC()
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return &p, nil
}

func scanSession(row rowScanner) (*models.PlayerSession, error) {
	var (
		s         models.PlayerSession
		playerID  sql.NullString
		leaveTime sql.NullTime
		duration  sql.NullInt64
	)
	err := row.Scan(&s.ID, &s.ProfileID, &s.ServerID, &s.PlayerName, &playerID, &s.JoinTime,
		&leaveTime, &duration, &s.IsActive)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	s.PlayerID = playerID.String
	s.JoinTime = s.JoinTime.UTC()
	s.LeaveTime = timePtr(leaveTime)
	if duration.Valid {
		d := duration.Int64
		s.DurationMinutes = &d
	}
	return &s, nil
}

func scanActivity(row rowScanner) (*models.ActivityEvent, error) {
	var (
		a         models.ActivityEvent
		sessionID sql.NullString
		playerID  sql.NullString
		action    string
	)
	if err := row.Scan(&a.ID, &a.ProfileID, &sessionID, &a.ServerID, &a.PlayerName, &playerID,
		&action, &a.Timestamp); err != nil {
		return nil, err
	}
	a.SessionID = sessionID.String
	a.PlayerID = playerID.String
	a.Action = models.Action(action)
	a.Timestamp = a.Timestamp.UTC()
	return &a, nil
}

// GetProfile implements Store.
func (d *DuckDBStore) GetProfile(ctx context.Context, serverID, playerName string) (*models.PlayerProfile, error) {
	row := d.conn.QueryRowContext(ctx,
		`SELECT `+profileColumns+` FROM player_profiles WHERE server_id = ? AND player_name = ?`,
		serverID, playerName)
	return scanProfile(row)
}

// GetProfileByID implements Store.
func (d *DuckDBStore) GetProfileByID(ctx context.Context, id string) (*models.PlayerProfile, error) {
	row := d.conn.QueryRowContext(ctx, `SELECT `+profileColumns+` FROM player_profiles WHERE id = ?`, id)
	return scanProfile(row)
}

// CreateProfile implements Store.
func (d *DuckDBStore) CreateProfile(ctx context.Context, p *models.PlayerProfile) error {
	tx, err := d.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	var n int
	if err := tx.QueryRowContext(ctx,
		`SELECT count(*) FROM player_profiles WHERE server_id = ? AND player_name = ?`,
		p.ServerID, p.PlayerName).Scan(&n); err != nil {
		return fmt.Errorf("check profile: %w", err)
	}
	if n > 0 {
		return fmt.Errorf("profile %s/%s: %w", p.ServerID, p.PlayerName, ErrAlreadyExists)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO player_profiles (`+profileColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.ServerID, p.PlayerName, nullString(p.PlayerID), p.IsOnline, nullTime(p.CurrentSessionStart),
		nullTime(p.LastJoinTime), nullTime(p.LastLeaveTime), p.LastSeenTime.UTC(), p.FirstSeenAt.UTC(),
		p.TotalSessions, p.TotalPlayTimeMinutes, p.CreatedAt.UTC(), p.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert profile: %w", err)
	}
	return tx.Commit()
}

// UpdateProfile implements Store.
func (d *DuckDBStore) UpdateProfile(ctx context.Context, p *models.PlayerProfile) error {
	res, err := d.conn.ExecContext(ctx, `UPDATE player_profiles SET
		player_id = ?, is_online = ?, current_session_start = ?, last_join_time = ?,
		last_leave_time = ?, last_seen_time = ?, total_sessions = ?,
		total_play_time_minutes = ?, updated_at = ?
		WHERE id = ?`,
		nullString(p.PlayerID), p.IsOnline, nullTime(p.CurrentSessionStart), nullTime(p.LastJoinTime),
		nullTime(p.LastLeaveTime), p.LastSeenTime.UTC(), p.TotalSessions,
		p.TotalPlayTimeMinutes, p.UpdatedAt.UTC(), p.ID)
	if err != nil {
		return fmt.Errorf("update profile: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("profile %s: %w", p.ID, ErrNotFound)
	}
	return nil
}

func (d *DuckDBStore) queryProfiles(ctx context.Context, query string, args ...interface{}) ([]models.PlayerProfile, error) {
	rows, err := d.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query profiles: %w", err)
	}
	defer rows.Close()

	var out []models.PlayerProfile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("scan profile: %w", err)
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// ListProfiles implements Store.
func (d *DuckDBStore) ListProfiles(ctx context.Context, serverID string, limit int) ([]models.PlayerProfile, error) {
	q := `SELECT ` + profileColumns + ` FROM player_profiles WHERE server_id = ?
		ORDER BY updated_at DESC, last_seen_time DESC`
	if limit > 0 {
		return d.queryProfiles(ctx, q+` LIMIT ?`, serverID, limit)
	}
	return d.queryProfiles(ctx, q, serverID)
}

// ListOnlineProfiles implements Store.
func (d *DuckDBStore) ListOnlineProfiles(ctx context.Context, serverID string) ([]models.PlayerProfile, error) {
	return d.queryProfiles(ctx,
		`SELECT `+profileColumns+` FROM player_profiles WHERE server_id = ? AND is_online`, serverID)
}

// CreateSession implements Store.
func (d *DuckDBStore) CreateSession(ctx context.Context, s *models.PlayerSession) error {
	tx, err := d.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if s.IsActive {
		var n int
		if err := tx.QueryRowContext(ctx,
			`SELECT count(*) FROM player_sessions WHERE profile_id = ? AND is_active`,
			s.ProfileID).Scan(&n); err != nil {
			return fmt.Errorf("check active session: %w", err)
		}
		if n > 0 {
			return fmt.Errorf("active session for profile %s: %w", s.ProfileID, ErrAlreadyExists)
		}
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO player_sessions (`+sessionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.ProfileID, s.ServerID, s.PlayerName, nullString(s.PlayerID), s.JoinTime.UTC(),
		nullTime(s.LeaveTime), nullInt(s.DurationMinutes), s.IsActive)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return tx.Commit()
}

// UpdateSession implements Store.
func (d *DuckDBStore) UpdateSession(ctx context.Context, s *models.PlayerSession) error {
	res, err := d.conn.ExecContext(ctx,
		`UPDATE player_sessions SET leave_time = ?, duration_minutes = ?, is_active = ? WHERE id = ?`,
		nullTime(s.LeaveTime), nullInt(s.DurationMinutes), s.IsActive, s.ID)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("session %s: %w", s.ID, ErrNotFound)
	}
	return nil
}

// ActiveSession implements Store.
func (d *DuckDBStore) ActiveSession(ctx context.Context, profileID string) (*models.PlayerSession, error) {
	row := d.conn.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM player_sessions WHERE profile_id = ? AND is_active
		ORDER BY join_time DESC LIMIT 1`, profileID)
	return scanSession(row)
}

// ListSessions implements Store.
func (d *DuckDBStore) ListSessions(ctx context.Context, profileID string, limit int) ([]models.PlayerSession, error) {
	q := `SELECT ` + sessionColumns + ` FROM player_sessions WHERE profile_id = ? ORDER BY join_time DESC`
	args := []interface{}{profileID}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := d.conn.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var out []models.PlayerSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

// AppendActivity implements Store.
func (d *DuckDBStore) AppendActivity(ctx context.Context, a *models.ActivityEvent) error {
	_, err := d.conn.ExecContext(ctx,
		`INSERT INTO player_activities (`+activityColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.ProfileID, nullString(a.SessionID), a.ServerID, a.PlayerName, nullString(a.PlayerID),
		string(a.Action), a.Timestamp.UTC())
	if err != nil {
		return fmt.Errorf("insert activity: %w", err)
	}
	return nil
}

// ListActivity implements Store.
func (d *DuckDBStore) ListActivity(ctx context.Context, f ActivityFilter) ([]models.ActivityEvent, error) {
	var (
		where []string
		args  []interface{}
	)
	if f.ServerID != "" {
		where = append(where, "server_id = ?")
		args = append(args, f.ServerID)
	}
	if f.PlayerName != "" {
		where = append(where, "player_name = ?")
		args = append(args, f.PlayerName)
	}
	if !f.Since.IsZero() {
		where = append(where, "occurred_at >= ?")
		args = append(args, f.Since.UTC())
	}

	q := `SELECT ` + activityColumns + ` FROM player_activities`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY occurred_at DESC`
	if f.Limit > 0 {
		q += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := d.conn.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query activity: %w", err)
	}
	defer rows.Close()

	var out []models.ActivityEvent
	for rows.Next() {
		a, err := scanActivity(rows)
		if err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// DeleteActivityBefore implements Store.
func (d *DuckDBStore) DeleteActivityBefore(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := d.conn.ExecContext(ctx, `DELETE FROM player_activities WHERE occurred_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("delete activity: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// DeleteClosedSessionsBefore implements Store.
func (d *DuckDBStore) DeleteClosedSessionsBefore(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := d.conn.ExecContext(ctx,
		`DELETE FROM player_sessions WHERE NOT is_active AND leave_time IS NOT NULL AND leave_time < ?`,
		cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("delete sessions: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// Ping implements Store.
func (d *DuckDBStore) Ping(ctx context.Context) error {
	return d.conn.PingContext(ctx)
}

// Close implements Store.
func (d *DuckDBStore) Close() error {
	return d.conn.Close()
}
