package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/wricardo/kartrace/game/race"
)

// Supported database/sql drivers
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS players (
		username      TEXT PRIMARY KEY,
		password_hash TEXT NOT NULL,
		total_wins    INTEGER NOT NULL DEFAULT 0,
		races_played  INTEGER NOT NULL DEFAULT 0,
		created_at    BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS races (
		id           TEXT PRIMARY KEY,
		map_choice   INTEGER NOT NULL,
		winner       TEXT NOT NULL DEFAULT '',
		winner_slot  INTEGER NOT NULL DEFAULT 0,
		outcome      TEXT NOT NULL,
		participants TEXT NOT NULL,
		started_at   BIGINT NOT NULL,
		finished_at  BIGINT NOT NULL
	)`,
}

// SQLStore is a Store backed by sqlite3 or postgres
type SQLStore struct {
	db     *sql.DB
	driver string
	now    func() time.Time
}

// Open connects to the database, verifies the connection and creates the
// schema when missing.
func Open(driver, dsn string) (*SQLStore, error) {
	if driver != DriverSQLite && driver != DriverPostgres {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", driver, err)
	}
	if driver == DriverSQLite {
		// sqlite serializes writers; one connection avoids SQLITE_BUSY
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to %s database: %w", driver, err)
	}

	s := &SQLStore{db: db, driver: driver, now: time.Now}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}
	return nil
}

// rebind rewrites '?' placeholders to the driver's syntax.
func (s *SQLStore) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQLStore) Authenticate(ctx context.Context, user, pass string) (bool, error) {
	var hash string
	err := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT password_hash FROM players WHERE username = ?`), user).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to load player %s: %w", user, err)
	}
	return CheckPassword(hash, pass)
}

func (s *SQLStore) Register(ctx context.Context, user, pass string) (bool, error) {
	if !ValidCredentials(user, pass) {
		return false, nil
	}
	hash, err := HashPassword(pass)
	if err != nil {
		return false, err
	}

	res, err := s.db.ExecContext(ctx, s.rebind(
		`INSERT INTO players (username, password_hash, created_at) VALUES (?, ?, ?)
		 ON CONFLICT (username) DO NOTHING`),
		user, hash, s.now().UnixMilli())
	if err != nil {
		return false, fmt.Errorf("failed to register player %s: %w", user, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to register player %s: %w", user, err)
	}
	return n == 1, nil
}

func (s *SQLStore) WinsFor(ctx context.Context, user string) (int, error) {
	var wins int
	err := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT total_wins FROM players WHERE username = ?`), user).Scan(&wins)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to load wins for %s: %w", user, err)
	}
	return wins, nil
}

func (s *SQLStore) RecordWin(ctx context.Context, user string) error {
	res, err := s.db.ExecContext(ctx,
		s.rebind(`UPDATE players SET total_wins = total_wins + 1 WHERE username = ?`), user)
	if err != nil {
		return fmt.Errorf("failed to record win for %s: %w", user, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrPlayerNotFound
	}
	return nil
}

func (s *SQLStore) RecordRace(ctx context.Context, rec race.Record) error {
	participants, err := json.Marshal(rec.Participants)
	if err != nil {
		return fmt.Errorf("failed to encode participants: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin race transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, s.rebind(
		`INSERT INTO races (id, map_choice, winner, winner_slot, outcome, participants, started_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		rec.ID, rec.Map, rec.Winner, rec.WinnerSlot, string(rec.Outcome), string(participants),
		rec.StartedAt.UnixMilli(), rec.FinishedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to insert race %s: %w", rec.ID, err)
	}

	for _, p := range rec.Participants {
		_, err := tx.ExecContext(ctx,
			s.rebind(`UPDATE players SET races_played = races_played + 1 WHERE username = ?`), p.Name)
		if err != nil {
			return fmt.Errorf("failed to update races for %s: %w", p.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit race %s: %w", rec.ID, err)
	}
	return nil
}

const raceColumns = `id, map_choice, winner, winner_slot, outcome, participants, started_at, finished_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRace(row rowScanner) (race.Record, error) {
	var (
		rec                 race.Record
		outcome, parts      string
		startedMs, finishMs int64
	)
	if err := row.Scan(&rec.ID, &rec.Map, &rec.Winner, &rec.WinnerSlot, &outcome, &parts, &startedMs, &finishMs); err != nil {
		return race.Record{}, err
	}
	if err := json.Unmarshal([]byte(parts), &rec.Participants); err != nil {
		return race.Record{}, fmt.Errorf("failed to decode participants of race %s: %w", rec.ID, err)
	}
	rec.Outcome = race.Outcome(outcome)
	rec.StartedAt = time.UnixMilli(startedMs)
	rec.FinishedAt = time.UnixMilli(finishMs)
	return rec, nil
}

// Race loads one recorded race by ID.
func (s *SQLStore) Race(ctx context.Context, id string) (race.Record, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+raceColumns+` FROM races WHERE id = ?`), id)
	rec, err := scanRace(row)
	if err != nil {
		return race.Record{}, fmt.Errorf("failed to load race %s: %w", id, err)
	}
	return rec, nil
}

func (s *SQLStore) RecentRaces(ctx context.Context, limit int) ([]race.Record, error) {
	if limit <= 0 {
		limit = DefaultRaceHistory
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT `+raceColumns+` FROM races ORDER BY finished_at DESC, id DESC LIMIT ?`), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query races: %w", err)
	}
	defer rows.Close()

	var out []race.Record
	for rows.Next() {
		rec, err := scanRace(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan race: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SQLStore) Player(ctx context.Context, user string) (PlayerStats, error) {
	var (
		p         PlayerStats
		createdMs int64
	)
	err := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT username, total_wins, races_played, created_at FROM players WHERE username = ?`), user).
		Scan(&p.Username, &p.Wins, &p.RacesPlayed, &createdMs)
	if errors.Is(err, sql.ErrNoRows) {
		return PlayerStats{}, ErrPlayerNotFound
	}
	if err != nil {
		return PlayerStats{}, fmt.Errorf("failed to load player %s: %w", user, err)
	}
	p.CreatedAt = time.UnixMilli(createdMs)
	return p, nil
}

func (s *SQLStore) Leaderboard(ctx context.Context, limit int) ([]PlayerStats, error) {
	if limit <= 0 {
		limit = DefaultLeaderboardSize
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT username, total_wins, races_played, created_at FROM players
		 ORDER BY total_wins DESC, username ASC LIMIT ?`), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load leaderboard: %w", err)
	}
	defer rows.Close()

	var out []PlayerStats
	for rows.Next() {
		var (
			p         PlayerStats
			createdMs int64
		)
		if err := rows.Scan(&p.Username, &p.Wins, &p.RacesPlayed, &createdMs); err != nil {
			return nil, fmt.Errorf("failed to scan leaderboard row: %w", err)
		}
		p.CreatedAt = time.UnixMilli(createdMs)
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}
