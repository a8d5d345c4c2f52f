package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/wricardo/kartrace/game/race"
)

var (
	ErrPlayerNotFound  = errors.New("player not found")
	ErrUnknownDriver   = errors.New("unknown store driver")
	ErrInvalidPassword = errors.New("invalid stored password format")
)

// MinUsernameLength is the shortest username Register accepts.
const MinUsernameLength = 3

// Store persists accounts, wins and race records
type Store interface {
	// Authenticate reports whether user exists and pass matches its password.
	Authenticate(ctx context.Context, user, pass string) (bool, error)
	// Register creates an account. It returns false when the username is
	// taken or does not satisfy ValidCredentials.
	Register(ctx context.Context, user, pass string) (bool, error)
	// WinsFor returns the win count of user, 0 for unknown users.
	WinsFor(ctx context.Context, user string) (int, error)
	// RecordWin increments the win count of user.
	RecordWin(ctx context.Context, user string) error
	// RecordRace stores the summary of a finished match.
	RecordRace(ctx context.Context, rec race.Record) error
	// Player returns the statistics of one account.
	Player(ctx context.Context, user string) (PlayerStats, error)
	// Leaderboard returns up to limit accounts ordered by wins.
	Leaderboard(ctx context.Context, limit int) ([]PlayerStats, error)
	// RecentRaces returns up to limit race records, newest first.
	RecentRaces(ctx context.Context, limit int) ([]race.Record, error)
	Close() error
}

const (
	// DefaultLeaderboardSize is used when Leaderboard gets a non-positive limit.
	DefaultLeaderboardSize = 10
	// DefaultRaceHistory is used when RecentRaces gets a non-positive limit.
	DefaultRaceHistory = 20
)

// PlayerStats is the public view of an account
type PlayerStats struct {
	Username    string    `json:"username"`
	Wins        int       `json:"wins"`
	RacesPlayed int       `json:"races_played"`
	CreatedAt   time.Time `json:"created_at"`
}

// ValidCredentials applies the account rules: a username of at least
// MinUsernameLength characters without whitespace or underscores and a
// non-empty password. Underscores are reserved for escaping spaces on the
// wire, so a name containing one would not survive a round trip.
func ValidCredentials(user, pass string) bool {
	if len([]rune(user)) < MinUsernameLength {
		return false
	}
	if strings.ContainsAny(user, " \t\r\n_") {
		return false
	}
	return pass != ""
}

// New opens the store selected by driver: "memory", "sqlite3" or "postgres".
func New(driver, dsn string) (Store, error) {
	if driver == DriverMemory {
		return NewMemory(), nil
	}
	s, err := Open(driver, dsn)
	if err != nil {
		return nil, err
	}
	return s, nil
}
