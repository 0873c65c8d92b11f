// Package store persists game records in Postgres. It is the single source
// of truth shared across worker processes; every mutation is a field-scoped
// partial update keyed by game id.
package store

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/scorepulse/scorepulse/internal/domain"
)

const gameColumns = `id, league, home_team_id, home_team_name, home_score,
	away_team_id, away_team_name, away_score, status, period,
	time_remaining, venue, COALESCE(events, '[]'::jsonb), last_updated`

// Postgres implements domain.GameStore on a pgx connection pool.
type Postgres struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// Connect opens a pgx pool and verifies connectivity.
func Connect(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// FindLive returns every record whose status is "live".
func (s *Postgres) FindLive(ctx context.Context) ([]domain.GameRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM games WHERE status = $1 ORDER BY id`, gameColumns)

	rows, err := s.pool.Query(ctx, query, domain.StatusLive)
	if err != nil {
		return nil, wrapStoreErr("find live games", err)
	}
	defer rows.Close()

	var games []domain.GameRecord
	for rows.Next() {
		game, err := scanGame(rows)
		if err != nil {
			return nil, fmt.Errorf("scan game row: %w", err)
		}
		games = append(games, game)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreErr("iterate live games", err)
	}

	return games, nil
}

// Get fetches a single record by id.
func (s *Postgres) Get(ctx context.Context, gameID string) (domain.GameRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM games WHERE id = $1`, gameColumns)

	game, err := scanGame(s.pool.QueryRow(ctx, query, gameID))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.GameRecord{}, fmt.Errorf("game %s: %w", gameID, domain.ErrGameNotFound)
	}
	if err != nil {
		return domain.GameRecord{}, wrapStoreErr("get game", err)
	}
	return game, nil
}

// ApplyDiff persists only the diff's fields plus lastUpdated. The WHERE
// clause excludes terminal records, so a write against one affects zero
// rows and is reported as ErrTerminalState. lastUpdated uses GREATEST to
// stay monotonically non-decreasing under clock skew.
func (s *Postgres) ApplyDiff(ctx context.Context, gameID string, diff domain.Diff, lastUpdated time.Time) error {
	if diff.Empty() {
		return nil
	}

	query, args, err := buildDiffUpdate(gameID, diff, lastUpdated)
	if err != nil {
		return err
	}

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return wrapStoreErr("apply diff", err)
	}

	if tag.RowsAffected() == 0 {
		return s.explainRejectedWrite(ctx, gameID)
	}
	return nil
}

// DeleteTerminalBefore removes games that reached a terminal status and
// whose last update is older than cutoff. It returns the number of rows
// removed.
func (s *Postgres) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM games
		 WHERE status IN ('completed', 'cancelled', 'postponed', 'abandoned')
		   AND last_updated < $1`,
		cutoff)
	if err != nil {
		return 0, wrapStoreErr("delete terminal games", err)
	}
	return tag.RowsAffected(), nil
}

// Ping reports store reachability.
func (s *Postgres) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return &domain.StoreUnavailableError{Err: err}
	}
	return nil
}

// diffColumns fixes the column mapping and ordering for diff fields, so
// generated SQL is deterministic.
var diffColumns = []struct {
	field  string
	column string
}{
	{domain.FieldStatus, "status"},
	{domain.FieldHomeScore, "home_score"},
	{domain.FieldAwayScore, "away_score"},
	{domain.FieldPeriod, "period"},
	{domain.FieldTimeRemaining, "time_remaining"},
}

func buildDiffUpdate(gameID string, diff domain.Diff, lastUpdated time.Time) (string, []any, error) {
	sets := make([]string, 0, len(diff)+1)
	args := []any{gameID}

	for _, dc := range diffColumns {
		value, ok := diff[dc.field]
		if !ok {
			continue
		}
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", dc.column, len(args)))
	}

	if events, ok := diff[domain.FieldEvents]; ok {
		encoded, err := json.Marshal(events)
		if err != nil {
			return "", nil, fmt.Errorf("encode events: %w", err)
		}
		args = append(args, encoded)
		sets = append(sets, fmt.Sprintf("events = COALESCE(events, '[]'::jsonb) || $%d::jsonb", len(args)))
	}

	for field := range diff {
		if !knownField(field) {
			return "", nil, fmt.Errorf("unknown diff field %q", field)
		}
	}

	args = append(args, lastUpdated)
	sets = append(sets, fmt.Sprintf("last_updated = GREATEST(last_updated, $%d)", len(args)))

	query := fmt.Sprintf(
		`UPDATE games SET %s WHERE id = $1 AND status NOT IN ('completed', 'cancelled', 'postponed', 'abandoned')`,
		strings.Join(sets, ", "),
	)
	return query, args, nil
}

func knownField(field string) bool {
	switch field {
	case domain.FieldStatus, domain.FieldHomeScore, domain.FieldAwayScore,
		domain.FieldPeriod, domain.FieldTimeRemaining, domain.FieldEvents:
		return true
	}
	return false
}

// explainRejectedWrite distinguishes a missing record from a terminal one.
func (s *Postgres) explainRejectedWrite(ctx context.Context, gameID string) error {
	var status domain.GameStatus
	err := s.pool.QueryRow(ctx, `SELECT status FROM games WHERE id = $1`, gameID).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("game %s: %w", gameID, domain.ErrGameNotFound)
	}
	if err != nil {
		return wrapStoreErr("check rejected write", err)
	}
	if status.Terminal() {
		return fmt.Errorf("game %s (%s): %w", gameID, status, domain.ErrTerminalState)
	}
	return fmt.Errorf("update of game %s affected no rows", gameID)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanGame(row rowScanner) (domain.GameRecord, error) {
	var g domain.GameRecord
	err := row.Scan(
		&g.ID, &g.League,
		&g.HomeTeam.ID, &g.HomeTeam.Name, &g.HomeTeam.Score,
		&g.AwayTeam.ID, &g.AwayTeam.Name, &g.AwayTeam.Score,
		&g.Status, &g.Period, &g.TimeRemaining, &g.Venue,
		&g.Events, &g.LastUpdated,
	)
	return g, err
}

func wrapStoreErr(op string, err error) error {
	if isConnErr(err) {
		return &domain.StoreUnavailableError{Err: fmt.Errorf("%s: %w", op, err)}
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isConnErr(err error) bool {
	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded) || pgconn.SafeToRetry(err)
}
