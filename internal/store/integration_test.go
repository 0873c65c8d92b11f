package store

import (
	"context"
	"flag"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/scorepulse/scorepulse/internal/domain"
)

var (
	testDatabaseURL string
	pgContainer     testcontainers.Container
)

const testSchema = `
CREATE TABLE games (
	id             TEXT PRIMARY KEY,
	league         TEXT NOT NULL,
	home_team_id   TEXT NOT NULL,
	home_team_name TEXT NOT NULL,
	home_score     INT  NOT NULL DEFAULT 0 CHECK (home_score >= 0),
	away_team_id   TEXT NOT NULL,
	away_team_name TEXT NOT NULL,
	away_score     INT  NOT NULL DEFAULT 0 CHECK (away_score >= 0),
	status         TEXT NOT NULL,
	period         INT  NOT NULL DEFAULT 0,
	time_remaining TEXT NOT NULL DEFAULT '',
	venue          TEXT NOT NULL DEFAULT '',
	events         JSONB,
	last_updated   TIMESTAMPTZ NOT NULL DEFAULT now()
);`

func TestMain(m *testing.M) {
	// Parse flags to check for -short
	flag.Parse()

	// Skip container setup if running in short mode
	if testing.Short() {
		os.Exit(m.Run())
	}

	ctx := context.Background()
	var err error
	pgContainer, err = postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("scorepulse"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start postgres container: %v\n", err)
		os.Exit(1)
	}

	testDatabaseURL, err = pgContainer.(*postgres.PostgresContainer).ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to get postgres connection string: %v\n", err)
		os.Exit(1)
	}

	defer func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "failed to terminate postgres container: %v\n", err)
		}
	}()
	os.Exit(m.Run())
}

func setupTestStore(t *testing.T) *Postgres {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, testDatabaseURL)
	require.NoError(t, err)

	_, err = pool.Exec(ctx, `DROP TABLE IF EXISTS games`)
	require.NoError(t, err)
	_, err = pool.Exec(ctx, testSchema)
	require.NoError(t, err)

	t.Cleanup(pool.Close)
	return New(pool)
}

func insertGame(t *testing.T, s *Postgres, g domain.GameRecord) {
	t.Helper()
	_, err := s.pool.Exec(context.Background(),
		`INSERT INTO games (id, league, home_team_id, home_team_name, home_score,
			away_team_id, away_team_name, away_score, status, period, time_remaining, venue, last_updated)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		g.ID, g.League,
		g.HomeTeam.ID, g.HomeTeam.Name, g.HomeTeam.Score,
		g.AwayTeam.ID, g.AwayTeam.Name, g.AwayTeam.Score,
		g.Status, g.Period, g.TimeRemaining, g.Venue, g.LastUpdated)
	require.NoError(t, err)
}

func testGame(id string, status domain.GameStatus) domain.GameRecord {
	return domain.GameRecord{
		ID:            id,
		League:        "NBA",
		HomeTeam:      domain.Team{ID: "lal", Name: "Lakers", Score: 50},
		AwayTeam:      domain.Team{ID: "bos", Name: "Celtics", Score: 48},
		Status:        status,
		Period:        3,
		TimeRemaining: "5:00",
		Venue:         "Crypto.com Arena",
		LastUpdated:   time.Now().UTC().Truncate(time.Millisecond),
	}
}

func TestFindLive(t *testing.T) {
	s := setupTestStore(t)

	insertGame(t, s, testGame("g1", domain.StatusLive))
	insertGame(t, s, testGame("g2", domain.StatusScheduled))
	insertGame(t, s, testGame("g3", domain.StatusLive))
	insertGame(t, s, testGame("g4", domain.StatusCompleted))

	games, err := s.FindLive(context.Background())
	require.NoError(t, err)

	require.Len(t, games, 2)
	assert.Equal(t, "g1", games[0].ID)
	assert.Equal(t, "g3", games[1].ID)
	assert.Equal(t, 50, games[0].HomeTeam.Score)
	assert.Equal(t, "Lakers", games[0].HomeTeam.Name)
}

func TestApplyDiff_PartialUpdate(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	insertGame(t, s, testGame("g1", domain.StatusLive))

	now := time.Now().UTC().Add(time.Minute)
	diff := domain.Diff{domain.FieldHomeScore: 52}
	diff.AppendEvents(domain.GameEvent{Type: "score", Period: 3, Team: "home", At: now})

	require.NoError(t, s.ApplyDiff(ctx, "g1", diff, now))

	got, err := s.Get(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, 52, got.HomeTeam.Score)
	assert.Equal(t, 48, got.AwayTeam.Score, "untouched field must not be clobbered")
	assert.Equal(t, "5:00", got.TimeRemaining)
	require.Len(t, got.Events, 1)
	assert.Equal(t, "score", got.Events[0].Type)
}

func TestApplyDiff_TerminalRecordRejected(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	insertGame(t, s, testGame("g1", domain.StatusCompleted))

	err := s.ApplyDiff(ctx, "g1", domain.Diff{domain.FieldHomeScore: 99}, time.Now())
	assert.ErrorIs(t, err, domain.ErrTerminalState)

	got, err := s.Get(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, 50, got.HomeTeam.Score, "terminal record must be untouched")
}

func TestApplyDiff_MissingGame(t *testing.T) {
	s := setupTestStore(t)
	err := s.ApplyDiff(context.Background(), "nope", domain.Diff{domain.FieldPeriod: 1}, time.Now())
	assert.ErrorIs(t, err, domain.ErrGameNotFound)
}

func TestApplyDiff_LastUpdatedMonotonic(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	g := testGame("g1", domain.StatusLive)
	g.LastUpdated = time.Now().UTC()
	insertGame(t, s, g)

	// A write stamped in the past must not move last_updated backwards.
	past := g.LastUpdated.Add(-time.Hour)
	require.NoError(t, s.ApplyDiff(ctx, "g1", domain.Diff{domain.FieldPeriod: 4}, past))

	got, err := s.Get(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, 4, got.Period)
	assert.False(t, got.LastUpdated.Before(g.LastUpdated.Add(-time.Second)),
		"last_updated must be monotonically non-decreasing")
}

func TestApplyDiff_EmptyDiffIsNoOp(t *testing.T) {
	s := setupTestStore(t)
	require.NoError(t, s.ApplyDiff(context.Background(), "g1", domain.Diff{}, time.Now()))
}

func TestGet_NotFound(t *testing.T) {
	s := setupTestStore(t)
	_, err := s.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrGameNotFound)
}

func TestPing(t *testing.T) {
	s := setupTestStore(t)
	assert.NoError(t, s.Ping(context.Background()))
}
