// Package feed fetches per-game snapshots from the external score provider
// and maps them into the internal status vocabulary.
package feed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/goccy/go-json"
	"github.com/jonboulle/clockwork"
	"github.com/sony/gobreaker"

	"github.com/scorepulse/scorepulse/internal/domain"
	"github.com/scorepulse/scorepulse/internal/metrics"
)

const (
	requestTimeout     = 5 * time.Second
	breakerMinRequests = 5
	breakerFailureRate = 0.6
	breakerOpenTimeout = 30 * time.Second
	maxResponseBytes   = 1 << 20
)

// providerPayload is the provider's wire format for one game.
type providerPayload struct {
	GameID    string `json:"gameId"`
	Status    string `json:"status"`
	HomeScore int    `json:"homeScore"`
	AwayScore int    `json:"awayScore"`
	Period    int    `json:"period"`
	Clock     string `json:"clock"`
}

// statusMapping translates provider status strings into the internal enum.
var statusMapping = map[string]domain.GameStatus{
	"not-started":      domain.StatusScheduled,
	"live":             domain.StatusLive,
	"half-time":        domain.StatusLive,
	"extra-time":       domain.StatusLive,
	"penalties":        domain.StatusLive,
	"full-time":        domain.StatusCompleted,
	"after-extra-time": domain.StatusCompleted,
	"awarded":          domain.StatusCompleted,
	"suspended":        domain.StatusSuspended,
	"interrupted":      domain.StatusSuspended,
	"cancelled":        domain.StatusCancelled,
	"postponed":        domain.StatusPostponed,
	"abandoned":        domain.StatusAbandoned,
}

// Client is an HTTP feed provider guarded by a circuit breaker. While the
// breaker is open, fetches fail fast with a transient error so the
// scheduler's normal backoff applies.
type Client struct {
	baseURL    string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
	clock      clockwork.Clock
}

func NewClient(baseURL string, clock clockwork.Clock) *Client {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "feed",
		Timeout: breakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRate := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= breakerMinRequests && failureRate >= breakerFailureRate
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("Feed circuit breaker state changed", "from", from.String(), "to", to.String())
			metrics.FeedBreakerState.Set(breakerStateToFloat(to))
		},
	})

	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: requestTimeout},
		breaker:    breaker,
		clock:      clock,
	}
}

// FetchGame returns the provider's current view of one game.
// Network errors, 5xx responses, and an open breaker are transient;
// malformed payloads and unknown statuses are permanent validation errors.
func (c *Client) FetchGame(ctx context.Context, league, gameID string) (domain.FeedSnapshot, error) {
	result, err := c.breaker.Execute(func() (any, error) {
		return c.fetch(ctx, league, gameID)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			metrics.FeedRequestsTotal.WithLabelValues("breaker_open").Inc()
			return domain.FeedSnapshot{}, fmt.Errorf("feed circuit open: %w", err)
		}
		return domain.FeedSnapshot{}, err
	}

	payload := result.(providerPayload)
	snap, err := mapSnapshot(gameID, payload, c.clock.Now())
	if err != nil {
		metrics.FeedRequestsTotal.WithLabelValues("invalid").Inc()
		return domain.FeedSnapshot{}, err
	}

	metrics.FeedRequestsTotal.WithLabelValues("ok").Inc()
	return snap, nil
}

func (c *Client) fetch(ctx context.Context, league, gameID string) (providerPayload, error) {
	endpoint := fmt.Sprintf("%s/leagues/%s/games/%s",
		c.baseURL, url.PathEscape(league), url.PathEscape(gameID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return providerPayload{}, fmt.Errorf("build feed request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.FeedRequestsTotal.WithLabelValues("error").Inc()
		return providerPayload{}, fmt.Errorf("feed request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		metrics.FeedRequestsTotal.WithLabelValues("not_found").Inc()
		return providerPayload{}, fmt.Errorf("game %s: %w", gameID, domain.ErrGameNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		metrics.FeedRequestsTotal.WithLabelValues("error").Inc()
		return providerPayload{}, fmt.Errorf("feed returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return providerPayload{}, fmt.Errorf("read feed response: %w", err)
	}

	var payload providerPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return providerPayload{}, &domain.ValidationError{GameID: gameID, Reason: "malformed feed payload"}
	}

	return payload, nil
}

func mapSnapshot(gameID string, payload providerPayload, fetchedAt time.Time) (domain.FeedSnapshot, error) {
	status, ok := statusMapping[payload.Status]
	if !ok {
		return domain.FeedSnapshot{}, &domain.ValidationError{
			GameID: gameID,
			Reason: fmt.Sprintf("unknown provider status %q", payload.Status),
		}
	}

	return domain.FeedSnapshot{
		GameID:        gameID,
		Status:        status,
		HomeScore:     payload.HomeScore,
		AwayScore:     payload.AwayScore,
		Period:        payload.Period,
		TimeRemaining: payload.Clock,
		FetchedAt:     fetchedAt,
	}, nil
}

func breakerStateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}
