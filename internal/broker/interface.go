// Package broker provides market data clients for the 0DTE spread trader.
// It includes the tastytrade REST client, a DXLink-style websocket quote
// streamer, and a circuit-breaker decorator. The core never places orders
// through this interface; it is a read-only market data surface.
package broker

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/eddiefleurent/stamford_condor/internal/models"
	"github.com/sony/gobreaker"
)

// Broker defines the upstream market data contract the core depends on.
//
// All methods take a context and either return data or report failure;
// retry/backoff policy lives with the caller's supervisor, not here.
type Broker interface {
	// GetOptionChain returns the full chain for an underlying, keyed by
	// expiration date.
	GetOptionChain(ctx context.Context, underlying string) (models.Chain, error)
	// GetQuotes returns a batched quote snapshot for the given symbols.
	// Symbols with no update inside the snapshot window are absent from
	// the result; absence means "no new information", never zero value.
	GetQuotes(ctx context.Context, symbols []string) (map[string]models.Quote, error)
	// GetUnderlyingPrice returns the current mid price of the underlying.
	GetUnderlyingPrice(ctx context.Context, symbol string) (float64, error)
	// GetIVRank returns the implied volatility rank (0-100) for a symbol.
	GetIVRank(ctx context.Context, symbol string) (float64, error)
}

// CircuitBreakerBroker wraps a Broker with circuit breaker functionality.
// An open circuit surfaces as a NetworkError so callers hold rather than
// act on missing data.
type CircuitBreakerBroker struct {
	broker  Broker
	breaker *gobreaker.CircuitBreaker
}

// CircuitBreakerSettings configures circuit breaker behavior.
type CircuitBreakerSettings struct {
	MaxRequests  uint32        // Max requests when half-open
	Interval     time.Duration // Reset counts interval
	Timeout      time.Duration // Open circuit duration
	MinRequests  uint32        // Min requests before tripping
	FailureRatio float64       // Failure ratio threshold
}

// NewCircuitBreakerBroker creates a CircuitBreakerBroker with sensible defaults.
func NewCircuitBreakerBroker(broker Broker) *CircuitBreakerBroker {
	return NewCircuitBreakerBrokerWithSettings(broker, CircuitBreakerSettings{
		MaxRequests:  3,
		Interval:     60 * time.Second,
		Timeout:      30 * time.Second,
		MinRequests:  5,
		FailureRatio: 0.6,
	})
}

// NewCircuitBreakerBrokerWithSettings creates a CircuitBreakerBroker with custom settings.
func NewCircuitBreakerBrokerWithSettings(broker Broker, settings CircuitBreakerSettings) *CircuitBreakerBroker {
	gbSettings := gobreaker.Settings{
		Name:        "MarketDataCircuitBreaker",
		MaxRequests: settings.MaxRequests,
		Interval:    settings.Interval,
		Timeout:     settings.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests == 0 || counts.Requests < settings.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= settings.FailureRatio
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Printf("Circuit breaker %s state changed from %s to %s", name, from, to)
		},
		IsSuccessful: func(err error) bool {
			// Auth failures are handled by session re-login, not the
			// breaker; counting them would trip the circuit on a
			// credential problem.
			return err == nil || IsAuthErr(err)
		},
	}

	return &CircuitBreakerBroker{
		broker:  broker,
		breaker: gobreaker.NewCircuitBreaker(gbSettings),
	}
}

// Ensure CircuitBreakerBroker implements Broker at compile time.
var _ Broker = (*CircuitBreakerBroker)(nil)

// execCircuitBreaker is a generic helper for circuit breaker wrapper methods.
func execCircuitBreaker[T any](
	breaker *gobreaker.CircuitBreaker,
	broker Broker,
	fn func(Broker) (T, error),
) (T, error) {
	var zero T
	res, err := breaker.Execute(func() (interface{}, error) { return fn(broker) })
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return zero, &NetworkError{Err: err}
		}
		return zero, err
	}
	if res == nil {
		return zero, nil
	}
	v, ok := res.(T)
	if !ok {
		return zero, errors.New("circuit breaker: type assertion failed")
	}
	return v, nil
}

// GetOptionChain wraps the underlying broker call with circuit breaker.
func (c *CircuitBreakerBroker) GetOptionChain(ctx context.Context, underlying string) (models.Chain, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) (models.Chain, error) {
		return b.GetOptionChain(ctx, underlying)
	})
}

// GetQuotes wraps the underlying broker call with circuit breaker.
func (c *CircuitBreakerBroker) GetQuotes(ctx context.Context, symbols []string) (map[string]models.Quote, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) (map[string]models.Quote, error) {
		return b.GetQuotes(ctx, symbols)
	})
}

// GetUnderlyingPrice wraps the underlying broker call with circuit breaker.
func (c *CircuitBreakerBroker) GetUnderlyingPrice(ctx context.Context, symbol string) (float64, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) (float64, error) {
		return b.GetUnderlyingPrice(ctx, symbol)
	})
}

// GetIVRank wraps the underlying broker call with circuit breaker.
func (c *CircuitBreakerBroker) GetIVRank(ctx context.Context, symbol string) (float64, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) (float64, error) {
		return b.GetIVRank(ctx, symbol)
	})
}
