package dispatch

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ayursutra/scheduler/internal/circuitbreaker"
)

// ProtectedSender wraps a Sender with a circuit breaker so a failing
// gateway fails fast instead of stalling every tick on timeouts. An
// open circuit surfaces as an ordinary delivery failure.
type ProtectedSender struct {
	sender  Sender
	breaker *circuitbreaker.CircuitBreaker
	logger  *zap.Logger
}

// NewProtectedSender wraps a sender with circuit breaker protection.
func NewProtectedSender(sender Sender, breaker *circuitbreaker.CircuitBreaker, logger *zap.Logger) *ProtectedSender {
	return &ProtectedSender{
		sender:  sender,
		breaker: breaker,
		logger:  logger,
	}
}

// Send attempts delivery through the circuit breaker.
func (p *ProtectedSender) Send(ctx context.Context, req SendRequest) (*Receipt, error) {
	if !p.breaker.Allow() {
		p.logger.Warn("circuit breaker rejected send",
			zap.String("breaker", p.breaker.Name()),
			zap.String("channel", req.Channel),
			zap.String("state", p.breaker.GetState().String()),
		)
		return nil, fmt.Errorf("%w: %s gateway unavailable", circuitbreaker.ErrCircuitOpen, p.breaker.Name())
	}

	receipt, err := p.sender.Send(ctx, req)
	if err != nil {
		p.breaker.RecordFailure()
		return nil, err
	}

	p.breaker.RecordSuccess()
	return receipt, nil
}

// SupportsChannel delegates to the underlying sender.
func (p *ProtectedSender) SupportsChannel(channel string) bool {
	return p.sender.SupportsChannel(channel)
}

// Breaker exposes the underlying breaker for monitoring.
func (p *ProtectedSender) Breaker() *circuitbreaker.CircuitBreaker {
	return p.breaker
}
