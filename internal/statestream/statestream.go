// Package statestream publishes Hydra controller state transitions to a
// Redis Stream for operator-side observability, reusing the teacher's
// RedisClient/HeartbeatManager shapes (internal/messaging) but carrying
// head-state and credit fields instead of agent liveness.
package statestream

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/blockfrost/hydra-bridge/internal/hydra"
	"github.com/blockfrost/hydra-bridge/internal/messaging"
	"github.com/blockfrost/hydra-bridge/internal/metrics"
)

// StreamName is the Redis Stream every Publisher writes to, one entry per
// ObserveState call across all connections on this process; the controller
// reports its status on every state poll, so an unchanged status repeats.
const StreamName = "hydra-bridge:state-transitions"

// Publisher implements hydra.StateObserver by forwarding every observed
// state to a Redis Stream entry and to the internal/metrics collectors.
type Publisher struct {
	client *messaging.RedisClient
	peerID string
	logger *slog.Logger

	lastStatus string
	headOpen   bool
}

// NewPublisher binds a Publisher to peerID, the identity under which its
// entries are tagged so operators can filter the stream per connection.
func NewPublisher(client *messaging.RedisClient, peerID string, logger *slog.Logger) *Publisher {
	return &Publisher{client: client, peerID: peerID, logger: logger}
}

var _ hydra.StateObserver = (*Publisher)(nil)

// ObserveState implements hydra.StateObserver.
func (p *Publisher) ObserveState(role hydra.Role, status string, creditsAvailable uint64, headOpen bool) {
	if status != p.lastStatus {
		metrics.HeadTransitions.WithLabelValues(status).Inc()
	}
	metrics.CreditsAvailable.WithLabelValues(p.peerID).Set(float64(creditsAvailable))
	if headOpen && !p.headOpen {
		metrics.OpenHeads.Inc()
	} else if !headOpen && p.headOpen {
		metrics.OpenHeads.Dec()
	}
	p.lastStatus, p.headOpen = status, headOpen

	values := map[string]interface{}{
		"peer":              p.peerID,
		"role":              role.String(),
		"status":            status,
		"credits_available": creditsAvailable,
		"head_open":         headOpen,
		"observed_at":       time.Now().Unix(),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := p.client.Publish(ctx, StreamName, values); err != nil {
		p.logger.Warn("statestream: publish failed", "peer", p.peerID, "error", err)
	}
}

// Subscribe streams state transitions published by every Publisher to
// consumer's own channel, using the same consumer-group pattern as
// messaging.HeartbeatManager.SubscribeToHeartbeats.
func Subscribe(ctx context.Context, client *messaging.RedisClient, consumerName string) (<-chan messaging.Message, error) {
	group := "hydra-bridge-observers"
	ch, err := client.Subscribe(ctx, StreamName, group, consumerName)
	if err != nil {
		return nil, fmt.Errorf("statestream: subscribe: %w", err)
	}
	return ch, nil
}
