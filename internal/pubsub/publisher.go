// Package pubsub publishes alerts to Redis and maintains the smoothed
// global threat-score key, grounded on the dual local/Redis fan-out
// pattern of a Redis-backed event bus: publish failures degrade
// gracefully rather than failing the caller.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"icc.tech/nds/internal/core"
)

const publishTimeout = 1 * time.Second

// Publisher owns one Redis client handle reused for every publish call,
// per spec.md §5's "one publisher handle reused" shared-resource rule.
type Publisher struct {
	client         *redis.Client
	alertChannel   string
	threatScoreKey string
	alpha          float64
}

// NewPublisher builds a Publisher over the given Redis client.
func NewPublisher(client *redis.Client, alertChannel, threatScoreKey string, alpha float64) *Publisher {
	return &Publisher{client: client, alertChannel: alertChannel, threatScoreKey: threatScoreKey, alpha: alpha}
}

// PublishAlert serialises the alert as JSON and publishes it to the
// realtime alert channel, then updates the smoothed global threat-score
// key. Both operations are best-effort: failures are returned for the
// caller to count and log, never retried or escalated.
func (p *Publisher) PublishAlert(ctx context.Context, alert core.AlertRecord) error {
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	payload, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}

	if err := p.client.Publish(ctx, p.alertChannel, payload).Err(); err != nil {
		return fmt.Errorf("publish alert: %w", err)
	}

	if err := p.updateThreatScore(ctx, alert.ThreatScore); err != nil {
		return fmt.Errorf("update threat score: %w", err)
	}
	return nil
}

// updateThreatScore applies score_new = alpha*finalRisk + (1-alpha)*score_old.
func (p *Publisher) updateThreatScore(ctx context.Context, finalRisk float64) error {
	current, err := p.client.Get(ctx, p.threatScoreKey).Float64()
	if err != nil && err != redis.Nil {
		return err
	}
	// err == redis.Nil means no prior score; treat as 0.
	updated := smooth(p.alpha, finalRisk, current)
	return p.client.Set(ctx, p.threatScoreKey, strconv.FormatFloat(updated, 'f', -1, 64), 0).Err()
}

// smooth applies the exponential smoothing update from spec.md §4.6:
// score_new = alpha*finalRisk + (1-alpha)*score_old.
func smooth(alpha, finalRisk, scoreOld float64) float64 {
	return alpha*finalRisk + (1-alpha)*scoreOld
}
