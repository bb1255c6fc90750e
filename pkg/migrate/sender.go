// Copyright 2024-2026 Aiku AI

package migrate

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

// RetryPolicy bounds the send retry loop. Any monotonically increasing
// backoff with a finite ceiling works; the defaults are deliberately gentle
// because both homeservers rate-limit.
type RetryPolicy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// DefaultRetryPolicy is used when the config does not override retry tuning.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:  5,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     30 * time.Second,
	}
}

// retrySender wraps Client.SendEvent with bounded exponential backoff.
// Rate-limit responses carrying a server-suggested delay have that delay
// honored exactly instead of the curve's next interval.
type retrySender struct {
	policy RetryPolicy
	log    zerolog.Logger

	// sleep is a seam for tests; defaults to a context-aware wait.
	sleep func(ctx context.Context, d time.Duration) error
}

func newRetrySender(policy RetryPolicy, log zerolog.Logger) *retrySender {
	if policy.MaxAttempts <= 0 {
		policy = DefaultRetryPolicy()
	}
	return &retrySender{
		policy: policy,
		log:    log,
		sleep:  sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// do runs op, retrying transient failures until the attempt budget is
// exhausted. The returned error is permanent from the caller's perspective.
func (s *retrySender) do(ctx context.Context, op func() error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.policy.InitialDelay
	bo.MaxInterval = s.policy.MaxDelay
	bo.MaxElapsedTime = 0
	bo.Reset()

	var lastErr error
	for attempt := 1; attempt <= s.policy.MaxAttempts; attempt++ {
		err := op()
		if err == nil {
			return nil
		}
		lastErr = err

		if !isRetryableSend(err) {
			return err
		}
		if attempt == s.policy.MaxAttempts {
			break
		}

		delay := bo.NextBackOff()
		if delay == backoff.Stop {
			break
		}
		if suggested := retryAfter(err); suggested > 0 {
			delay = suggested
		}
		s.log.Debug().
			Err(err).
			Int("attempt", attempt).
			Dur("delay", delay).
			Msg("Transient failure, backing off")
		if err := s.sleep(ctx, delay); err != nil {
			return err
		}
	}
	return fmt.Errorf("failed after %d attempts: %w", s.policy.MaxAttempts, lastErr)
}

// send delivers one event through the retry loop. The error is permanent:
// the event is counted as failed and the room moves on.
func (s *retrySender) send(ctx context.Context, dest Client, roomID id.RoomID, evtType event.Type, content *event.Content, encrypt bool) (id.EventID, error) {
	var eventID id.EventID
	err := s.do(ctx, func() error {
		var err error
		eventID, err = dest.SendEvent(ctx, roomID, evtType, content, encrypt)
		return err
	})
	if err != nil {
		return "", err
	}
	return eventID, nil
}
