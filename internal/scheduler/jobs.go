package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/maine/newsdigestbot/internal/assembler"
	"github.com/maine/newsdigestbot/internal/news"
	"github.com/maine/newsdigestbot/internal/telegram"
)

var retryBackoffs = []time.Duration{30 * time.Second, 120 * time.Second}

// runScheduledJob builds and delivers one subscriber's slot digest, retrying
// transport failures per spec.md §4.5's backoff schedule before giving up.
// Dedup bookkeeping (mark_sent, last_slot_sent) happens only after a
// successful send.
func (s *Scheduler) runScheduledJob(ctx context.Context, sub news.Subscriber, slot news.Slot, localDate time.Time) {
	lock := s.chatLock(sub.ChatID)
	lock.Lock()
	defer lock.Unlock()

	jobCtx, cancel := context.WithTimeout(ctx, s.cfg.JobDeadline)
	defer cancel()

	digest, items := s.assembleDigest(jobCtx, sub.ChatID, slot, sub.Timezone)

	if err := s.deliverWithRetry(jobCtx, sub.ChatID, digest.Messages); err != nil {
		s.log.Error().Err(err).Str("chat_id", sub.ChatID).Str("slot", string(slot)).Msg("give up on delivery")
		s.observeDelivery("failure")
		if isPermanent(err) {
			s.log.Warn().Str("chat_id", sub.ChatID).Msg("deactivating subscriber after permanent transport failure")
			if deactivateErr := s.dedup.Unsubscribe(ctx, sub.ChatID); deactivateErr != nil {
				s.log.Error().Err(deactivateErr).Str("chat_id", sub.ChatID).Msg("deactivate subscriber")
			}
		}
		return
	}
	s.observeDelivery("success")

	now := s.clock()
	for _, category := range news.Categories {
		for _, it := range items[category] {
			if it.Placeholder {
				continue
			}
			if err := s.dedup.MarkSent(ctx, sub.ChatID, it.Fingerprint, category, now); err != nil {
				s.log.Error().Err(err).Str("chat_id", sub.ChatID).Msg("mark sent")
			}
		}
	}
	if err := s.dedup.MarkSlotSent(ctx, sub.ChatID, slot, localDate); err != nil {
		s.log.Error().Err(err).Str("chat_id", sub.ChatID).Msg("mark slot sent")
	}
}

// deliverWithRetry sends every message part in order, retrying the whole
// digest (not per-part) on transient/rate-limited failures up to
// len(retryBackoffs) extra attempts before giving up.
func (s *Scheduler) deliverWithRetry(ctx context.Context, chatID string, messages []string) error {
	var lastErr error
	attempts := append([]time.Duration{0}, retryBackoffs...)

	for i, wait := range attempts {
		if wait > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
		}

		if err := s.sendAll(ctx, chatID, messages); err != nil {
			lastErr = err
			if !retryable(err) {
				return err
			}
			s.log.Warn().Err(err).Int("attempt", i+1).Str("chat_id", chatID).Msg("delivery attempt failed")
			continue
		}
		return nil
	}
	return fmt.Errorf("delivery failed after %d attempts: %w", len(attempts), lastErr)
}

func (s *Scheduler) observeDelivery(outcome string) {
	if s.metrics == nil {
		return
	}
	s.metrics.DeliveryResults.WithLabelValues(outcome).Inc()
	if outcome == "success" {
		s.metrics.DigestsSent.Inc()
	}
}

func (s *Scheduler) sendAll(ctx context.Context, chatID string, messages []string) error {
	for _, m := range messages {
		res, err := s.transport.SendMessage(ctx, chatID, m, true)
		if err != nil {
			return err
		}
		if !res.OK {
			return kindError{kind: res.Kind}
		}
	}
	return nil
}

type kindError struct {
	kind telegram.ErrorKind
}

func (e kindError) Error() string { return fmt.Sprintf("telegram rejected message: %s", e.kind) }

func retryable(err error) bool {
	var ke kindError
	if ok := asKindError(err, &ke); ok {
		return ke.kind == telegram.KindRateLimited || ke.kind == telegram.KindTransient
	}
	return true // network/transport-level errors are worth a retry
}

// isPermanent reports whether err is a TransportPermanent rejection
// (unauthorized, chat_not_found), which per spec.md §7 means the subscriber
// should stop receiving digests rather than being retried on the next slot.
func isPermanent(err error) bool {
	var ke kindError
	if ok := asKindError(err, &ke); ok {
		return ke.kind == telegram.KindUnauthorized || ke.kind == telegram.KindChatNotFound
	}
	return false
}

func asKindError(err error, target *kindError) bool {
	return errors.As(err, target)
}

// RunOnDemandDigest builds a digest immediately, with no slot bookkeeping
// and no delivery retry — the on-demand command path of spec.md §4.6. The
// dispatcher replies with a single message, so multi-part digests (rare;
// only on unusually long category blocks) are joined rather than split.
func (s *Scheduler) RunOnDemandDigest(ctx context.Context, chatID string) (string, error) {
	lock := s.chatLock(chatID)
	lock.Lock()
	defer lock.Unlock()

	jobCtx, cancel := context.WithTimeout(ctx, s.cfg.JobDeadline)
	defer cancel()

	digest, _ := s.assembleDigest(jobCtx, chatID, "", s.onDemandTimezone(ctx, chatID))
	if len(digest.Messages) == 0 {
		return "", fmt.Errorf("empty digest")
	}
	return strings.Join(digest.Messages, "\n\n"), nil
}

func (s *Scheduler) onDemandTimezone(ctx context.Context, chatID string) string {
	subs, err := s.dedup.ActiveSubscribers(ctx)
	if err != nil {
		return "UTC"
	}
	for _, sub := range subs {
		if sub.ChatID == chatID {
			return sub.Timezone
		}
	}
	return "UTC"
}

// RunCoinDetail answers /btcstats and /coinstats.
func (s *Scheduler) RunCoinDetail(ctx context.Context, symbol string) (string, error) {
	detail, err := s.market.CoinDetail(ctx, symbol)
	if err != nil {
		return "", err
	}
	return assembler.FormatCoinDetail(detail), nil
}

// Subscribe and Unsubscribe delegate directly to the Dedup Store.
func (s *Scheduler) Subscribe(ctx context.Context, chatID, timezone string) error {
	return s.dedup.Subscribe(ctx, chatID, timezone, s.clock())
}

func (s *Scheduler) Unsubscribe(ctx context.Context, chatID string) error {
	return s.dedup.Unsubscribe(ctx, chatID)
}
