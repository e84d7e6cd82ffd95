package dedup

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/maine/newsdigestbot/internal/news"
)

// Subscribe registers a chat (or reactivates an existing one) with the
// given IANA timezone.
func (s *Store) Subscribe(ctx context.Context, chatID, timezone string, now time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO subscribers (chat_id, timezone, active, created_at) VALUES (?, ?, 1, ?)
		 ON CONFLICT (chat_id) DO UPDATE SET active = 1, timezone = excluded.timezone`,
		chatID, timezone, now.UTC(),
	)
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	return nil
}

// Unsubscribe deactivates a chat without losing its send history.
func (s *Store) Unsubscribe(ctx context.Context, chatID string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE subscribers SET active = 0 WHERE chat_id = ?`, chatID)
	if err != nil {
		return fmt.Errorf("unsubscribe: %w", err)
	}
	return nil
}

// ActiveSubscribers returns every currently active subscriber.
func (s *Store) ActiveSubscribers(ctx context.Context) ([]news.Subscriber, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT chat_id, timezone, active, created_at,
		        last_slot_sent_morning, last_slot_sent_noon, last_slot_sent_evening, last_slot_sent_night
		 FROM subscribers WHERE active = 1`,
	)
	if err != nil {
		return nil, fmt.Errorf("active_subscribers: %w", err)
	}
	defer rows.Close()

	var out []news.Subscriber
	for rows.Next() {
		sub, err := scanSubscriber(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSubscriber(row rowScanner) (news.Subscriber, error) {
	var (
		chatID, timezone                                    string
		active                                               int
		createdAt                                            time.Time
		morning, noon, evening, night                        sql.NullTime
	)
	if err := row.Scan(&chatID, &timezone, &active, &createdAt, &morning, &noon, &evening, &night); err != nil {
		return news.Subscriber{}, fmt.Errorf("scan subscriber: %w", err)
	}

	sub := news.Subscriber{
		ChatID:       chatID,
		Timezone:     timezone,
		Active:       active != 0,
		CreatedAt:    createdAt,
		LastSlotSent: make(map[news.Slot]time.Time, 4),
	}
	if morning.Valid {
		sub.LastSlotSent[news.SlotMorning] = morning.Time
	}
	if noon.Valid {
		sub.LastSlotSent[news.SlotNoon] = noon.Time
	}
	if evening.Valid {
		sub.LastSlotSent[news.SlotEvening] = evening.Time
	}
	if night.Valid {
		sub.LastSlotSent[news.SlotNight] = night.Time
	}
	return sub, nil
}

// MarkSlotSent records that a subscriber's digest for the given slot went
// out on localDate, advancing last_slot_sent at most once per day (§8).
func (s *Store) MarkSlotSent(ctx context.Context, chatID string, slot news.Slot, localDate time.Time) error {
	col, err := slotColumn(slot)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`UPDATE subscribers SET %s = ? WHERE chat_id = ?`, col)
	if _, err := s.db.ExecContext(ctx, query, localDate.Format("2006-01-02"), chatID); err != nil {
		return fmt.Errorf("mark_slot_sent: %w", err)
	}
	return nil
}

func slotColumn(slot news.Slot) (string, error) {
	switch slot {
	case news.SlotMorning:
		return "last_slot_sent_morning", nil
	case news.SlotNoon:
		return "last_slot_sent_noon", nil
	case news.SlotEvening:
		return "last_slot_sent_evening", nil
	case news.SlotNight:
		return "last_slot_sent_night", nil
	default:
		return "", fmt.Errorf("unknown slot %q", slot)
	}
}
