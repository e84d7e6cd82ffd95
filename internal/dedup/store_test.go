package dedup

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/maine/newsdigestbot/internal/news"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestMarkSentIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, s.MarkSent(ctx, "chat-1", "fp-1", news.CategoryTech, now))
	require.NoError(t, s.MarkSent(ctx, "chat-1", "fp-1", news.CategoryTech, now.Add(time.Minute)))

	seen, err := s.HasSeen(ctx, "chat-1", "fp-1")
	require.NoError(t, err)
	require.True(t, seen)

	seen, err = s.HasSeen(ctx, "chat-1", "fp-2")
	require.NoError(t, err)
	require.False(t, seen)
}

func TestPurgeOlderThan(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	old := time.Now().Add(-10 * 24 * time.Hour)
	recent := time.Now()

	require.NoError(t, s.MarkSent(ctx, "chat-1", "old-fp", news.CategoryGlobal, old))
	require.NoError(t, s.MarkSent(ctx, "chat-1", "recent-fp", news.CategoryGlobal, recent))

	n, err := s.PurgeOlderThan(ctx, time.Now().Add(-7*24*time.Hour))
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	seen, err := s.HasSeen(ctx, "chat-1", "old-fp")
	require.NoError(t, err)
	require.False(t, seen)

	seen, err = s.HasSeen(ctx, "chat-1", "recent-fp")
	require.NoError(t, err)
	require.True(t, seen)
}

func TestSubscribeAndUnsubscribe(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, s.Subscribe(ctx, "chat-1", "Asia/Dhaka", now))
	subs, err := s.ActiveSubscribers(ctx)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	require.Equal(t, "Asia/Dhaka", subs[0].Timezone)

	require.NoError(t, s.Unsubscribe(ctx, "chat-1"))
	subs, err = s.ActiveSubscribers(ctx)
	require.NoError(t, err)
	require.Empty(t, subs)
}

func TestMarkSlotSentRecordsLocalDate(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, s.Subscribe(ctx, "chat-1", "Asia/Dhaka", now))
	today := time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.MarkSlotSent(ctx, "chat-1", news.SlotMorning, today))

	subs, err := s.ActiveSubscribers(ctx)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	sent, ok := subs[0].LastSlotSent[news.SlotMorning]
	require.True(t, ok)
	require.Equal(t, today.Format("2006-01-02"), sent.Format("2006-01-02"))
}
