package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/maine/newsdigestbot/internal/news"
	"github.com/maine/newsdigestbot/internal/telegram"
)

func TestDueSlotMatchesWithinWindow(t *testing.T) {
	sub := news.Subscriber{ChatID: "1", Timezone: "UTC", LastSlotSent: map[news.Slot]time.Time{}}
	now := time.Date(2026, 7, 31, 8, 0, 30, 0, time.UTC)

	slot, _, due := dueSlot(sub, now)
	require.True(t, due)
	require.Equal(t, news.SlotMorning, slot)
}

func TestDueSlotSkipsAlreadySentToday(t *testing.T) {
	today := time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC)
	sub := news.Subscriber{
		ChatID:       "1",
		Timezone:     "UTC",
		LastSlotSent: map[news.Slot]time.Time{news.SlotMorning: today},
	}
	now := time.Date(2026, 7, 31, 8, 0, 10, 0, time.UTC)

	_, _, due := dueSlot(sub, now)
	require.False(t, due)
}

func TestDueSlotOutsideWindowIsNotDue(t *testing.T) {
	sub := news.Subscriber{ChatID: "1", Timezone: "UTC", LastSlotSent: map[news.Slot]time.Time{}}
	now := time.Date(2026, 7, 31, 8, 5, 0, 0, time.UTC)

	_, _, due := dueSlot(sub, now)
	require.False(t, due)
}

func TestDueSlotRespectsSubscriberTimezone(t *testing.T) {
	sub := news.Subscriber{ChatID: "1", Timezone: "Asia/Dhaka", LastSlotSent: map[news.Slot]time.Time{}} // UTC+6

	now := time.Date(2026, 7, 31, 2, 0, 15, 0, time.UTC) // 08:00:15 local
	slot, _, due := dueSlot(sub, now)
	require.True(t, due)
	require.Equal(t, news.SlotMorning, slot)
}

type fakeTransport struct {
	results []telegram.SendResult
	errs    []error
	calls   int
}

func (f *fakeTransport) SendMessage(ctx context.Context, chatID, text string, markdown bool) (telegram.SendResult, error) {
	i := f.calls
	f.calls++
	var res telegram.SendResult
	var err error
	if i < len(f.results) {
		res = f.results[i]
	}
	if i < len(f.errs) {
		err = f.errs[i]
	}
	return res, err
}

func (f *fakeTransport) GetUpdates(ctx context.Context, offset int64, timeout int) ([]telegram.Update, error) {
	return nil, nil
}

func testScheduler(transport telegram.TelegramClient) *Scheduler {
	return &Scheduler{
		transport: transport,
		cfg:       Config{JobDeadline: 45 * time.Second},
		clock:     time.Now,
		log:       zerolog.Nop(),
		workerSem: make(chan struct{}, 1),
		chatLocks: make(map[string]*sync.Mutex),
	}
}

func TestDeliverWithRetrySucceedsFirstTry(t *testing.T) {
	s := testScheduler(&fakeTransport{results: []telegram.SendResult{{OK: true}}})
	err := s.deliverWithRetry(context.Background(), "1", []string{"hello"})
	require.NoError(t, err)
}

func TestDeliverWithRetryGivesUpOnNonRetryableKind(t *testing.T) {
	s := testScheduler(&fakeTransport{results: []telegram.SendResult{{OK: false, Kind: telegram.KindUnauthorized}}})
	err := s.deliverWithRetry(context.Background(), "1", []string{"hello"})
	require.Error(t, err)
}

func TestDeliverWithRetryRetriesTransientThenSucceeds(t *testing.T) {
	s := testScheduler(&fakeTransport{results: []telegram.SendResult{
		{OK: false, Kind: telegram.KindTransient},
		{OK: true},
	}})
	s.cfg.JobDeadline = 5 * time.Second
	origBackoffs := retryBackoffs
	retryBackoffs = []time.Duration{10 * time.Millisecond, 10 * time.Millisecond}
	defer func() { retryBackoffs = origBackoffs }()

	err := s.deliverWithRetry(context.Background(), "1", []string{"hello"})
	require.NoError(t, err)
}

func TestRetryableClassifiesKinds(t *testing.T) {
	require.True(t, retryable(kindError{kind: telegram.KindRateLimited}))
	require.True(t, retryable(kindError{kind: telegram.KindTransient}))
	require.False(t, retryable(kindError{kind: telegram.KindChatNotFound}))
	require.False(t, retryable(kindError{kind: telegram.KindUnauthorized}))
}

func TestChatLockReturnsSameMutexForSameChat(t *testing.T) {
	s := testScheduler(&fakeTransport{})
	a := s.chatLock("1")
	b := s.chatLock("1")
	require.Same(t, a, b)
}
