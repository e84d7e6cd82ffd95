// Package scheduler drives the four-slot delivery loop and the on-demand
// digest path: the Scheduler ticks every 60s, determines which
// subscribers are due, and runs bounded delivery jobs that refresh feeds,
// snapshot the market, run the Selection Engine, assemble the digest and
// hand it to the transport.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/maine/newsdigestbot/internal/assembler"
	"github.com/maine/newsdigestbot/internal/dedup"
	"github.com/maine/newsdigestbot/internal/health"
	"github.com/maine/newsdigestbot/internal/holiday"
	"github.com/maine/newsdigestbot/internal/market"
	"github.com/maine/newsdigestbot/internal/news"
	"github.com/maine/newsdigestbot/internal/selection"
	"github.com/maine/newsdigestbot/internal/sources"
	"github.com/maine/newsdigestbot/internal/telegram"
	"github.com/maine/newsdigestbot/internal/weather"
)

const (
	slotMatchWindow    = 60 * time.Second
	defaultJobDeadline = 45 * time.Second
)

// Config carries the Scheduler's tunables.
type Config struct {
	TickInterval        time.Duration
	DeliveryParallelism int
	JobDeadline         time.Duration
	DefaultLocation     string
	DefaultCountry      string
}

// Scheduler is the Digest Assembler's orchestration loop of spec.md §4.5.
type Scheduler struct {
	fetcher   *sources.Fetcher
	dedup     *dedup.Store
	engine    *selection.Engine
	market    *market.Composer
	weather   weather.Provider
	holiday   holiday.Provider
	transport telegram.TelegramClient

	cfg   Config
	clock func() time.Time
	log   zerolog.Logger

	workerSem chan struct{}
	refresh   singleflight.Group

	chatLocksMu sync.Mutex
	chatLocks   map[string]*sync.Mutex

	metrics *health.Metrics
}

// WithMetrics attaches a Prometheus metrics bundle. Optional.
func (s *Scheduler) WithMetrics(m *health.Metrics) *Scheduler {
	s.metrics = m
	return s
}

// New builds a Scheduler.
func New(
	fetcher *sources.Fetcher,
	dedupStore *dedup.Store,
	engine *selection.Engine,
	composer *market.Composer,
	weatherProvider weather.Provider,
	holidayProvider holiday.Provider,
	transport telegram.TelegramClient,
	cfg Config,
	clock func() time.Time,
	log zerolog.Logger,
) *Scheduler {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 60 * time.Second
	}
	if cfg.DeliveryParallelism <= 0 {
		cfg.DeliveryParallelism = 8
	}
	if cfg.JobDeadline <= 0 {
		cfg.JobDeadline = defaultJobDeadline
	}
	if clock == nil {
		clock = time.Now
	}
	return &Scheduler{
		fetcher:   fetcher,
		dedup:     dedupStore,
		engine:    engine,
		market:    composer,
		weather:   weatherProvider,
		holiday:   holidayProvider,
		transport: transport,
		cfg:       cfg,
		clock:     clock,
		log:       log,
		workerSem: make(chan struct{}, cfg.DeliveryParallelism),
		chatLocks: make(map[string]*sync.Mutex),
	}
}

// Run blocks, ticking every cfg.TickInterval until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	subs, err := s.dedup.ActiveSubscribers(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("list active subscribers")
		return
	}

	now := s.clock()
	var wg sync.WaitGroup
	for _, sub := range subs {
		slot, localDate, due := dueSlot(sub, now)
		if !due {
			continue
		}

		wg.Add(1)
		go func(sub news.Subscriber, slot news.Slot, localDate time.Time) {
			defer wg.Done()
			s.workerSem <- struct{}{}
			defer func() { <-s.workerSem }()
			s.runScheduledJob(ctx, sub, slot, localDate)
		}(sub, slot, localDate)
	}
	wg.Wait()
}

// dueSlot reports whether sub has a slot due within the match window that
// hasn't already been sent today in its own timezone.
func dueSlot(sub news.Subscriber, now time.Time) (news.Slot, time.Time, bool) {
	loc, err := time.LoadLocation(sub.Timezone)
	if err != nil {
		loc = time.UTC
	}
	local := now.In(loc)

	for _, st := range news.Slots {
		target := time.Date(local.Year(), local.Month(), local.Day(), st.Hour, st.Min, 0, 0, loc)
		if local.Before(target) || local.Sub(target) > slotMatchWindow {
			continue
		}

		localDate := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)
		if last, ok := sub.LastSlotSent[st.Slot]; ok && sameDate(last, localDate) {
			continue
		}
		return st.Slot, localDate, true
	}
	return "", time.Time{}, false
}

func sameDate(a, b time.Time) bool {
	return a.Format("2006-01-02") == b.Format("2006-01-02")
}

func (s *Scheduler) chatLock(chatID string) *sync.Mutex {
	s.chatLocksMu.Lock()
	defer s.chatLocksMu.Unlock()
	lock, ok := s.chatLocks[chatID]
	if !ok {
		lock = &sync.Mutex{}
		s.chatLocks[chatID] = lock
	}
	return lock
}

// refreshCategory coalesces concurrent refreshes of the same category
// across simultaneously running jobs (spec.md §4.5).
func (s *Scheduler) refreshCategory(ctx context.Context, category news.Category) {
	key := string(category)
	_, _, _ = s.refresh.Do(key, func() (interface{}, error) {
		_, err := s.fetcher.Refresh(ctx, category)
		return nil, err
	})
}

// assembleDigest gathers every collaborator's output and builds the text.
// Shared by the scheduled and on-demand paths. It returns the selected
// items alongside the digest so callers can mark_sent with the right
// category per fingerprint.
func (s *Scheduler) assembleDigest(ctx context.Context, chatID string, slot news.Slot, timezone string) (news.Digest, map[news.Category][]news.Item) {
	now := s.clock()

	var wg sync.WaitGroup
	items := make(map[news.Category][]news.Item, len(news.Categories))
	var itemsMu sync.Mutex

	for _, category := range news.Categories {
		wg.Add(1)
		go func(category news.Category) {
			defer wg.Done()
			s.refreshCategory(ctx, category)
			selected, err := s.engine.Select(ctx, chatID, category)
			if err != nil {
				s.log.Warn().Err(err).Str("category", string(category)).Msg("selection failed")
				selected = nil
			}
			itemsMu.Lock()
			items[category] = selected
			itemsMu.Unlock()
		}(category)
	}
	wg.Wait()

	in := assembler.Input{
		ChatID:   chatID,
		Slot:     slot,
		Now:      now,
		Timezone: timezone,
		Items:    items,
	}

	if snap, err := s.market.Snapshot(ctx); err == nil {
		in.HasMarket = true
		in.Market = snap
		in.Commentary = s.market.Commentary(ctx, snap, chatID)
	}

	if s.weather != nil && s.cfg.DefaultLocation != "" {
		if w, err := s.weather.Snapshot(ctx, s.cfg.DefaultLocation); err == nil {
			in.HasWeather = true
			in.Weather = w
		}
	}

	if s.holiday != nil && s.cfg.DefaultCountry != "" {
		if name, ok, err := s.holiday.IsHoliday(ctx, s.cfg.DefaultCountry, now); err == nil && ok {
			in.HolidayName = name
		}
	}

	return assembler.Build(in), items
}
