package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/maine/newsdigestbot/internal/ai"
	"github.com/maine/newsdigestbot/internal/config"
	"github.com/maine/newsdigestbot/internal/dedup"
	"github.com/maine/newsdigestbot/internal/health"
	"github.com/maine/newsdigestbot/internal/holiday"
	"github.com/maine/newsdigestbot/internal/market"
	"github.com/maine/newsdigestbot/internal/scheduler"
	"github.com/maine/newsdigestbot/internal/selection"
	"github.com/maine/newsdigestbot/internal/sources"
	"github.com/maine/newsdigestbot/internal/telegram"
	"github.com/maine/newsdigestbot/internal/weather"
)

func main() {
	log := zerolog.New(zerolog.NewConsoleWriter()).With().Timestamp().Logger()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCfg, err := config.LoadRoot("configs/pipeline.yaml")
	if err != nil {
		log.Fatal().Err(err).Msg("load pipeline config")
	}
	sitesCfg, err := config.LoadSites("configs/sites.yaml")
	if err != nil {
		log.Fatal().Err(err).Msg("load sites config")
	}
	envCfg, err := config.LoadEnvConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("load env config")
	}
	if lvl, err := zerolog.ParseLevel(strings.ToLower(envCfg.LogLevel)); err == nil {
		log = log.Level(lvl)
	}

	registry := prometheus.NewRegistry()
	metrics := health.NewMetrics(registry)

	store, err := dedup.Open(envCfg.DataDir + "/digestbot.sqlite")
	if err != nil {
		log.Fatal().Err(err).Msg("open dedup store")
	}
	defer store.Close()

	httpClient := &http.Client{Timeout: 15 * time.Second}
	fetcher := sources.NewFetcher(sitesCfg.Sites, envCfg.FeedParallelism, 2, httpClient, time.Now, log.With().Str("component", "fetcher").Logger()).
		WithMetrics(metrics)

	engine := selection.New(fetcher, store, selection.Params{
		HorizonHours:         rootCfg.Pipeline.HorizonHours,
		FallbackHorizonHours: rootCfg.Pipeline.FallbackHorizonHours,
		PerSourceCap:         rootCfg.Pipeline.PerSourceCap,
	}, time.Now)

	provider := market.NewRestyProvider("https://api.coingecko.com/api/v3", 10*time.Second)

	var commentary ai.CommentaryGenerator
	if aiClient, err := ai.NewClient(ctx, envCfg.AIAPIKey, "gemini-1.5-flash"); err != nil {
		log.Warn().Err(err).Msg("AI commentary disabled: client unavailable")
	} else {
		commentary = aiClient
	}

	composer := market.NewComposer(
		provider, commentary,
		rootCfg.Market.GainersLosersCount, rootCfg.Market.MinVolumeUSD,
		time.Duration(rootCfg.Market.SnapshotCacheSecs)*time.Second,
		market.CommentaryScope(envCfg.AICommentaryScope),
		time.Now,
	)

	weatherClient := weather.NewClient(envCfg.WeatherAPIKey, 30*time.Minute, time.Now)
	holidayClient := holiday.NewClient(envCfg.HolidayAPIKey)

	tgClient := telegram.NewClient(envCfg.TelegramToken)

	sched := scheduler.New(
		fetcher, store, engine, composer, weatherClient, holidayClient, tgClient,
		scheduler.Config{
			TickInterval:        time.Duration(envCfg.TickIntervalSeconds) * time.Second,
			DeliveryParallelism: envCfg.DeliveryParallelism,
			DefaultLocation:     rootCfg.Pipeline.DefaultLocation,
			DefaultCountry:      firstOrEmpty(rootCfg.Pipeline.Countries),
		},
		time.Now,
		log.With().Str("component", "scheduler").Logger(),
	).WithMetrics(metrics)

	dispatcher := telegram.NewDispatcher(tgClient, telegram.Handlers{
		OnDigest:      sched.RunOnDemandDigest,
		OnCoinDetail:  func(ctx context.Context, chatID, symbol string) (string, error) { return sched.RunCoinDetail(ctx, symbol) },
		OnSubscribe:   sched.Subscribe,
		OnUnsubscribe: sched.Unsubscribe,
		OnInteraction: func(ctx context.Context, chatID, username, firstName, messageType string) {
			_ = store.LogInteraction(ctx, chatID, username, firstName, messageType, "", time.Now())
		},
	})

	purgeCron := cron.New()
	retention := time.Duration(envCfg.DedupRetentionDays) * 24 * time.Hour
	if _, err := purgeCron.AddFunc("0 3 * * *", func() {
		cutoff := time.Now().Add(-retention)
		n, err := store.PurgeOlderThan(context.Background(), cutoff)
		if err != nil {
			log.Error().Err(err).Msg("purge delivery_log")
			return
		}
		log.Info().Int64("rows_removed", n).Msg("purged stale delivery records")
	}); err != nil {
		log.Fatal().Err(err).Msg("schedule purge job")
	}
	purgeCron.Start()
	defer purgeCron.Stop()

	metricsSrv := &http.Server{
		Addr:    ":9090",
		Handler: promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
	}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("metrics server stopped")
		}
	}()
	defer metricsSrv.Shutdown(context.Background())

	go sched.Run(ctx)

	for ctx.Err() == nil {
		if err := dispatcher.PollOnce(ctx, 30); err != nil {
			log.Warn().Err(err).Msg("poll updates")
			time.Sleep(time.Second)
		}
	}

	log.Info().Msg("shutting down")
}

func firstOrEmpty(ss []string) string {
	if len(ss) == 0 {
		return ""
	}
	return ss[0]
}
