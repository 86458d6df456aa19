package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"food_rescue/internal/config"
	"food_rescue/internal/database"
	"food_rescue/internal/ledger"
	"food_rescue/internal/middleware"
	"food_rescue/internal/queue"
	"food_rescue/internal/router"
	"food_rescue/internal/store"
	rediskey "food_rescue/pkg/redis"

	"github.com/gin-gonic/gin"
	rd "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm/logger"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	level, _ := zerolog.ParseLevel(cfg.LogLevel)
	zerolog.SetGlobalLevel(level)
	if level > zerolog.DebugLevel {
		gin.SetMode(gin.ReleaseMode)
	}

	gormLevel := logger.Warn
	if level == zerolog.DebugLevel {
		gormLevel = logger.Info
	}
	db, err := database.Open(cfg.DBPath, gormLevel)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.DBPath).Msg("open database")
	}
	defer database.Close(db)

	rdb := rd.NewClient(&rd.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
	defer rdb.Close()
	pingCtx, cancelPing := context.WithTimeout(context.Background(), 3*time.Second)
	err = rdb.Ping(pingCtx).Err()
	cancelPing()
	if err != nil {
		log.Fatal().Err(err).Str("addr", cfg.RedisAddr).Msg("connect redis")
	}

	var locker ledger.Locker
	switch cfg.LockBackend {
	case config.LockBackendRedis:
		locker = rediskey.NewGroupLocker(rdb, cfg.LockTTL, cfg.LockTTL)
	default:
		locker = ledger.NewLocalLocker()
	}

	st := store.New(db)
	led := ledger.New(st, st,
		ledger.WithLocker(locker),
		ledger.WithEventSink(queue.NewStreamSink(rdb, cfg.EventStream)),
		ledger.WithLogger(log.Logger),
	)

	producer := queue.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
	defer producer.Close()
	consumer := queue.NewConsumer(cfg.KafkaBrokers, cfg.KafkaTopic, cfg.KafkaGroupID, st)
	defer consumer.Close()
	relay := queue.NewRelay(rdb, producer, cfg.EventStream, cfg.EventGroup, cfg.EventConsumer)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go relay.Run(ctx)
	go consumer.Run(ctx)
	go sweepExpired(ctx, led, cfg.ExpirySweepInterval)

	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestLogger())
	router.Setup(r, router.Deps{Store: st, Ledger: led, Redis: rdb, Config: cfg})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Str("lock", cfg.LockBackend).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
}

// sweepExpired flips past-expiry listings on a fixed interval.
func sweepExpired(ctx context.Context, led *ledger.Ledger, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		if n, err := led.ExpireListings(ctx); err != nil {
			log.Error().Err(err).Msg("expiry sweep")
		} else if n > 0 {
			log.Info().Int("expired", n).Msg("expiry sweep")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
