package main

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"log"
	"os/signal"
	"syscall"

	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/layer-3/bifrost/adapters/authapi"
	"github.com/layer-3/bifrost/adapters/events"
	"github.com/layer-3/bifrost/adapters/store"
	"github.com/layer-3/bifrost/adapters/tokenizer"
	"github.com/layer-3/bifrost/adapters/wallet"
	"github.com/layer-3/bifrost/bus"
	"github.com/layer-3/bifrost/config"
	"github.com/layer-3/bifrost/executor"
	"github.com/layer-3/bifrost/health"
	"github.com/layer-3/bifrost/injected"
	"github.com/layer-3/bifrost/logging"
	"github.com/layer-3/bifrost/ports"
	"github.com/layer-3/bifrost/ratelimit"
	"github.com/layer-3/bifrost/relay"
	"github.com/layer-3/bifrost/service"
	transporthttp "github.com/layer-3/bifrost/transport/http"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clock := ports.SystemClock{}
	wmLogger := bus.NewZapLoggerAdapter(logger)

	// In-process bus modeling the isolated contexts.
	channel := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 64}, wmLogger)

	// Redis backs the durable compartment and cross-instance broadcasts.
	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Fatal("failed to parse redis URL", zap.Error(err))
	}
	redisClient := redis.NewClient(redisOpts)
	durable := store.NewRedisStore(redisClient)
	volatile := store.NewMemoryStore()

	streamPublisher, err := redisstream.NewPublisher(
		redisstream.PublisherConfig{Client: redisClient},
		wmLogger,
	)
	if err != nil {
		logger.Fatal("failed to create redis stream publisher", zap.Error(err))
	}
	eventPub := events.NewWatermillPublisher(streamPublisher)

	// Bundled verifier API, so the whole handshake runs locally.
	signKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		logger.Fatal("failed to generate signing key", zap.Error(err))
	}
	authService := service.NewAuthService(tokenizer.NewJWTTokenizer(signKey), durable)
	go func() {
		if err := transporthttp.SetupRouter(authService).Run(cfg.ListenAddr); err != nil {
			logger.Fatal("verifier API server failed", zap.Error(err))
		}
	}()

	// Injected context: the wallet bridge.
	localWallet, err := wallet.NewLocalWallet(cfg.ChainID)
	if err != nil {
		logger.Fatal("failed to create wallet", zap.Error(err))
	}
	bridge := injected.NewBridge(localWallet, localWallet, channel, channel, cfg.Origin, logger)
	go func() {
		if err := bridge.Run(ctx); err != nil {
			logger.Error("injected bridge stopped", zap.Error(err))
		}
	}()

	// Relay-side clients for the other contexts.
	walletConduit, err := bus.NewConduit(ctx, channel, channel,
		bus.TopicRelayToInjected, bus.TopicInjectedToRelay, cfg.Origin, clock, logger)
	if err != nil {
		logger.Fatal("failed to create wallet conduit", zap.Error(err))
	}
	walletClient := injected.NewClient(walletConduit)

	backgroundConduit, err := bus.NewConduit(ctx, channel, channel,
		bus.TopicRelayToBackground, bus.TopicBackgroundToRelay, cfg.Origin, clock, logger)
	if err != nil {
		logger.Fatal("failed to create background conduit", zap.Error(err))
	}
	backendClient := executor.NewClient(backgroundConduit)

	// Background context: session and flow services behind the executor.
	limits := ratelimit.NewRegistry(clock)
	apiClient := authapi.NewClient(cfg.VerifierURL, limits)
	sessions := executor.NewSessionService(durable, volatile, apiClient, eventPub, clock, logger)
	flows := executor.NewFlowService(durable, volatile, apiClient, walletClient, sessions, clock, logger)
	exec := executor.New(flows, sessions, channel, channel, cfg.Origin, clock, logger)
	go func() {
		if err := exec.Run(ctx); err != nil {
			logger.Error("executor stopped", zap.Error(err))
		}
	}()

	// Health monitoring and lease keep-alive over the background conduit.
	monitor := health.NewMonitor(backendClient, clock, health.Config{
		CacheTTL:      cfg.Health.CacheTTL,
		CheckInterval: cfg.Health.CheckInterval,
		BackoffBase:   cfg.Health.BackoffBase,
		BackoffMax:    cfg.Health.BackoffMax,
		MaxAttempts:   cfg.Health.MaxAttempts,
	}, logger)
	go monitor.Run(ctx)
	leases := health.NewKeeper(backendClient, clock, logger)

	// Relay context: the message router.
	router, err := relay.NewRouter(relay.Config{
		Origin:  cfg.Origin,
		Version: cfg.Version,
		Wallet:  walletClient,
		Backend: backendClient,
		Monitor: monitor,
		Leases:  leases,
		Limits:  limits,
		Pub:     channel,
		Sub:     channel,
		Clock:   clock,
		Log:     logger,
	})
	if err != nil {
		logger.Fatal("failed to build relay router", zap.Error(err))
	}

	logger.Info("bifrost started",
		zap.String("origin", cfg.Origin),
		zap.String("wallet", localWallet.Address()),
		zap.String("verifier", cfg.VerifierURL))

	if err := router.Run(ctx); err != nil {
		logger.Fatal("relay router failed", zap.Error(err))
	}
}
