package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"twap-core/internal/api"
	"twap-core/internal/balance"
	"twap-core/internal/events"
	"twap-core/internal/keeper"
	"twap-core/internal/market"
	"twap-core/internal/monitor"
	"twap-core/internal/order"
	"twap-core/internal/persistence"
	"twap-core/internal/reconciliation"
	"twap-core/internal/rpc"
	"twap-core/internal/venue"
	"twap-core/pkg/chain"
	"twap-core/pkg/config"
	"twap-core/pkg/db"
	"twap-core/pkg/logger"
	"twap-core/pkg/tokens"
)

const appName = "twap-core"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load failed")
	}
	logger.Setup(cfg.LogLevel, cfg.LogJSON)
	log.Info().Str("port", cfg.Port).Str("db_driver", cfg.DBDriver).Msg("starting")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := events.NewBus()
	metrics := monitor.NewSystemMetrics()

	// Storage
	dsn := cfg.DBPath
	if cfg.DBDriver != "sqlite" {
		dsn = cfg.DBURL
	}
	database, err := db.Open(ctx, cfg.DBDriver, dsn)
	if err != nil {
		log.Fatal().Err(err).Msg("database init failed")
	}
	defer database.Close()
	if err := db.ApplyMigrations(database); err != nil {
		log.Fatal().Err(err).Msg("database migrations failed")
	}
	writer := persistence.NewBatchWriter(database, cfg.BatchSize, cfg.BatchInterval, metrics.DBLatency.RecordDuration)

	registry, err := tokens.Load(cfg.TokensPath)
	if err != nil {
		log.Fatal().Err(err).Msg("token registry load failed")
	}

	// Ledger, rebuilt from the journal when one exists.
	escrow := common.HexToAddress(cfg.EscrowAddress)
	liquidity := common.HexToAddress(cfg.LiquidityAddress)
	ledger := balance.NewLedger(escrow, persistence.NewLedgerJournal(writer))
	entries, err := database.LedgerEntries(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("ledger journal read failed")
	}
	if len(entries) > 0 {
		if err := ledger.Replay(entries); err != nil {
			log.Fatal().Err(err).Msg("ledger replay failed")
		}
	} else {
		seedLiquidity(ctx, ledger, registry, liquidity)
	}

	prices := market.NewPriceTable()
	steps := make(map[order.Asset]float64)
	for _, t := range registry.All() {
		if t.PriceUSD == "" {
			continue
		}
		prices.Register(order.Asset(t.Address), t.Symbol, t.Decimals, decimal.RequireFromString(t.PriceUSD))
		steps[order.Asset(t.Address)] = t.Volatility
	}

	// Optional chain access: time source, router quotes and prices.
	var clock order.Clock = order.SystemClock{}
	var quoter *chain.Quoter
	if cfg.RPCURL != "" {
		client, err := chain.Dial(ctx, cfg.RPCURL, cfg.RPCRateLimit)
		if err != nil {
			log.Fatal().Err(err).Msg("rpc dial failed")
		}
		defer client.Close()

		if cfg.ChainTimeSync > 0 {
			chainClock := chain.NewClock(client, cfg.ChainTimeSync)
			chainClock.Start(ctx)
			clock = chainClock
		}
		if common.IsHexAddress(cfg.RouterAddress) {
			quoter, err = chain.NewQuoter(client, common.HexToAddress(cfg.RouterAddress))
			if err != nil {
				log.Fatal().Err(err).Msg("router quoter init failed")
			}
		}
	}

	var swapVenue order.Venue
	if cfg.UseRouterQuotes && quoter != nil {
		swapVenue = venue.NewRouterQuoted(quoter, ledger, liquidity)
		log.Info().Str("router", cfg.RouterAddress).Msg("venue: router quotes")
	} else {
		swapVenue = venue.NewSimulated(ledger, liquidity, prices, venue.SimConfig{
			FeeBps:       cfg.VenueFeeBps,
			SlippageBps:  cfg.VenueSlippageBps,
			LatencyMinMs: cfg.VenueLatencyMinMs,
			LatencyMaxMs: cfg.VenueLatencyMaxMs,
		})
		log.Info().Float64("fee_bps", cfg.VenueFeeBps).Float64("slippage_bps", cfg.VenueSlippageBps).Msg("venue: simulated")
	}
	swapVenue = venue.NewInstrumented(swapVenue, metrics)

	if cfg.UseMockFeed {
		mock := &market.MockFeed{Bus: bus, Table: prices, Steps: steps, Interval: cfg.PriceTickInterval}
		mock.Start(ctx)
	} else if quoter != nil {
		ref, err := registry.Resolve(cfg.QuoteReferenceSym)
		if err != nil {
			log.Fatal().Err(err).Msg("quote reference token")
		}
		decimals := make(map[order.Asset]int32)
		for _, t := range registry.All() {
			decimals[order.Asset(t.Address)] = t.Decimals
		}
		feed := &market.ChainFeed{
			Quoter:    quoter,
			Bus:       bus,
			Table:     prices,
			Reference: order.Asset(ref.Address),
			Decimals:  decimals,
			Interval:  cfg.ChainPriceInterval,
		}
		feed.Start(ctx)
	}

	// Order engine
	store := db.NewOrderStore(database, metrics.DBLatency.RecordDuration)
	minFee, err := uint256.FromDecimal(cfg.MinFeePerInterval)
	if err != nil {
		log.Fatal().Err(err).Str("value", cfg.MinFeePerInterval).Msg("invalid MIN_FEE_PER_INTERVAL")
	}
	attempts := persistence.NewAttemptLog(writer, database)
	manager := order.NewManager(store, ledger, clock, bus, minFee)
	engine := order.NewEngine(store, ledger, swapVenue, clock, bus, attempts, order.EngineConfig{ClaimTTL: cfg.ClaimTTL})
	query := order.NewQueryService(store, clock)

	alerts := monitor.NewMemorySink(100)
	mon := &monitor.Monitor{Bus: bus, Sink: monitor.FanoutSink{monitor.LogSink{}, alerts}, Metrics: metrics}
	mon.Start(ctx)

	recon := reconciliation.NewService(store, ledger, clock, bus, cfg.ReconcileInterval)
	recon.Start(ctx)

	var k *keeper.Keeper
	if cfg.KeeperEnabled {
		k = startKeeper(ctx, cfg, query, store, engine, clock, metrics, bus)
	}

	server := api.NewServer(api.Deps{
		Manager:    manager,
		Engine:     engine,
		Query:      query,
		Ledger:     ledger,
		Tokens:     registry,
		Clock:      clock,
		Attempts:   attempts,
		Reconciler: recon,
		Metrics:    metrics,
		Bus:        bus,
	}, api.Config{
		JWTSecret:      cfg.JWTSecret,
		JWTTTL:         cfg.JWTTTL,
		NonceTTL:       cfg.NonceTTL,
		EnableFaucet:   cfg.EnableFaucet,
		CORSOrigins:    cfg.CORSOrigins,
		RateLimit:      cfg.RateLimitPerSec,
		RateLimitBurst: cfg.RateLimitBurst,
	})
	go func() {
		t := time.NewTicker(time.Minute)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				server.CleanupNonces()
			}
		}
	}()

	httpServer := &http.Server{Addr: ":" + cfg.Port, Handler: server.Router, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("api server error")
		}
	}()

	var health *rpc.HealthServer
	if cfg.GRPCPort != "" {
		lis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
		if err != nil {
			log.Fatal().Err(err).Str("port", cfg.GRPCPort).Msg("grpc listen failed")
		}
		health = rpc.NewHealthServer()
		go func() {
			if err := health.Serve(lis); err != nil {
				log.Error().Err(err).Msg("grpc server stopped")
			}
		}()
		health.Watch(ctx, 10*time.Second, database.Ping)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	log.Info().Msg("shutting down")

	if health != nil {
		health.SetServing(false)
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("api shutdown")
	}
	if k != nil {
		if err := k.Stop(); err != nil {
			log.Warn().Err(err).Msg("keeper stop")
		}
	}
	cancel()
	if err := writer.Close(); err != nil {
		log.Error().Err(err).Msg("batch writer flush on shutdown")
	}
	if health != nil {
		health.Stop()
	}
	log.Info().Msg("stopped")
}

// seedLiquidity mints each token's configured venue liquidity on a fresh ledger.
func seedLiquidity(ctx context.Context, ledger *balance.Ledger, registry *tokens.Registry, liquidity common.Address) {
	for _, t := range registry.All() {
		if t.Liquidity == "" {
			continue
		}
		amount, err := tokens.ParseAmount(t.Liquidity, t.Decimals)
		if err != nil {
			log.Fatal().Err(err).Str("token", t.Symbol).Msg("invalid liquidity")
		}
		if amount.IsZero() {
			continue
		}
		if err := ledger.Mint(ctx, order.Asset(t.Address), liquidity, amount); err != nil {
			log.Fatal().Err(err).Str("token", t.Symbol).Msg("seed liquidity")
		}
		log.Info().Str("token", t.Symbol).Str("amount", t.Liquidity).Msg("venue liquidity seeded")
	}
}

func startKeeper(ctx context.Context, cfg *config.Config, query *order.QueryService, store *db.OrderStore,
	engine *order.Engine, clock order.Clock, metrics *monitor.SystemMetrics, bus *events.Bus) *keeper.Keeper {
	addr, err := keeper.ResolveAddress(cfg.KeeperPrivateKey, cfg.KeeperAddress)
	if err != nil {
		log.Fatal().Err(err).Msg("keeper address")
	}

	var lease keeper.Lease
	if cfg.RedisAddr != "" {
		leaseCfg := keeper.LeaseConfigDefaults()
		leaseCfg.Addr = cfg.RedisAddr
		leaseCfg.Password = cfg.RedisPassword
		leaseCfg.DB = cfg.RedisDB
		leaseCfg.Key = cfg.LeaseKey
		leaseCfg.TTL = cfg.LeaseTTL
		redisLease, err := keeper.NewRedisLease(leaseCfg, keeper.InstanceID(appName))
		if err != nil {
			log.Fatal().Err(err).Str("redis", cfg.RedisAddr).Msg("keeper lease")
		}
		lease = redisLease
	}

	rules := &monitor.RuleEvaluator{
		MaxFailureRatio: cfg.MaxFailureRatio,
		MinSamples:      5,
		MaxVenueP95Ms:   cfg.MaxVenueP95Ms,
		MaxQueueDepth:   cfg.MaxKeeperQueue,
	}
	k := keeper.New(keeper.Config{
		ScanInterval: cfg.KeeperInterval,
		Workers:      cfg.KeeperWorkers,
		QueueSize:    cfg.KeeperQueueSize,
		Address:      addr,
	}, query, store, engine, clock, lease, metrics, rules, bus)
	k.Start(ctx)
	return k
}
