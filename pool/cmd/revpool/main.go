package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/getsentry/sentry-go"
	"github.com/joho/godotenv"
	flag "github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/malbeclabs/revpool/pool/pkg/access"
	"github.com/malbeclabs/revpool/pool/pkg/clickhouse"
	"github.com/malbeclabs/revpool/pool/pkg/export"
	"github.com/malbeclabs/revpool/pool/pkg/metrics"
	"github.com/malbeclabs/revpool/pool/pkg/pool"
	"github.com/malbeclabs/revpool/pool/pkg/revenue"
	"github.com/malbeclabs/revpool/pool/pkg/server"
	"github.com/malbeclabs/revpool/pool/pkg/store"
	"github.com/malbeclabs/revpool/pool/pkg/swap"
	"github.com/malbeclabs/revpool/pool/pkg/token"
	"github.com/malbeclabs/revpool/utils/pkg/flagenv"
	"github.com/malbeclabs/revpool/utils/pkg/logger"
)

var (
	// Set by LDFLAGS
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const (
	defaultListenAddr = "0.0.0.0:8080"
	devFundAmount     = "1000000000000000000000000" // 1M tokens at 18 decimals
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	verboseFlag := flag.Bool("verbose", false, "enable verbose (debug) logging")
	listenAddrFlag := flag.String("listen-addr", defaultListenAddr, "HTTP API listen address")
	shutdownTimeoutFlag := flag.Duration("shutdown-timeout", 30*time.Second, "maximum time to wait for in-flight requests during shutdown")

	// Pool configuration
	ownerFlag := flag.String("owner", "", "owner address (or set OWNER env var)")
	whitelistFlag := flag.StringSlice("whitelist", nil, "addresses allowed to deposit revenue")
	maxDateFlag := flag.Int("max-date", 14, "number of days per round")
	round0StartFlag := flag.String("round0-start", "", "start of round 0 (RFC3339, empty = now)")
	finalizePolicyFlag := flag.String("finalize-policy", "overwrite", "second finalize of a round: overwrite or reject")
	rewardStrategyFlag := flag.String("reward-strategy", "passthrough", "reward derivation: passthrough, revshare or swap")

	// Token configuration
	tokenModeFlag := flag.String("token-mode", "memory", "token backend: memory or erc20")
	poolAddressFlag := flag.String("pool-address", "0x000000000000000000000000000000000000f00d", "custody address in memory mode")
	devFundFlag := flag.StringSlice("dev-fund", nil, "memory mode: addresses funded with both tokens and approved for the pool")
	rpcURLFlag := flag.String("rpc-url", "", "EVM JSON-RPC URL (or set RPC_URL env var)")
	custodyKeyFlag := flag.String("custody-key", "", "hex private key of the pool custody account (or set CUSTODY_KEY env var)")
	stakingTokenFlag := flag.String("staking-token", "", "staking (LP) token contract address")
	rewardTokenFlag := flag.String("reward-token", "", "reward token contract address")
	revenueTokenFlag := flag.String("revenue-token", "", "token revenue is reported in (default: reward token)")
	routerAddressFlag := flag.String("router-address", "", "swap router address used by the swap strategy")
	routerViaFlag := flag.String("router-via", "", "intermediate token for router quotes, usually the wrapped native coin")

	// PostgreSQL configuration
	postgresHostFlag := flag.String("postgres-host", "", "PostgreSQL host; empty disables persistence (or set POSTGRES_HOST env var)")
	postgresPortFlag := flag.String("postgres-port", "5432", "PostgreSQL port")
	postgresDatabaseFlag := flag.String("postgres-database", "revpool", "PostgreSQL database")
	postgresUsernameFlag := flag.String("postgres-username", "revpool", "PostgreSQL username")
	postgresPasswordFlag := flag.String("postgres-password", "", "PostgreSQL password (or set POSTGRES_PASSWORD env var)")
	postgresSSLModeFlag := flag.String("postgres-sslmode", "disable", "PostgreSQL sslmode")
	postgresMigrateFlag := flag.Bool("postgres-migrate", true, "apply PostgreSQL migrations at startup")

	// ClickHouse configuration
	clickhouseAddrFlag := flag.String("clickhouse-addr", "", "ClickHouse address (host:port); empty disables the ClickHouse export")
	clickhouseDatabaseFlag := flag.String("clickhouse-database", clickhouse.DefaultDatabase, "ClickHouse database name")
	clickhouseUsernameFlag := flag.String("clickhouse-username", "default", "ClickHouse username")
	clickhousePasswordFlag := flag.String("clickhouse-password", "", "ClickHouse password")
	clickhouseSecureFlag := flag.Bool("clickhouse-secure", false, "enable TLS for ClickHouse Cloud")
	clickhouseMigrateFlag := flag.Bool("clickhouse-migrate", true, "apply ClickHouse migrations at startup")

	// S3 configuration
	s3BucketFlag := flag.String("s3-bucket", "", "S3 bucket for round archives; empty disables the S3 export")
	s3PrefixFlag := flag.String("s3-prefix", "revpool/rounds", "S3 key prefix")
	s3RegionFlag := flag.String("s3-region", "", "S3 region (default from the AWS config chain)")
	s3EndpointFlag := flag.String("s3-endpoint", "", "custom endpoint for S3-compatible stores")
	s3PathStyleFlag := flag.Bool("s3-path-style", false, "use path-style S3 addressing")

	exportIntervalFlag := flag.Duration("export-interval", time.Minute, "history export interval")
	rateLimitFlag := flag.Float64("rate-limit", 10, "per-IP API requests per second (0 = unlimited)")
	rateBurstFlag := flag.Int("rate-burst", 20, "per-IP API burst")
	allowedOriginsFlag := flag.StringSlice("allowed-origins", nil, "CORS allowed origins")
	sentryDSNFlag := flag.String("sentry-dsn", "", "Sentry DSN (or set SENTRY_DSN env var)")
	sentryEnvironmentFlag := flag.String("sentry-environment", "production", "Sentry environment")

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to load .env: %w", err)
	}
	flag.Parse()
	if err := flagenv.Apply(flag.CommandLine); err != nil {
		return err
	}

	log := logger.New(*verboseFlag)
	metrics.BuildInfo.WithLabelValues(version, commit, date).Set(1)

	if *sentryDSNFlag != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:              *sentryDSNFlag,
			Environment:      *sentryEnvironmentFlag,
			Release:          version,
			AttachStacktrace: true,
		}); err != nil {
			return fmt.Errorf("failed to initialize sentry: %w", err)
		}
		defer sentry.Flush(2 * time.Second)
		log.Info("sentry initialized", "environment", *sentryEnvironmentFlag)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if !common.IsHexAddress(*ownerFlag) {
		return fmt.Errorf("invalid owner address %q", *ownerFlag)
	}
	owner := common.HexToAddress(*ownerFlag)
	whitelist, err := parseAddresses(*whitelistFlag)
	if err != nil {
		return fmt.Errorf("invalid whitelist: %w", err)
	}
	finalizePolicy, err := revenue.ParseFinalizePolicy(*finalizePolicyFlag)
	if err != nil {
		return err
	}
	var round0Start time.Time
	if *round0StartFlag != "" {
		if round0Start, err = time.Parse(time.RFC3339, *round0StartFlag); err != nil {
			return fmt.Errorf("invalid round0 start: %w", err)
		}
	}

	// Tokens
	var (
		stakingToken, rewardToken token.Token
		custody                   common.Address
		eth                       *ethclient.Client
	)
	switch *tokenModeFlag {
	case "memory":
		if !common.IsHexAddress(*poolAddressFlag) {
			return fmt.Errorf("invalid pool address %q", *poolAddressFlag)
		}
		custody = common.HexToAddress(*poolAddressFlag)
		funded, err := parseAddresses(*devFundFlag)
		if err != nil {
			return fmt.Errorf("invalid dev fund addresses: %w", err)
		}
		lp := token.NewMemory("LP", common.HexToAddress("0x0000000000000000000000000000000000001001"), custody)
		lucky := token.NewMemory("LUCKY", common.HexToAddress("0x0000000000000000000000000000000000001002"), custody)
		amount, _ := new(big.Int).SetString(devFundAmount, 10)
		for _, addr := range funded {
			for _, t := range []*token.Memory{lp, lucky} {
				t.Mint(addr, amount)
				t.Approve(addr, custody, amount)
			}
		}
		stakingToken, rewardToken = lp, lucky
		log.Warn("using in-memory tokens; balances are lost on restart", "custody", custody.Hex(), "funded", len(funded))
	case "erc20":
		eth, err = ethclient.DialContext(ctx, *rpcURLFlag)
		if err != nil {
			return fmt.Errorf("failed to dial rpc: %w", err)
		}
		defer eth.Close()
		chainID, err := eth.ChainID(ctx)
		if err != nil {
			return fmt.Errorf("failed to read chain id: %w", err)
		}
		key, err := crypto.HexToECDSA(strings.TrimPrefix(*custodyKeyFlag, "0x"))
		if err != nil {
			return fmt.Errorf("invalid custody key: %w", err)
		}
		custody = crypto.PubkeyToAddress(key.PublicKey)
		newToken := func(addr string) (*token.ERC20, error) {
			if !common.IsHexAddress(addr) {
				return nil, fmt.Errorf("invalid token address %q", addr)
			}
			return token.NewERC20(ctx, token.ERC20Config{
				Logger:  log,
				Backend: eth,
				Address: common.HexToAddress(addr),
				Key:     key,
				ChainID: chainID,
			})
		}
		if stakingToken, err = newToken(*stakingTokenFlag); err != nil {
			return fmt.Errorf("failed to load staking token: %w", err)
		}
		if rewardToken, err = newToken(*rewardTokenFlag); err != nil {
			return fmt.Errorf("failed to load reward token: %w", err)
		}
		log.Info("using ERC20 tokens", "chainID", chainID, "custody", custody.Hex(),
			"staking", stakingToken.Symbol(), "reward", rewardToken.Symbol())
	default:
		return fmt.Errorf("unknown token mode %q", *tokenModeFlag)
	}

	// Reward strategy
	var quoter revenue.Quoter
	if *routerAddressFlag != "" {
		if eth == nil {
			return errors.New("router address requires --token-mode=erc20")
		}
		router, err := swap.NewRouter(swap.RouterConfig{
			Caller:  eth,
			Address: common.HexToAddress(*routerAddressFlag),
			Via:     optionalAddress(*routerViaFlag),
		})
		if err != nil {
			return fmt.Errorf("failed to create swap router: %w", err)
		}
		quoter = router
	}
	strategy, err := revenue.NewStrategy(*rewardStrategyFlag, quoter)
	if err != nil {
		return err
	}

	// Persistence
	var st *store.Store
	if *postgresHostFlag != "" {
		pgPool, err := store.Connect(ctx, log, store.PgConfig{
			Host:          *postgresHostFlag,
			Port:          *postgresPortFlag,
			Database:      *postgresDatabaseFlag,
			Username:      *postgresUsernameFlag,
			Password:      *postgresPasswordFlag,
			SSLMode:       *postgresSSLModeFlag,
			RunMigrations: *postgresMigrateFlag,
		})
		if err != nil {
			return err
		}
		defer pgPool.Close()
		if st, err = store.New(store.Config{Logger: log, Pool: pgPool}); err != nil {
			return err
		}
	} else {
		log.Warn("no postgres configured; pool state is not persisted")
	}

	cfg := pool.Config{
		Logger:         log,
		Owner:          owner,
		Address:        custody,
		MaxDate:        *maxDateFlag,
		Round0Start:    round0Start,
		StakingToken:   stakingToken,
		RewardToken:    rewardToken,
		RevenueToken:   optionalAddress(*revenueTokenFlag),
		Policy:         access.NewList(owner, whitelist...),
		Strategy:       strategy,
		FinalizePolicy: finalizePolicy,
	}
	if st != nil {
		cfg.Journal = st
	}
	p, err := pool.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to create pool: %w", err)
	}
	if st != nil {
		snapshot, ok, err := st.LoadLatest(ctx)
		if err != nil {
			return err
		}
		if ok {
			if err := p.Restore(snapshot); err != nil {
				return fmt.Errorf("failed to restore pool state: %w", err)
			}
			log.Info("restored pool state", "round", p.CurrentRoundID(), "stakers", len(snapshot.Ledger.Live))
		}
	}
	log.Info("pool ready", "owner", owner.Hex(), "round", p.CurrentRoundID(), "day", p.CurrentDay(),
		"maxDate", p.MaxDate(), "strategy", strategy.Name(), "finalizePolicy", finalizePolicy)

	// History export
	var sinks []export.Sink
	if *clickhouseAddrFlag != "" {
		chCfg := clickhouse.Config{
			Addr:     *clickhouseAddrFlag,
			Database: *clickhouseDatabaseFlag,
			Username: *clickhouseUsernameFlag,
			Password: *clickhousePasswordFlag,
			Secure:   *clickhouseSecureFlag,
		}
		if *clickhouseMigrateFlag {
			if err := clickhouse.Up(ctx, log, chCfg); err != nil {
				return err
			}
		}
		ch, err := clickhouse.NewClient(ctx, log, chCfg)
		if err != nil {
			return err
		}
		defer ch.Close()
		sink, err := export.NewClickHouseSink(export.ClickHouseSinkConfig{ClickHouse: ch})
		if err != nil {
			return err
		}
		sinks = append(sinks, sink)
	}
	if *s3BucketFlag != "" {
		client, err := export.NewS3Client(ctx, export.S3ClientConfig{
			Region:       *s3RegionFlag,
			Endpoint:     *s3EndpointFlag,
			UsePathStyle: *s3PathStyleFlag,
		})
		if err != nil {
			return err
		}
		sink, err := export.NewS3Sink(export.S3SinkConfig{Client: client, Bucket: *s3BucketFlag, Prefix: *s3PrefixFlag})
		if err != nil {
			return err
		}
		sinks = append(sinks, sink)
	}

	readyChecks := map[string]server.ReadyCheck{}
	if st != nil {
		readyChecks["postgres"] = st.Ping
	}
	if len(sinks) > 0 {
		expCfg := export.Config{
			Logger:          log,
			Source:          p,
			Sinks:           sinks,
			RefreshInterval: *exportIntervalFlag,
		}
		if st != nil {
			expCfg.Cursors = st
		}
		exporter, err := export.New(expCfg)
		if err != nil {
			return fmt.Errorf("failed to create exporter: %w", err)
		}
		exporter.Start(ctx)
		readyChecks["export"] = func(context.Context) error {
			if !exporter.Ready() {
				return errors.New("first export has not completed")
			}
			return nil
		}
	}

	srv, err := server.New(server.Config{
		Logger:          log,
		Pool:            p,
		ListenAddr:      *listenAddrFlag,
		ShutdownTimeout: *shutdownTimeoutFlag,
		VersionInfo:     server.VersionInfo{Version: version, Commit: commit, Date: date},
		RateLimit:       rate.Limit(*rateLimitFlag),
		RateBurst:       *rateBurstFlag,
		AllowedOrigins:  *allowedOriginsFlag,
		ReadyChecks:     readyChecks,
		Sentry:          *sentryDSNFlag != "",
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Run(gctx)
	})
	g.Go(func() error {
		return watchRounds(gctx, log, p)
	})
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info("revpool stopped")
	return nil
}

// watchRounds advances the pool while the API is idle, which keeps the round
// gauge fresh, and logs round transitions.
func watchRounds(ctx context.Context, log *slog.Logger, p *pool.Pool) error {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	last := p.CurrentRoundID()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			current := p.CurrentRoundID()
			if current != last {
				log.Info("round advanced", "from", last, "to", current, "day", p.CurrentDay())
				last = current
			}
		}
	}
}

func parseAddresses(values []string) ([]common.Address, error) {
	out := make([]common.Address, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if !common.IsHexAddress(v) {
			return nil, fmt.Errorf("invalid address %q", v)
		}
		out = append(out, common.HexToAddress(v))
	}
	return out, nil
}

func optionalAddress(v string) common.Address {
	if v == "" {
		return common.Address{}
	}
	return common.HexToAddress(v)
}
