package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/trusttoken/contracts-pre22-sub001/config"
	"github.com/trusttoken/contracts-pre22-sub001/core/token"
	"github.com/trusttoken/contracts-pre22-sub001/crypto"
	gwconfig "github.com/trusttoken/contracts-pre22-sub001/gateway/config"
	"github.com/trusttoken/contracts-pre22-sub001/gateway/middleware"
	"github.com/trusttoken/contracts-pre22-sub001/gateway/routes"
	"github.com/trusttoken/contracts-pre22-sub001/native/creditbook"
	"github.com/trusttoken/contracts-pre22-sub001/native/lender"
	"github.com/trusttoken/contracts-pre22-sub001/native/loans"
	"github.com/trusttoken/contracts-pre22-sub001/native/mutex"
	"github.com/trusttoken/contracts-pre22-sub001/native/oracle"
	"github.com/trusttoken/contracts-pre22-sub001/native/pool"
	"github.com/trusttoken/contracts-pre22-sub001/native/rates"
	"github.com/trusttoken/contracts-pre22-sub001/native/rating"
	"github.com/trusttoken/contracts-pre22-sub001/observability"
	"github.com/trusttoken/contracts-pre22-sub001/observability/logging"
	"github.com/trusttoken/contracts-pre22-sub001/state"
	"github.com/trusttoken/contracts-pre22-sub001/storage"
)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the node configuration file")
	gatewayConfigFile := flag.String("gateway-config", "", "Path to the gateway configuration file (optional)")
	memFlag := flag.Bool("memdb", false, "DEV ONLY: run against an in-memory database")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("CREDITD_ENV"))
	logger := logging.Setup("creditd", env)

	cfg, err := config.Load(*configFile)
	if err != nil {
		logger.Error("Failed to load config", slog.Any("error", err))
		os.Exit(1)
	}
	gwCfg, err := gwconfig.Load(*gatewayConfigFile)
	if err != nil {
		logger.Error("Failed to load gateway config", slog.Any("error", err))
		os.Exit(1)
	}

	var db storage.Database
	if *memFlag {
		db = storage.NewMemDB()
	} else {
		leveldb, err := storage.NewLevelDB(cfg.DataDir)
		if err != nil {
			logger.Error("Failed to open database", slog.Any("error", err))
			os.Exit(1)
		}
		db = leveldb
	}
	defer db.Close()

	manager := state.NewManager(db)
	node := buildNode(cfg, manager, logger)

	listen := gwCfg.ListenAddress
	if strings.TrimSpace(*gatewayConfigFile) == "" {
		listen = cfg.ListenAddress
	}

	handler := routes.New(routes.Config{
		Node: node,
		Authenticator: middleware.NewAuthenticator(middleware.AuthConfig{
			Enabled:    gwCfg.Auth.Enabled,
			HMACSecret: gwCfg.Auth.HMACSecret,
			Issuer:     gwCfg.Auth.Issuer,
			Audience:   gwCfg.Auth.Audience,
			ScopeClaim: gwCfg.Auth.ScopeClaim,
			ClockSkew:  gwCfg.Auth.ClockSkew,
		}, logger),
		RateLimiter: middleware.NewRateLimiter(rateLimits(gwCfg)),
		Observability: middleware.NewObservability(middleware.ObservabilityConfig{
			ServiceName:   gwCfg.Observability.ServiceName,
			MetricsPrefix: gwCfg.Observability.MetricsPrefix,
			LogRequests:   gwCfg.Observability.LogRequests,
			Enabled:       gwCfg.Observability.Metrics || gwCfg.Observability.Tracing,
		}, logger),
	})

	server := &http.Server{
		Addr:         listen,
		Handler:      handler,
		ReadTimeout:  gwCfg.ReadTimeout,
		WriteTimeout: gwCfg.WriteTimeout,
		IdleTimeout:  gwCfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("gateway listening", "address", listen)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		logger.Error("gateway failed", slog.Any("error", err))
		os.Exit(1)
	case sig := <-stop:
		logger.Info("shutting down", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("shutdown incomplete", slog.Any("error", err))
	}
}

// buildNode wires the credit engines against shared state and the configured
// pools.
func buildNode(cfg *config.Config, manager *state.Manager, logger *slog.Logger) routes.Node {
	creditOracle := oracle.NewSimpleCreditOracle()

	adjuster := rates.NewAdjuster(creditOracle)
	if cfg.Rates.RiskPremiumBps > 0 {
		adjuster.SetRiskPremium(cfg.Rates.RiskPremiumBps)
	}
	adjuster.SetUtilizationCoefficient(cfg.Rates.UtilizationCoefficient)
	adjuster.SetMaxRateCap(cfg.Rates.MaxRateCapBps)

	pools := pool.NewSet()
	for _, pc := range cfg.Pools {
		currency := token.NewLedger(pc.Symbol, pc.Decimals)
		p := pool.NewSimplePool(poolAddress(pc.Symbol), currency)
		pools.Add(p)
		adjuster.SetBaseRateOracle(p.Address(), oracle.FixedRateOracle{RateBps: pc.BaseRateBps})
		logger.Info("pool registered", "symbol", pc.Symbol, "address", p.Address().String())
	}
	adjuster.SetTVLSource(pools)

	mutexEngine := mutex.NewEngine()
	mutexEngine.SetState(manager)

	loanEngine := loans.NewEngine()
	loanEngine.SetState(manager)
	loanEngine.SetEmitter(observability.NewMetricsEmitter(nil))

	// The staked governance token doubles as the rater reward currency; the
	// distributor is seeded with the configured budget at boot.
	stakeToken := token.NewLedger("TRU", 8)
	distributor := rating.NewLinearDistributor(serviceAddress("reward-distributor"), stakeToken)
	if cfg.Rating.RewardBudgetUnits > 0 {
		budget := new(big.Int).Mul(big.NewInt(cfg.Rating.RewardBudgetUnits), new(big.Int).Exp(big.NewInt(10), big.NewInt(8), nil))
		if err := stakeToken.Mint(distributor.Address(), budget); err != nil {
			logger.Error("Failed to seed reward distributor", slog.Any("error", err))
		}
	}

	ratingEngine := rating.NewEngine(serviceAddress("rating-agency"))
	ratingEngine.SetState(manager)
	ratingEngine.SetLoanSource(loanEngine)
	ratingEngine.SetStakeView(stakeToken)
	ratingEngine.SetRewardDistributor(distributor, stakeToken)
	ratingEngine.SetStakingPool(serviceAddress("staking-pool"))
	ratingEngine.SetRatersRewardFactor(cfg.Rating.RatersRewardFactorBps)
	ratingEngine.SetRewardMultiplier(cfg.Rating.RewardMultiplier)
	ratingEngine.SetCurrencyDecimalsFunc(func(loan *loans.Loan) (uint8, error) {
		p := pools.Find(loan.Pool)
		if p == nil {
			return 0, fmt.Errorf("creditd: unknown pool %s", loan.Pool.String())
		}
		return p.CurrencyToken().Decimals(), nil
	})

	lenderEngine := lender.NewEngine(serviceAddress("lender"))
	lenderEngine.SetState(manager)
	lenderEngine.SetLoanBook(loanEngine)
	lenderEngine.SetRatingSource(ratingEngine)
	lenderEngine.SetMutex(mutexEngine)
	lenderEngine.SetParams(lenderParams(cfg.Lender))

	creditEngine := creditbook.NewEngine(serviceAddress("credit-agency"))
	creditEngine.SetState(manager)
	creditEngine.SetEmitter(observability.NewMetricsEmitter(nil))
	creditEngine.SetRateModel(adjuster)
	creditEngine.SetCreditOracle(creditOracle)
	creditEngine.SetMutex(mutexEngine)
	creditEngine.SetInterestRepaymentPeriod(cfg.Credit.InterestRepaymentPeriodS)
	creditEngine.SetCreditUpdatePeriod(cfg.Credit.CreditUpdatePeriodS)

	mutexEngine.AllowLocker(lenderEngine.Address())
	mutexEngine.AllowLocker(creditEngine.Address())

	for _, p := range pools.Pools() {
		loanEngine.RegisterPool(p)
		lenderEngine.RegisterPool(p)
		creditEngine.AllowPool(p)
	}

	return routes.Node{
		Loans:  loanEngine,
		Lender: lenderEngine,
		Credit: creditEngine,
		Rating: ratingEngine,
		Rates:  adjuster,
		Pools:  pools,
		State:  manager,
		Oracle: creditOracle,
	}
}

func lenderParams(lc config.LenderConfig) lender.Params {
	wei := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	return lender.Params{
		MinSize:       new(big.Int).Mul(big.NewInt(lc.MinSizeUnits), wei),
		MaxSize:       new(big.Int).Mul(big.NewInt(lc.MaxSizeUnits), wei),
		MinTerm:       lc.MinTermSeconds,
		MaxTerm:       lc.MaxTermSeconds,
		MinApy:        lc.MinApyBps,
		VotingPd:      lc.VotingPeriodSeconds,
		Participation: lc.ParticipationBps,
		RiskAversion:  lc.RiskAversionBps,
	}
}

func rateLimits(cfg gwconfig.Config) map[string]middleware.RateLimit {
	limits := make(map[string]middleware.RateLimit, len(cfg.RateLimits))
	for _, rl := range cfg.RateLimits {
		limits[rl.ID] = middleware.RateLimit{
			RequestsPerMinute: rl.RequestsPerMinute,
			Burst:             rl.Burst,
		}
	}
	return limits
}

// serviceAddress derives a stable address for a system actor from its label.
func serviceAddress(label string) crypto.Address {
	digest := ethcrypto.Keccak256([]byte(fmt.Sprintf("creditd/service/%s", label)))
	return crypto.NewAddress(crypto.TruPrefix, digest[12:])
}

func poolAddress(symbol string) crypto.Address {
	digest := ethcrypto.Keccak256([]byte(fmt.Sprintf("creditd/pool/%s", strings.ToUpper(symbol))))
	return crypto.NewAddress(crypto.PoolPrefix, digest[12:])
}
