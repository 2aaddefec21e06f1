// Command relayer is the single binary entrypoint, grounded
// on klaytn's cmd/kcn/main.go: a urfave/cli app with app.Flags/
// app.Commands wiring, generalized from klaytn's consensus-node
// flag set to the relayer's single --config flag and PORT environment
// variable, with exit codes 0/1/2 instead of geth's
// uniform exit(1) on any error.
package main

import (
	"context"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rcrowley/go-metrics"
	"github.com/urfave/cli"

	"github.com/klaytn/relayer/relay"
	"github.com/klaytn/relayer/relay/amb/genericamb"
	"github.com/klaytn/relayer/relay/collector"
	relayconfig "github.com/klaytn/relayer/relay/config"
	"github.com/klaytn/relayer/relay/evaluator"
	"github.com/klaytn/relayer/relay/getter"
	rlog "github.com/klaytn/relayer/relay/log"
	relaymetrics "github.com/klaytn/relayer/relay/metrics"
	"github.com/klaytn/relayer/relay/orchestrator"
	"github.com/klaytn/relayer/relay/pricing"
	"github.com/klaytn/relayer/relay/registry"
	"github.com/klaytn/relayer/relay/status"
	"github.com/klaytn/relayer/relay/store/redisstore"
	"github.com/klaytn/relayer/relay/submitter"
	"github.com/klaytn/relayer/relay/wallet"
)

var logger = rlog.NewModuleLogger("cmd", 0)

var configFlag = cli.StringFlag{
	Name:  "config",
	Usage: "TOML configuration file",
}

func main() {
	app := cli.NewApp()
	app.Name = "relayer"
	app.Usage = "cross-chain message relayer"
	app.Flags = []cli.Flag{configFlag}
	app.Commands = []cli.Command{
		{
			Name:   "run",
			Usage:  "run the relayer workers for every configured chain",
			Flags:  []cli.Flag{configFlag},
			Action: runCommand,
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if code, ok := exitCode(err); ok {
			os.Exit(code)
		}
		os.Exit(2)
	}
}

// exitErr pairs an error with the exit code it should produce:
// 0 normal, 1 config error, 2 fatal worker error.
type exitErr struct {
	code int
	err  error
}

func (e *exitErr) Error() string { return e.err.Error() }

func exitCode(err error) (int, bool) {
	if ee, ok := err.(*exitErr); ok {
		return ee.code, true
	}
	return 0, false
}

func runCommand(ctx *cli.Context) error {
	path := ctx.String("config")
	if path == "" {
		return &exitErr{1, fmt.Errorf("missing --config")}
	}

	cfg, err := relayconfig.Load(path)
	if err != nil {
		return &exitErr{1, err}
	}

	if portStr := os.Getenv("PORT"); portStr != "" {
		if _, err := strconv.Atoi(portStr); err != nil {
			return &exitErr{1, fmt.Errorf("invalid PORT: %w", err)}
		}
		go serveHealth(portStr)
	}

	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
	}()

	if len(cfg.Chains) == 0 {
		return &exitErr{1, fmt.Errorf("no chains configured")}
	}

	reg, err := registry.Open(cfg.Chains[0].JournalPath)
	if err != nil {
		return &exitErr{1, err}
	}
	defer reg.Close()

	fd := status.NewFeed()
	metricsRegistry := metrics.NewRegistry()

	// Every chain's registry entry is registered before any worker starts,
	// so a chain whose Collector needs another chain's Counterpart never
	// races its registration (relay/registry is the cross-worker handoff
	// mechanism; it must be fully populated before processTick can run).
	workers := make([]*orchestrator.Worker, 0, len(cfg.Chains))
	for _, chainCfg := range cfg.Chains {
		w, err := buildWorker(rootCtx, chainCfg, fd, metricsRegistry, reg)
		if err != nil {
			logger.Error("failed to build worker", "chainId", chainCfg.ChainID, "err", err)
			return &exitErr{2, err}
		}
		workers = append(workers, w)
	}
	for _, w := range workers {
		w.Start(rootCtx)
	}

	<-rootCtx.Done()

	for _, w := range workers {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Minute)
		if err := w.Stop(stopCtx); err != nil {
			logger.Error("worker stop failed", "err", err)
		}
		stopCancel()
	}

	return nil
}

// buildWorker wires one chain's full pipeline: RPC client, AMB adapter,
// Store, Pricing oracle, Evaluator, Wallet, Submitter, Orchestrator.
func buildWorker(ctx context.Context, cfg relayconfig.ChainConfig, fd *status.Feed, metricsRegistry metrics.Registry, reg *registry.Registry) (*orchestrator.Worker, error) {
	client, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, err
	}

	if len(cfg.Addresses) == 0 {
		return nil, fmt.Errorf("chain %d has no configured contract addresses", cfg.ChainID)
	}
	addr := common.HexToAddress(cfg.Addresses[0])
	adapter, err := genericamb.New(map[uint64]common.Address{
		cfg.ChainID: addr,
	})
	if err != nil {
		return nil, err
	}
	if err := reg.Register(cfg.ChainID, addr, cfg.Adapter, cfg.Counterpart); err != nil {
		return nil, err
	}

	s, err := redisstore.New(cfg.RedisAddr, 0)
	if err != nil {
		return nil, err
	}

	key, err := crypto.LoadECDSA(cfg.KeystorePath)
	if err != nil {
		return nil, err
	}

	w, err := wallet.New(ctx, client, key, wallet.Config{
		ConfirmationTimeout:   cfg.ConfirmationTimeout,
		Confirmations:         cfg.Confirmations,
		BalanceUpdateInterval: cfg.BalanceUpdateInterval,
		LowBalanceWarning:     cfg.LowBalanceWarning,
		MinOperationalBalance: cfg.MinOperationalBalance,
		MaxAllowedGasPrice:    cfg.MaxAllowedGasPrice,
		MaxAllowedPriorityFee: cfg.MaxAllowedPriorityFeePerGas,
	})
	if err != nil {
		return nil, err
	}

	oracle := pricing.New(&parityPriceProvider{}, 5*time.Second, cfg.MaxTries)

	chainReg := relaymetrics.NewChainRegistry(metricsRegistry, fmt.Sprintf("chain/%d", cfg.ChainID))
	sub := submitter.New(cfg.ChainID, submitter.Config{
		MaxPendingTransactions: cfg.MaxPendingTransactions,
		GasPriceAdjustment:     cfg.GasPriceAdjustmentFactor,
		PriorityAdjustment:     cfg.PriorityAdjustmentFactor,
		MaxAllowedGasPrice:     cfg.MaxAllowedGasPrice,
		MaxAllowedPriorityFee:  cfg.MaxAllowedPriorityFeePerGas,
		MaxTries:               cfg.MaxTries,
		GasLimit: submitter.GasLimitPolicy{
			PerKind: map[relay.OrderKind]float64{
				relay.OrderDelivery: cfg.GasLimitBuffer.Resolve(relay.OrderDelivery),
				relay.OrderAck:      cfg.GasLimitBuffer.Resolve(relay.OrderAck),
			},
			Default: cfg.GasLimitBuffer.Resolve(relay.OrderDelivery),
		},
	}, &feeSource{client}, w, s, chainReg.Registry())

	eval := evaluator.New(cfg.ChainID, evaluator.Config{
		MinDeliveryReward:         cfg.MinDeliveryReward,
		RelativeMinDeliveryReward: cfg.RelativeMinDeliveryReward,
		MinAckReward:              cfg.MinAckReward,
		RelativeMinAckReward:      cfg.RelativeMinAckReward,
		NewOrdersDelay:            cfg.NewOrdersDelay,
	}, oracle, &rpcGasEstimator{client}, &rpcLocalPricer{client}, adapter, s)

	col := collector.New(cfg.ChainID, adapter, s, reg)

	var watchAddrs []common.Address
	if addr, ok := adapter.Address(cfg.ChainID); ok {
		watchAddrs = []common.Address{addr}
	}

	g := getter.New(client, getter.Config{
		Addresses:     watchAddrs,
		Topics:        adapter.Topics(),
		BlockDelay:    cfg.BlockDelay,
		Interval:      cfg.Interval,
		MaxBlocks:     cfg.MaxBlocks,
		RetryInterval: cfg.RetryInterval,
		StartingBlock: cfg.StartingBlock,
		StoppingBlock: cfg.StoppingBlock,
	})

	return orchestrator.New(cfg.ChainID, orchestrator.Config{
		ProcessingInterval:  cfg.ProcessingInterval,
		StatusInterval:      cfg.StatusInterval,
		ConfirmationTimeout: cfg.ConfirmationTimeout,
		PendingOrdersBatch:  32,
	}, g, col, eval, sub, s, fd, nil), nil
}

// rpcGasEstimator implements evaluator.GasEstimator against a live node via
// eth_estimateGas.
type rpcGasEstimator struct {
	client *ethclient.Client
}

func (e *rpcGasEstimator) EstimateGas(ctx context.Context, chainID uint64, order relay.SubmitOrder) (uint64, error) {
	return e.client.EstimateGas(ctx, ethereum.CallMsg{
		To:   &order.To,
		Data: order.Calldata,
	})
}

// rpcLocalPricer implements evaluator.LocalGasPricer via eth_gasPrice.
type rpcLocalPricer struct {
	client *ethclient.Client
}

func (p *rpcLocalPricer) GasPrice(ctx context.Context, chainID uint64) (*big.Int, error) {
	return p.client.SuggestGasPrice(ctx)
}

// feeSource implements submitter.FeeSource via eth_maxPriorityFeePerGas/eth_gasPrice.
type feeSource struct {
	client *ethclient.Client
}

func (f *feeSource) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	return f.client.SuggestGasTipCap(ctx)
}

func (f *feeSource) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return f.client.SuggestGasPrice(ctx)
}

// parityPriceProvider is a pricing.Provider placeholder returning 1e18
// (unit parity) for every chain/unit pair. A production deployment wires an
// external price feed here; the Pricing oracle's caching/fallback behavior
// (relay/pricing.Oracle) is exercised regardless of which Provider backs it.
type parityPriceProvider struct{}

func (parityPriceProvider) Price(ctx context.Context, chainID uint64, unit pricing.GasUnit) (*big.Int, error) {
	return new(big.Int).SetUint64(1e18), nil
}

func serveHealth(port string) {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	if err := http.ListenAndServe(":"+port, mux); err != nil {
		logger.Error("health server stopped", "err", err)
	}
}
