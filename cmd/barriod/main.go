package main

import (
	"context"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"barrio/config"
	"barrio/core/events"
	"barrio/core/state"
	"barrio/native/bank"
	"barrio/native/common"
	"barrio/native/market"
	"barrio/native/reputation"
	"barrio/observability"
	"barrio/observability/logging"
	"barrio/rpc"
	"barrio/storage"
)

const eventHistoryLimit = 4096

func main() {
	configPath := flag.String("config", "config.toml", "path to the configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.SetupFile("barriod", cfg.Environment, cfg.LogPath)

	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "ledger"))
	if err != nil {
		logger.Error("failed to open database", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	manager := state.NewManager(db)
	ledger := bank.NewLedger(manager)
	ratings := reputation.NewLedger(manager)
	recorder := events.NewRecorder(eventHistoryLimit)

	if err := applyGenesis(manager, ledger, cfg); err != nil {
		logger.Error("failed to apply genesis allocations", "err", err)
		os.Exit(1)
	}

	pauses := common.StaticPauses{}
	for _, module := range cfg.PausedModules {
		pauses[strings.TrimSpace(module)] = true
	}

	engine := market.NewEngine()
	engine.SetState(manager)
	engine.SetTransfers(ledger)
	engine.SetRatings(ratings)
	engine.SetEmitter(recorder)
	engine.SetPauses(pauses)
	engine.SetClaimWindow(cfg.ClaimWindowSeconds)

	keeper := market.NewKeeper(engine)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go runKeeper(ctx, keeper, time.Duration(cfg.KeeperIntervalSeconds)*time.Second, logger)

	server := rpc.NewServer(engine, keeper, ledger, ratings, recorder, logger)
	if cfg.AllowDevFaucet {
		server.EnableDevFaucet()
	}

	httpServer := &http.Server{
		Addr:              cfg.RPCAddress,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("starting JSON-RPC server", "addr", cfg.RPCAddress, "network", cfg.NetworkName)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("rpc server stopped", "err", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "err", err)
	}
}

// runKeeper drives periodic expiry sweeps until the context is cancelled.
func runKeeper(ctx context.Context, keeper *market.Keeper, interval time.Duration, logger *slog.Logger) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			start := time.Now()
			expired, err := keeper.ScanAll()
			if err != nil {
				logger.Error("expiry scan failed", "err", err)
				observability.KeeperMetrics().ObserveSweep(0, time.Since(start), err)
				continue
			}
			if len(expired) == 0 {
				observability.KeeperMetrics().ObserveSweep(0, time.Since(start), nil)
				continue
			}
			swept, err := keeper.Sweep(expired)
			observability.KeeperMetrics().ObserveSweep(swept, time.Since(start), err)
			if err != nil {
				logger.Error("expiry sweep reported errors", "swept", swept, "err", err)
				continue
			}
			logger.Info("expired listings refunded", "count", swept)
		}
	}
}

// applyGenesis seeds configured account balances exactly once per data
// directory.
func applyGenesis(manager *state.Manager, ledger *bank.Ledger, cfg *config.Config) error {
	if len(cfg.GenesisAllocations) == 0 {
		return nil
	}
	var applied bool
	ok, err := manager.KVGet([]byte("genesis/applied"), &applied)
	if err != nil {
		return err
	}
	if ok && applied {
		return nil
	}
	for _, alloc := range cfg.GenesisAllocations {
		addr, err := parseGenesisAddress(alloc.Address)
		if err != nil {
			return err
		}
		amount, ok := new(big.Int).SetString(strings.TrimSpace(alloc.Amount), 10)
		if !ok || amount.Sign() <= 0 {
			return fmt.Errorf("invalid genesis amount %q for %s", alloc.Amount, alloc.Address)
		}
		if _, err := ledger.Mint(addr, amount); err != nil {
			return err
		}
	}
	return manager.KVPut([]byte("genesis/applied"), true)
}

func parseGenesisAddress(value string) ([20]byte, error) {
	var out [20]byte
	trimmed := strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(value), "0x"), "0X")
	if len(trimmed) != 40 {
		return out, fmt.Errorf("genesis address must be 20 bytes: %q", value)
	}
	raw, err := hex.DecodeString(trimmed)
	if err != nil {
		return out, fmt.Errorf("invalid genesis address %q: %w", value, err)
	}
	copy(out[:], raw)
	return out, nil
}
