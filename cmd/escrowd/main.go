package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"escrowd/config"
	"escrowd/core/events"
	"escrowd/crypto"
	"escrowd/escrow"
	"escrowd/observability/logging"
	"escrowd/rpc"
	"escrowd/state"
	"escrowd/storage"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "./config.toml", "path to the escrowd config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.Setup(cfg.ServiceName, cfg.Env)

	db, err := openDatabase(cfg.DataDir)
	if err != nil {
		logger.Error("open database", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	manager := state.NewManager(db)
	ledger := escrow.NewLedger(manager)
	access := escrow.NewAccessController(manager)

	admin, err := crypto.DecodeAddress(cfg.AdminAddress)
	if err != nil {
		logger.Error("decode admin address", "err", err)
		os.Exit(1)
	}
	firstBoot, _, err := isFirstBoot(manager)
	if err != nil {
		logger.Error("inspect state", "err", err)
		os.Exit(1)
	}
	if err := access.Initialize(admin.Array()); err != nil {
		logger.Error("initialise access controller", "err", err)
		os.Exit(1)
	}
	if firstBoot {
		if err := applyAllocations(manager, cfg.Alloc); err != nil {
			logger.Error("apply genesis allocations", "err", err)
			os.Exit(1)
		}
	}

	eventLog := events.NewLog()
	engine := escrow.NewEngine(ledger, access, manager)
	engine.SetEmitter(eventLog)

	server := rpc.NewServer(engine, eventLog)
	srv := &http.Server{
		Addr:    cfg.ListenAddress,
		Handler: server.Handler(),
	}

	go func() {
		logger.Info("escrowd listening", "addr", cfg.ListenAddress)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("listen", "err", err)
			os.Exit(1)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	logger.Info("shutting down escrowd")
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("graceful shutdown failed", "err", err)
	}
}

func openDatabase(dataDir string) (storage.Database, error) {
	if dataDir == ":memory:" {
		return storage.NewMemDB(), nil
	}
	return storage.NewLevelDB(dataDir)
}

// isFirstBoot reports whether the state has never been initialised, using the
// stored administrator record as the marker.
func isFirstBoot(manager *state.Manager) (bool, [20]byte, error) {
	admin, ok, err := manager.AdminGet()
	if err != nil {
		return false, [20]byte{}, err
	}
	return !ok, admin, nil
}

func applyAllocations(manager *state.Manager, alloc map[string]string) error {
	for addrStr, amountStr := range alloc {
		addr, err := crypto.DecodeAddress(addrStr)
		if err != nil {
			return fmt.Errorf("alloc address %q: %w", addrStr, err)
		}
		amount, ok := new(big.Int).SetString(amountStr, 10)
		if !ok || amount.Sign() < 0 {
			return fmt.Errorf("alloc amount %q for %s must be a non-negative integer", amountStr, addrStr)
		}
		account, err := manager.GetAccount(addr.Array())
		if err != nil {
			return err
		}
		account.Balance = new(big.Int).Add(account.Balance, amount)
		if err := manager.PutAccount(addr.Array(), account); err != nil {
			return err
		}
	}
	return nil
}
