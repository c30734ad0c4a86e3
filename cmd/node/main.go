package main

import (
	"context"
	"fmt"
	"log"
	"math/big"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/uhyunpark/crossledger/params"
	"github.com/uhyunpark/crossledger/pkg/api"
	"github.com/uhyunpark/crossledger/pkg/app/core/asset"
	"github.com/uhyunpark/crossledger/pkg/app/core/hook"
	"github.com/uhyunpark/crossledger/pkg/app/core/order"
	"github.com/uhyunpark/crossledger/pkg/app/core/policy"
	"github.com/uhyunpark/crossledger/pkg/app/ledger"
	"github.com/uhyunpark/crossledger/pkg/bus"
	"github.com/uhyunpark/crossledger/pkg/crypto"
	"github.com/uhyunpark/crossledger/pkg/metrics"
	"github.com/uhyunpark/crossledger/pkg/storage"
	"github.com/uhyunpark/crossledger/pkg/util"
)

func main() {
	// Load config from .env file and environment variables
	cfg, err := params.LoadFromEnv("")
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	var logger *zap.Logger
	if cfg.Node.LogFile == "" {
		logger, err = util.NewLogger(cfg.Node.LogLevel)
	} else {
		logger, err = util.NewLoggerWithFile(cfg.Node.LogFile, cfg.Node.LogLevel)
	}
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "log_file", cfg.Node.LogFile, "level", cfg.Node.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		sugar.Fatalw("node_failed", "err", err)
	}
}

func run(ctx context.Context, cfg params.Config, logger *zap.Logger) error {
	sugar := logger.Sugar()

	// ---- Storage ----
	var store storage.Store
	if cfg.Node.DBPath == "" {
		store = storage.NewMemory()
		sugar.Warn("state_in_memory - nothing survives a restart")
	} else {
		ps, err := storage.NewPebbleStore(cfg.Node.DBPath)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		store = ps
	}
	defer store.Close()

	// ---- Assets & policy ----
	// Devnet asset backend: balances live in process and are funded through
	// the faucet endpoint.
	vault := asset.NewVault()

	pol := policy.NewStatic(policy.Config{
		Solvers: cfg.Policy.Solvers,
		Hooks:   cfg.Policy.Hooks,
		Ledgers: cfg.Policy.SupportedLedgers,
		Admins:  cfg.Policy.Admins,
	})

	// Every allow-listed hook address gets a 1:1 converter backed by its own
	// reserves; fund them through the faucet.
	hooks := hook.NewRegistry()
	for _, addr := range cfg.Policy.Hooks {
		hooks.Register(addr, hook.Par(addr, vault))
	}

	// ---- Bus ----
	b, err := newBus(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("bus: %w", err)
	}

	// ---- Ledger ----
	domain := crypto.DefaultDomain()
	domain.ChainID = big.NewInt(cfg.Ledger.ChainID)
	domain.VerifyingContract = cfg.Ledger.VerifyingContract

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	var sinks []ledger.Sink
	if cfg.Node.AuditLog != "" {
		journal, err := storage.NewFileJournal(cfg.Node.AuditLog)
		if err != nil {
			return fmt.Errorf("audit log: %w", err)
		}
		defer journal.Close()
		sinks = append(sinks, ledger.JournalSink{Journal: journal, Log: logger.Named("audit")})
	}

	l, err := ledger.New(ledger.Config{
		ID:                cfg.Ledger.ID,
		Custody:           cfg.Ledger.Custody,
		MaxFillsPerSettle: cfg.Ledger.MaxFillsPerSettle,
	}, ledger.Deps{
		Store:   store,
		Assets:  vault,
		Policy:  pol,
		Bus:     b.bus,
		Signer:  crypto.NewOrderSigner(domain),
		Hooks:   hooks,
		Logger:  logger,
		Metrics: metrics.New(reg),
		Sinks:   sinks,
	})
	if err != nil {
		return err
	}
	b.setHandler(l.OnMessage)
	defer b.close()

	sugar.Infow("ledger_starting",
		"ledger_id", cfg.Ledger.ID,
		"chain_id", cfg.Ledger.ChainID,
		"custody", cfg.Ledger.Custody.Hex(),
		"bus", cfg.Bus.Kind,
		"supported_ledgers", cfg.Policy.SupportedLedgers,
		"solvers", len(cfg.Policy.Solvers),
		"hooks", len(cfg.Policy.Hooks))

	// ---- Keeper (optional) ----
	// Enable with SETTLE_INTERVAL_MS > 0
	if cfg.Ledger.SettleInterval > 0 {
		var origins []order.LedgerID
		for _, id := range cfg.Policy.SupportedLedgers {
			if id != cfg.Ledger.ID {
				origins = append(origins, id)
			}
		}
		k := &ledger.Keeper{Ledger: l, Origins: origins, Interval: cfg.Ledger.SettleInterval}
		go k.Run(ctx)
	}

	// ---- API Server ----
	apiServer := api.NewServer(api.Config{
		Ledger:   l,
		Policy:   pol,
		Faucet:   true,
		Gatherer: reg,
		Logger:   logger,
	})
	errc := make(chan error, 2)
	go func() {
		sugar.Infow("api_server_starting", "addr", cfg.Node.APIAddr)
		errc <- apiServer.Start(ctx, cfg.Node.APIAddr)
	}()
	if b.run != nil {
		go func() { errc <- b.run(ctx) }()
	}

	select {
	case <-ctx.Done():
		sugar.Info("shutting_down")
		return nil
	case err := <-errc:
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
}

// nodeBus bundles the chosen adapter with its lifecycle hooks.
type nodeBus struct {
	bus        bus.Bus
	setHandler func(bus.Handler)
	run        func(context.Context) error // nil when the adapter runs on its own
	close      func()
}

func newBus(ctx context.Context, cfg params.Config, logger *zap.Logger) (*nodeBus, error) {
	fees := bus.FeeSchedule{Base: cfg.Bus.FeeBase, PerByte: cfg.Bus.FeePerByte, PerGas: cfg.Bus.FeePerGas}

	var attester bus.Attester
	if cfg.Bus.BLSSeed != "" {
		a, err := crypto.NewAttestorFromSeed([]byte(cfg.Bus.BLSSeed))
		if err != nil {
			return nil, fmt.Errorf("attestation key: %w", err)
		}
		pub, err := a.PublicKeyHex()
		if err != nil {
			return nil, err
		}
		logger.Sugar().Infow("attestation_key", "public_key", pub)
		attester = a
	}
	var verifier bus.Verifier
	if len(cfg.Bus.LedgerKeys) > 0 {
		keys := make(crypto.Keyring, len(cfg.Bus.LedgerKeys))
		for id, s := range cfg.Bus.LedgerKeys {
			pk, err := crypto.ParseBLSPubKey(s)
			if err != nil {
				return nil, fmt.Errorf("key for ledger %d: %w", id, err)
			}
			keys[id] = pk
		}
		verifier = keys
	}

	switch cfg.Bus.Kind {
	case "libp2p":
		n, err := bus.NewLibp2p(ctx, bus.Libp2pConfig{
			Self:       cfg.Ledger.ID,
			ListenAddr: cfg.Bus.Listen,
			Bootstrap:  cfg.Bus.Bootstrap,
			Fees:       fees,
			Attester:   attester,
			Verifier:   verifier,
			Logger:     logger.Sugar(),
		})
		if err != nil {
			return nil, err
		}
		logger.Sugar().Infow("libp2p_listening", "addrs", n.Addrs())
		return &nodeBus{bus: n, setHandler: n.SetHandler, close: func() { _ = n.Close() }}, nil

	case "kafka":
		k, err := bus.NewKafka(bus.KafkaConfig{
			Self:     cfg.Ledger.ID,
			Brokers:  cfg.Bus.Brokers,
			Fees:     fees,
			Attester: attester,
			Verifier: verifier,
			Logger:   logger,
			Classify: ledger.Classify,
		})
		if err != nil {
			return nil, err
		}
		return &nodeBus{bus: k, setHandler: k.SetHandler, run: k.Run, close: func() { _ = k.Close() }}, nil

	default:
		// Loopback only: useful for single-ledger orders and API work.
		m := bus.NewMemoryNetwork(fees).Join(cfg.Ledger.ID)
		return &nodeBus{bus: m, setHandler: m.SetHandler, close: func() {}}, nil
	}
}
