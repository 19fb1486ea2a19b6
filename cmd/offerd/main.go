// Package main provides offerd - the offer gossip and synchronization
// daemon.
package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/offermesh/offerd/internal/catalog"
	"github.com/offermesh/offerd/internal/daemon"
	"github.com/offermesh/offerd/internal/keysource"
	"github.com/offermesh/offerd/internal/offer"
	"github.com/offermesh/offerd/internal/offermanager"
	"github.com/offermesh/offerd/internal/offerrpc"
	"github.com/offermesh/offerd/internal/periodic"
	"github.com/offermesh/offerd/internal/syncengine"
	"github.com/offermesh/offerd/internal/syncproto"
	"github.com/offermesh/offerd/internal/txsource"
	"github.com/offermesh/offerd/internal/unconfirmed"
	"github.com/offermesh/offerd/pkg/logging"
)

var (
	version = "0.1.0-dev"
	commit  = "unknown"
)

func main() {
	var (
		dataDir     = flag.String("data-dir", "~/.offerd", "Data directory")
		configFile  = flag.String("config", "", "Config file path; only its directory is used, config.yaml is read from there (default: <data-dir>/config.yaml)")
		listenAddr  = flag.String("listen", "", "JSON-RPC listen address, overrides config")
		testnet     = flag.Bool("testnet", false, "Run on testnet (separate network and data)")
		logLevel    = flag.String("log-level", "", "Log level (debug, info, warn, error), overrides config")
		showVersion = flag.Bool("version", false, "Show version and exit")
	)
	flag.Parse()

	log := logging.New(&logging.Config{Level: "info", TimeFormat: time.TimeOnly})
	logging.SetDefault(log)

	if *showVersion {
		log.Infof("offerd %s (commit: %s)", version, commit)
		os.Exit(0)
	}

	effectiveDataDir := *dataDir
	if *testnet {
		effectiveDataDir = filepath.Join(*dataDir, "testnet")
	}

	configDir := effectiveDataDir
	if *configFile != "" {
		configDir = filepath.Dir(*configFile)
	}
	cfg, err := daemon.LoadConfig(configDir)
	if err != nil {
		log.Fatal("failed to load config", "error", err)
	}

	if *listenAddr != "" {
		cfg.RPC.ListenAddr = *listenAddr
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	cfg.Storage.DataDir = effectiveDataDir
	if *testnet {
		cfg.NetworkType = daemon.NetworkTestnet
	} else {
		cfg.NetworkType = daemon.NetworkMainnet
	}

	log = logging.New(&logging.Config{Level: cfg.Logging.Level, TimeFormat: time.TimeOnly})
	logging.SetDefault(log)
	log.Info("config loaded", "path", daemon.ConfigPath(configDir))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := catalog.New(&catalog.Config{DataDir: cfg.Storage.DataDir})
	if err != nil {
		log.Fatal("failed to initialize catalog", "error", err)
	}
	defer store.Close()
	log.Info("catalog initialized", "dir", cfg.Storage.DataDir)

	keys := keysource.NewDevKeySource()
	txSource := txsource.NewMemorySource()
	feeBinding := offer.NewFeeBinding(txSource)
	signer := offer.NewSigner()
	verifier := offer.NewVerifier()

	newOffers := unconfirmed.NewPool(cfg.Sync.UnconfirmedTTL, "unconfirmed-new")
	broadcastEdits := unconfirmed.NewPool(cfg.Sync.UnconfirmedTTL, "unconfirmed-edits")

	transport := newLocalTransport(*testnet)

	// rpcServer is constructed below, once Engine and Manager exist; the
	// progress callback closes over this pointer rather than a direct
	// method value so Engine can be built first.
	var rpcServer *offerrpc.Server
	reportProgress := func(progress float64) {
		if rpcServer != nil {
			rpcServer.PushSyncProgress(progress)
		}
	}

	engine := syncengine.New(syncengine.Config{
		Catalog:         store,
		FeeBinding:      feeBinding,
		Verifier:        verifier,
		Transport:       transport,
		Registry:        noopRegistry{},
		Rescanner:       keys,
		OnProgress:      reportProgress,
		UnconfirmedSink: newOffers.InsertOrUpdate,
	})

	manager := offermanager.New(offermanager.Config{
		Catalog:    store,
		FeeBinding: feeBinding,
		Signer:     signer,
		Verifier:   verifier,
		Keys:       keys,
		FeeTx:      noopFeeTxBuilder{},
		Transport:  transport,
	})

	rpcServer = offerrpc.NewServer(offerrpc.Config{
		Catalog:        store,
		NewOffers:      newOffers,
		BroadcastEdits: broadcastEdits,
		Engine:         engine,
		Manager:        manager,
		Keys:           keys,
	})

	newOffersBound := &unconfirmed.BoundPool{
		Pool:    newOffers,
		Binding: feeBinding,
		Promote: func(ctx context.Context, o *offer.Record) error {
			return promoteToCatalog(store, o)
		},
	}
	broadcastEditsBound := &unconfirmed.BoundPool{
		Pool:    broadcastEdits,
		Binding: feeBinding,
		Promote: func(ctx context.Context, o *offer.Record) error {
			return promoteToCatalog(store, o)
		},
	}

	tasks := periodic.New(periodic.Config{
		Sync:                engine,
		NewOffers:           newOffersBound,
		BroadcastEdits:      broadcastEditsBound,
		Catalog:             store,
		GC:                  func(ctx context.Context, retention time.Duration) { gcOldOffers(store, retention) },
		KickoffInterval:     cfg.Sync.KickoffInterval,
		UnconfirmedInterval: cfg.Sync.UnconfirmedInterval,
		ExpirationInterval:  cfg.Sync.ExpirationInterval,
		GCInterval:          cfg.Sync.GCInterval,
		GCRetention:         cfg.Sync.GCRetention,
	})
	tasks.Start()
	defer tasks.Stop()

	if err := engine.Start(ctx); err != nil {
		log.Warn("initial sync round did not start", "err", err)
	}

	if err := rpcServer.Start(cfg.RPC.ListenAddr); err != nil {
		log.Fatal("failed to start RPC server", "error", err)
	}

	unsubscribe := func() {}
	if cfg.RPC.EnableWS {
		unsubscribe = rpcServer.Subscribe()
	}
	defer unsubscribe()

	printBanner(log, cfg)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Info("shutting down...")

	cancel()

	if err := rpcServer.Stop(); err != nil {
		log.Error("error stopping RPC server", "error", err)
	}

	log.Info("goodbye!")
}

func promoteToCatalog(store *catalog.Store, o *offer.Record) error {
	if o.Type == offer.Sell {
		return store.UpsertSell(o, 0)
	}
	return store.UpsertBuy(o, 0)
}

func gcOldOffers(store *catalog.Store, retention time.Duration) {
	cutoff := time.Now().Add(-retention).Unix()
	if _, err := store.PurgeOldMyOffers(cutoff); err != nil {
		logging.GetDefault().Component("gc").Warn("purge failed", "err", err)
	}
}

func printBanner(log *logging.Logger, cfg *daemon.Config) {
	networkLabel := "mainnet"
	if cfg.IsTestnet() {
		networkLabel = "TESTNET"
	}

	log.Info("")
	log.Info("=================================================")
	log.Infof("  offerd - offer gossip and sync daemon (%s)", networkLabel)
	log.Infof("  Version: %s", version)
	log.Info("=================================================")
	log.Info("")
	log.Infof("  API: http://%s", cfg.RPC.ListenAddr)
	if cfg.RPC.EnableWS {
		log.Infof("  WS:  ws://%s/ws", cfg.RPC.ListenAddr)
	}
	log.Info("")
	log.Infof("  Data dir: %s", cfg.Storage.DataDir)
	log.Info("")
	log.Info("=================================================")
	log.Info("")
}

// localTransport is the composition root's stand-in for the real P2P
// host: this module never starts a libp2p node itself (see SPEC_FULL.md
// Non-goals), so it runs with zero neighbors until wired to one.
type localTransport struct {
	testnet bool
}

func newLocalTransport(testnet bool) *localTransport {
	return &localTransport{testnet: testnet}
}

func (t *localTransport) Neighbors() []syncengine.Neighbor { return nil }

func (t *localTransport) Send(ctx context.Context, to peer.ID, tag syncproto.Tag, payload interface{}) error {
	return nil
}

func (t *localTransport) IsTestnet() bool { return t.testnet }

func (t *localTransport) Broadcast(ctx context.Context, tag syncproto.Tag, payload interface{}) (int, error) {
	return 0, nil
}

// noopRegistry reports no masternodes until wired to a real registry.
type noopRegistry struct{}

func (noopRegistry) IsRegistered(id peer.ID) bool { return false }
func (noopRegistry) IsSelfMasternode() bool       { return false }
func (noopRegistry) IsInbound(id peer.ID) bool    { return false }

// noopFeeTxBuilder rejects fee-transaction construction until wired to a
// real wallet/UTXO-selection collaborator.
type noopFeeTxBuilder struct{}

func (noopFeeTxBuilder) BuildAndSubmit(ctx context.Context, o *offer.Record) ([32]byte, error) {
	return [32]byte{}, errFeeTxUnavailable
}

var errFeeTxUnavailable = errors.New("offerd: fee-transaction builder not configured")
