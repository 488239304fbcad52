package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/ardanlabs/conf/v3"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ledgerkit/node/app/services/node/handlers"
	"github.com/ledgerkit/node/foundation/blockchain/database"
	"github.com/ledgerkit/node/foundation/blockchain/database/storage"
	"github.com/ledgerkit/node/foundation/blockchain/genesis"
	"github.com/ledgerkit/node/foundation/blockchain/ledger"
	"github.com/ledgerkit/node/foundation/blockchain/miner"
	"github.com/ledgerkit/node/foundation/blockchain/network"
	"github.com/ledgerkit/node/foundation/blockchain/peer"
	"github.com/ledgerkit/node/foundation/blockchain/router"
	"github.com/ledgerkit/node/foundation/blockchain/worker"
	"github.com/ledgerkit/node/foundation/events"
	"github.com/ledgerkit/node/foundation/logger"
	"github.com/ledgerkit/node/foundation/nameservice"
	"go.uber.org/zap"
)

// build is the git version of this program. It is set using build flags in the makefile.
var build = "develop"

func main() {

	// Construct the application logger.
	log, err := logger.New("NODE")
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	defer log.Sync()

	// Perform the startup and shutdown sequence.
	if err := run(log); err != nil {
		log.Errorw("startup", "ERROR", err)
		log.Sync()
		os.Exit(1)
	}
}

func run(log *zap.SugaredLogger) error {

	// =========================================================================
	// Configuration

	// This is all the configuration for the application and the default values.
	// Configuration values will be passed through the application as individual
	// values.
	cfg := struct {
		conf.Version
		Web struct {
			ReadTimeout     time.Duration `conf:"default:5s"`
			WriteTimeout    time.Duration `conf:"default:10s"`
			IdleTimeout     time.Duration `conf:"default:120s"`
			ShutdownTimeout time.Duration `conf:"default:20s"`
			DebugHost       string        `conf:"default:0.0.0.0:7080"`
			PublicHost      string        `conf:"default:0.0.0.0:8080"`
			PrivateHost     string        `conf:"default:127.0.0.1:9080"`
		}
		State struct {
			MinerName       string        `conf:"default:miner1"`
			DBPath          string        `conf:"default:zblock/ledger.db"`
			GenesisPath     string        `conf:"help:optional genesis file overriding the chain parameters"`
			SelectStrategy  string        `conf:"default:nonce"`
			Mining          bool          `conf:"default:true"`
			MiningInterval  time.Duration `conf:"default:15s"`
			MaxTransactions int           `conf:"default:0"`
			FlushMempool    bool          `conf:"default:true"`
		}
		Net struct {
			Host              string        `conf:"default:127.0.0.1"`
			Port              int           `conf:"default:6000"`
			Bootstrap         []string      `conf:"help:host:port of the peers to connect to at startup"`
			MaxConnections    int           `conf:"default:20"`
			ReadTimeout       time.Duration `conf:"default:15s"`
			HeartbeatInterval time.Duration `conf:"default:10s"`
			ReconnectInterval time.Duration `conf:"default:5s"`
			MessageRate       float64       `conf:"default:100"`
			MessageBurst      int           `conf:"default:200"`
		}
		Miner struct {
			Workers   int    `conf:"default:4"`
			BatchSize uint64 `conf:"default:30000"`
		}
		NameService struct {
			Folder string `conf:"default:zblock/accounts/"`
		}
	}{
		Version: conf.Version{
			Build: build,
			Desc:  "gossip ledger node",
		},
	}

	// Parse will set the defaults and then look for any overriding values
	// in environment variables and command line flags.
	const prefix = "NODE"
	help, err := conf.Parse(prefix, &cfg)
	if err != nil {
		if errors.Is(err, conf.ErrHelpWanted) {
			fmt.Println(help)
			return nil
		}
		return fmt.Errorf("parsing config: %w", err)
	}

	// =========================================================================
	// App Starting

	log.Infow("starting service", "version", build)
	defer log.Infow("shutdown complete")

	// Display the current configuration to the logs.
	out, err := conf.String(&cfg)
	if err != nil {
		return fmt.Errorf("generating config for output: %w", err)
	}
	log.Infow("startup", "config", out)

	// =========================================================================
	// Name Service Support

	// The nameservice package provides name resolution for account ids.
	// The names come from the file names in the accounts folder.
	ns, err := nameservice.New(cfg.NameService.Folder)
	if err != nil {
		return fmt.Errorf("unable to load account name service: %w", err)
	}

	// Logging the accounts for documentation in the logs.
	for accountID, name := range ns.Copy() {
		log.Infow("startup", "status", "nameservice", "name", name, "account", accountID)
	}

	// =========================================================================
	// Blockchain Support

	// Need to load the private key file for the configured miner so the account
	// can get credited with the mining rewards.
	path := filepath.Join(cfg.NameService.Folder, cfg.State.MinerName+nameservice.KeyExtension)
	privateKey, err := crypto.LoadECDSA(path)
	if err != nil {
		return fmt.Errorf("unable to load private key for node: %w", err)
	}
	coinbase := database.PublicKeyToAccountID(privateKey.PublicKey)

	gen := genesis.Default()
	if cfg.State.GenesisPath != "" {
		if gen, err = genesis.Load(cfg.State.GenesisPath); err != nil {
			return fmt.Errorf("unable to load genesis: %w", err)
		}
	}

	bootstrap := make([]peer.Peer, 0, len(cfg.Net.Bootstrap))
	for _, hostPort := range cfg.Net.Bootstrap {
		p, err := peer.Parse(hostPort)
		if err != nil {
			return fmt.Errorf("bootstrap peer %q: %w", hostPort, err)
		}
		bootstrap = append(bootstrap, p)
	}

	// The blockchain packages accept a function of this signature to allow the
	// application to log. These raw messages are also sent to any websocket
	// client that is connected into the system through the events package.
	evts := events.New()
	ev := func(v string, args ...any) {
		s := fmt.Sprintf(v, args...)
		log.Infow(s, "traceid", "00000000-0000-0000-0000-000000000000")
		evts.Send(s)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.State.DBPath), 0755); err != nil {
		return fmt.Errorf("unable to create the database folder: %w", err)
	}

	strg, err := storage.NewDisk(cfg.State.DBPath)
	if err != nil {
		return fmt.Errorf("unable to open storage: %w", err)
	}

	if cfg.State.FlushMempool {
		if err := strg.FlushMempool(); err != nil {
			strg.Close()
			return fmt.Errorf("unable to flush the mempool: %w", err)
		}
	}

	// The ledger replays the stored chain and is from then on the only
	// component allowed to append blocks.
	ldg, err := ledger.New(ledger.Config{
		Storage:        strg,
		Genesis:        gen,
		SelectStrategy: cfg.State.SelectStrategy,
		EvHandler:      ev,
	})
	if err != nil {
		strg.Close()
		return err
	}
	defer ldg.Close()

	// The router is constructed once the worker exists. The network does not
	// deliver messages before it is started.
	var rtr *router.Router

	net := network.New(network.Config{
		Host:              cfg.Net.Host,
		Port:              cfg.Net.Port,
		Bootstrap:         bootstrap,
		MaxConnections:    cfg.Net.MaxConnections,
		ReadTimeout:       cfg.Net.ReadTimeout,
		HeartbeatInterval: cfg.Net.HeartbeatInterval,
		ReconnectInterval: cfg.Net.ReconnectInterval,
		MessageRate:       cfg.Net.MessageRate,
		MessageBurst:      cfg.Net.MessageBurst,
		Handler:           func(msg network.Message) { rtr.Handle(msg) },
		EvHandler:         ev,
	})

	// The worker package implements the mining and transaction sharing
	// workflows.
	wrk := worker.Run(worker.Config{
		Ledger:          ldg,
		Miner:           miner.New(miner.Config{Workers: cfg.Miner.Workers, BatchSize: cfg.Miner.BatchSize, EvHandler: ev}),
		Network:         net,
		Coinbase:        coinbase,
		Interval:        cfg.State.MiningInterval,
		MaxTransactions: cfg.State.MaxTransactions,
		Mining:          cfg.State.Mining,
		EvHandler:       ev,
	})
	defer wrk.Shutdown()

	// A block from a peer makes the local search stale, start over on the
	// new tip.
	rtr = router.New(router.Config{
		Ledger:    ldg,
		Network:   net,
		EvHandler: ev,
		OnBlock: func(block database.Block) {
			wrk.SignalCancelMining()
			wrk.SignalStartMining()
		},
	})

	if err := net.Start(context.Background()); err != nil {
		return fmt.Errorf("unable to start the peer node: %w", err)
	}
	defer net.Shutdown()

	log.Infow("startup", "status", "peer node started", "id", net.ID(), "addr", net.Addr().String())

	// =========================================================================
	// Start Debug Service

	log.Infow("startup", "status", "debug v1 router started", "host", cfg.Web.DebugHost)

	// The Debug function returns a mux to listen and serve on for all the debug
	// related endpoints. This includes the standard library endpoints.

	// Construct the mux for the debug calls.
	debugMux := handlers.DebugMux(build, log, ldg.Height)

	// Start the service listening for debug requests.
	// Not concerned with shutting this down with load shedding.
	go func() {
		if err := http.ListenAndServe(cfg.Web.DebugHost, debugMux); err != nil {
			log.Errorw("shutdown", "status", "debug v1 router closed", "host", cfg.Web.DebugHost, "ERROR", err)
		}
	}()

	// =========================================================================
	// Service Start/Stop Support

	// Make a channel to listen for an interrupt or terminate signal from the OS.
	// Use a buffered channel because the signal package requires it.
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	// Make a channel to listen for errors coming from the listener. Use a
	// buffered channel so the goroutine can exit if we don't collect this error.
	serverErrors := make(chan error, 1)

	// =========================================================================
	// Start Public Service

	log.Infow("startup", "status", "initializing V1 public API support")

	// Construct the mux for the public API calls.
	publicMux := handlers.PublicMux(handlers.MuxConfig{
		Shutdown: shutdown,
		Log:      log,
		Ledger:   ldg,
		Network:  net,
		Worker:   wrk,
		NS:       ns,
		Evts:     evts,
	})

	// Construct a server to service the requests against the mux.
	public := http.Server{
		Addr:         cfg.Web.PublicHost,
		Handler:      publicMux,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		ErrorLog:     zap.NewStdLog(log.Desugar()),
	}

	// Start the service listening for api requests.
	go func() {
		log.Infow("startup", "status", "public api router started", "host", public.Addr)
		serverErrors <- public.ListenAndServe()
	}()

	// =========================================================================
	// Start Private Service

	log.Infow("startup", "status", "initializing V1 private API support")

	// Construct the mux for the operator calls.
	privateMux := handlers.PrivateMux(handlers.MuxConfig{
		Shutdown: shutdown,
		Log:      log,
		Ledger:   ldg,
		Network:  net,
		Worker:   wrk,
	})

	// Construct a server to service the requests against the mux.
	private := http.Server{
		Addr:         cfg.Web.PrivateHost,
		Handler:      privateMux,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		ErrorLog:     zap.NewStdLog(log.Desugar()),
	}

	// Start the service listening for api requests.
	go func() {
		log.Infow("startup", "status", "private api router started", "host", private.Addr)
		serverErrors <- private.ListenAndServe()
	}()

	// =========================================================================
	// Shutdown

	// Blocking main and waiting for shutdown. The deferred calls stop the
	// peer node, the worker and the ledger in reverse order of construction.
	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)

	case sig := <-shutdown:
		log.Infow("shutdown", "status", "shutdown started", "signal", sig)
		defer log.Infow("shutdown", "status", "shutdown complete", "signal", sig)

		// Release any web sockets that are currently active.
		log.Infow("shutdown", "status", "shutdown web socket channels")
		evts.Shutdown()

		// Give outstanding requests a deadline for completion.
		ctx, cancelPri := context.WithTimeout(context.Background(), cfg.Web.ShutdownTimeout)
		defer cancelPri()

		// Asking listener to shut down and shed load.
		log.Infow("shutdown", "status", "shutdown private API started")
		if err := private.Shutdown(ctx); err != nil {
			private.Close()
			return fmt.Errorf("could not stop private service gracefully: %w", err)
		}

		// Give outstanding requests a deadline for completion.
		ctx, cancelPub := context.WithTimeout(context.Background(), cfg.Web.ShutdownTimeout)
		defer cancelPub()

		// Asking listener to shut down and shed load.
		log.Infow("shutdown", "status", "shutdown public API started")
		if err := public.Shutdown(ctx); err != nil {
			public.Close()
			return fmt.Errorf("could not stop public service gracefully: %w", err)
		}
	}

	return nil
}
