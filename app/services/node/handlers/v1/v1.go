// Package v1 contains the full set of handler functions and routes
// supported by the v1 web api.
package v1

import (
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/ledgerkit/node/app/services/node/handlers/v1/private"
	"github.com/ledgerkit/node/app/services/node/handlers/v1/public"
	"github.com/ledgerkit/node/foundation/blockchain/ledger"
	"github.com/ledgerkit/node/foundation/blockchain/network"
	"github.com/ledgerkit/node/foundation/blockchain/worker"
	"github.com/ledgerkit/node/foundation/events"
	"github.com/ledgerkit/node/foundation/nameservice"
	"github.com/ledgerkit/node/foundation/web"
	"go.uber.org/zap"
)

const version = "v1"

// Config contains all the mandatory systems required by handlers.
type Config struct {
	Log     *zap.SugaredLogger
	Ledger  *ledger.Ledger
	Network *network.Node
	Worker  *worker.Worker
	NS      *nameservice.NameService
	Evts    *events.Events
}

// PublicRoutes binds all the version 1 public routes.
func PublicRoutes(app *web.App, cfg Config) {
	pbl := public.Handlers{
		Log:     cfg.Log,
		Ledger:  cfg.Ledger,
		Network: cfg.Network,
		Worker:  cfg.Worker,
		NS:      cfg.NS,
		WS:      websocket.Upgrader{},
		Evts:    cfg.Evts,
	}

	app.Handle(http.MethodGet, version, "/events", pbl.Events)
	app.Handle(http.MethodGet, version, "/genesis", pbl.Genesis)
	app.Handle(http.MethodGet, version, "/status", pbl.Status)
	app.Handle(http.MethodGet, version, "/balance/:account", pbl.Balance)
	app.Handle(http.MethodGet, version, "/nonce/:account", pbl.Nonce)
	app.Handle(http.MethodGet, version, "/history/:account", pbl.History)
	app.Handle(http.MethodGet, version, "/block/recent", pbl.RecentBlocks)
	app.Handle(http.MethodGet, version, "/block/:hash", pbl.BlockByHash)
	app.Handle(http.MethodGet, version, "/mempool", pbl.Mempool)
	app.Handle(http.MethodPost, version, "/tx/submit", pbl.SubmitWalletTransaction)
}

// PrivateRoutes binds all the version 1 private routes.
func PrivateRoutes(app *web.App, cfg Config) {
	prv := private.Handlers{
		Log:     cfg.Log,
		Ledger:  cfg.Ledger,
		Network: cfg.Network,
		Worker:  cfg.Worker,
	}

	app.Handle(http.MethodGet, version, "/node/peers", prv.Peers)
	app.Handle(http.MethodPost, version, "/node/peers", prv.Connect)
	app.Handle(http.MethodDelete, version, "/node/peers/:id", prv.Disconnect)
	app.Handle(http.MethodPost, version, "/node/mining/signal", prv.SignalMining)
	app.Handle(http.MethodDelete, version, "/node/mempool", prv.FlushMempool)
}
