// Package private maintains the group of handlers for node operators.
package private

import (
	"context"
	"net/http"

	"github.com/ledgerkit/node/business/sys/validate"
	"github.com/ledgerkit/node/business/web/errs"
	"github.com/ledgerkit/node/foundation/blockchain/ledger"
	"github.com/ledgerkit/node/foundation/blockchain/network"
	"github.com/ledgerkit/node/foundation/blockchain/peer"
	"github.com/ledgerkit/node/foundation/blockchain/worker"
	"github.com/ledgerkit/node/foundation/web"
	"go.uber.org/zap"
)

// Handlers manages the set of operator endpoints.
type Handlers struct {
	Log     *zap.SugaredLogger
	Ledger  *ledger.Ledger
	Network *network.Node
	Worker  *worker.Worker
}

type connectReq struct {
	Host string `json:"host" validate:"required"`
	Port int    `json:"port" validate:"required,min=1,max=65535"`
}

// Validate checks the data in the model is considered clean.
func (cr connectReq) Validate() error {
	return validate.Check(cr)
}

// Peers returns the live connections and the addresses still pending.
func (h Handlers) Peers(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	resp := struct {
		Node    peer.Peer          `json:"node"`
		Peers   []network.PeerInfo `json:"peers"`
		Pending []peer.Peer        `json:"pending"`
	}{
		Node:    h.Network.Addr(),
		Peers:   h.Network.Peers(),
		Pending: h.Network.PendingAddrs(),
	}

	return web.Respond(ctx, w, resp, http.StatusOK)
}

// Connect dials the specified peer.
func (h Handlers) Connect(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	var req connectReq
	if err := web.Decode(r, &req); err != nil {
		if errs.IsFieldErrors(err) {
			return err
		}
		return errs.NewTrusted(err, http.StatusBadRequest)
	}

	res, err := h.Network.Connect(peer.New(req.Host, req.Port))
	if err != nil {
		return errs.NewTrusted(err, http.StatusBadGateway)
	}

	resp := struct {
		Status string `json:"status"`
	}{
		Status: res.String(),
	}

	return web.Respond(ctx, w, resp, http.StatusOK)
}

// Disconnect stops the connection with the specified peer identity.
func (h Handlers) Disconnect(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	id := web.Param(r, "id")

	if !h.Network.Disconnect(id) {
		return errs.NewTrusted(errNoPeer(id), http.StatusNotFound)
	}

	return web.Respond(ctx, w, nil, http.StatusNoContent)
}

// SignalMining asks the worker to run a mining operation now.
func (h Handlers) SignalMining(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	h.Worker.SignalStartMining()

	resp := struct {
		Status string `json:"status"`
	}{
		Status: "mining signaled",
	}

	return web.Respond(ctx, w, resp, http.StatusOK)
}

// FlushMempool discards every pending transaction.
func (h Handlers) FlushMempool(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	if err := h.Ledger.FlushMempool(); err != nil {
		return err
	}

	return web.Respond(ctx, w, nil, http.StatusNoContent)
}

// =============================================================================

type errNoPeer string

func (e errNoPeer) Error() string {
	return "no connection with peer " + string(e)
}
