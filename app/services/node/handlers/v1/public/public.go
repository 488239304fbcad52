// Package public maintains the group of handlers for public access.
package public

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/ledgerkit/node/business/web/errs"
	"github.com/ledgerkit/node/foundation/blockchain/database"
	"github.com/ledgerkit/node/foundation/blockchain/ledger"
	"github.com/ledgerkit/node/foundation/blockchain/network"
	"github.com/ledgerkit/node/foundation/blockchain/worker"
	"github.com/ledgerkit/node/foundation/events"
	"github.com/ledgerkit/node/foundation/nameservice"
	"github.com/ledgerkit/node/foundation/web"
	"go.uber.org/zap"
)

// defaultRecent is the number of blocks returned when the caller doesn't ask.
const defaultRecent = 10

// Handlers manages the set of public node endpoints.
type Handlers struct {
	Log     *zap.SugaredLogger
	Ledger  *ledger.Ledger
	Network *network.Node
	Worker  *worker.Worker
	NS      *nameservice.NameService
	WS      websocket.Upgrader
	Evts    *events.Events
}

// Events handles a web socket to provide events to a client.
func (h Handlers) Events(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	v, err := web.GetValues(ctx)
	if err != nil {
		return web.NewShutdownError("web value missing from context")
	}

	h.WS.CheckOrigin = func(r *http.Request) bool { return true }

	c, err := h.WS.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	defer c.Close()

	ch := h.Evts.Acquire(v.TraceID)
	defer h.Evts.Release(v.TraceID)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case msg, wd := <-ch:
			if !wd {
				return nil
			}

			if err := c.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
				return err
			}

		case <-ticker.C:
			if err := c.WriteMessage(websocket.PingMessage, []byte("ping")); err != nil {
				return nil
			}
		}
	}
}

// SubmitWalletTransaction adds a signed wallet transaction to the mempool and
// shares it with the peers.
func (h Handlers) SubmitWalletTransaction(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	v, err := web.GetValues(ctx)
	if err != nil {
		return web.NewShutdownError("web value missing from context")
	}

	var stx submitTx
	if err := web.Decode(r, &stx); err != nil {
		if errs.IsFieldErrors(err) {
			return err
		}
		return errs.NewTrusted(err, http.StatusBadRequest)
	}

	dbTx := stx.toDB()

	h.Log.Infow("add user tran", "traceid", v.TraceID, "sender", dbTx.Sender.Short(), "receiver", dbTx.Receiver.Short(), "value", dbTx.Value, "nonce", dbTx.Nonce)

	added, err := h.Ledger.AddToMempool(dbTx)
	if err != nil {
		return errs.NewTrusted(err, http.StatusBadRequest)
	}

	resp := struct {
		Status string `json:"status"`
	}{
		Status: "transaction already pending",
	}

	if added {
		h.Worker.SignalShareTx(dbTx)
		resp.Status = "transaction added to mempool"
	}

	return web.Respond(ctx, w, resp, http.StatusOK)
}

// Genesis returns the chain parameters.
func (h Handlers) Genesis(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	return web.Respond(ctx, w, h.Ledger.Genesis(), http.StatusOK)
}

// Status returns the identity of the node and the state of its chain.
func (h Handlers) Status(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	var tip string
	if block, exists := h.Ledger.Tip(); exists {
		tip = block.Hash
	}

	st := status{
		NodeID:     h.Network.ID(),
		Height:     h.Ledger.Height(),
		Tip:        tip,
		Difficulty: h.Ledger.Difficulty(),
		Target:     h.Ledger.Target(),
		Mempool:    h.Ledger.MempoolLength(),
		Peers:      len(h.Network.Peers()),
	}

	return web.Respond(ctx, w, st, http.StatusOK)
}

// Balance returns the committed balance of the account.
func (h Handlers) Balance(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	accountID, err := database.ToAccountID(web.Param(r, "account"))
	if err != nil {
		return errs.NewTrusted(err, http.StatusBadRequest)
	}

	act := account{
		Account: accountID,
		Name:    h.NS.Lookup(accountID),
		Balance: h.Ledger.BalanceOf(accountID),
		Nonce:   h.Ledger.NextNonce(accountID),
	}

	return web.Respond(ctx, w, act, http.StatusOK)
}

// Nonce returns the nonce the account must sign its next transaction with.
func (h Handlers) Nonce(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	accountID, err := database.ToAccountID(web.Param(r, "account"))
	if err != nil {
		return errs.NewTrusted(err, http.StatusBadRequest)
	}

	resp := struct {
		Account database.AccountID `json:"account"`
		Nonce   uint64             `json:"nonce"`
	}{
		Account: accountID,
		Nonce:   h.Ledger.NextNonce(accountID),
	}

	return web.Respond(ctx, w, resp, http.StatusOK)
}

// History returns the committed transactions of the account.
func (h Handlers) History(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	accountID, err := database.ToAccountID(web.Param(r, "account"))
	if err != nil {
		return errs.NewTrusted(err, http.StatusBadRequest)
	}

	records := h.Ledger.History(accountID)
	if len(records) == 0 {
		return web.Respond(ctx, w, nil, http.StatusNoContent)
	}

	trans := make([]tx, len(records))
	for i, rec := range records {
		trans[i] = toRecord(h.NS, rec)
	}

	return web.Respond(ctx, w, trans, http.StatusOK)
}

// BlockByHash returns the committed block with the specified hash.
func (h Handlers) BlockByHash(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	hash := web.Param(r, "hash")

	dbBlock, err := h.Ledger.BlockByHash(hash)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return errs.NewTrusted(fmt.Errorf("block %s: %w", hash, err), http.StatusNotFound)
		}
		return err
	}

	return web.Respond(ctx, w, toBlock(h.NS, dbBlock), http.StatusOK)
}

// RecentBlocks returns the most recent blocks, newest first. The n query
// parameter sets how many.
func (h Handlers) RecentBlocks(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	n := defaultRecent
	if s := r.URL.Query().Get("n"); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil || v < 0 {
			return errs.NewTrusted(fmt.Errorf("invalid n %q", s), http.StatusBadRequest)
		}
		n = v
	}

	dbBlocks := h.Ledger.RecentBlocks(n)

	blocks := make([]block, len(dbBlocks))
	for i, dbBlock := range dbBlocks {
		blocks[i] = toBlock(h.NS, dbBlock)
	}

	return web.Respond(ctx, w, blocks, http.StatusOK)
}

// Mempool returns the set of uncommitted transactions.
func (h Handlers) Mempool(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	trans := make([]tx, 0, h.Ledger.MempoolLength())
	for dbTx := range h.Ledger.Mempool() {
		trans = append(trans, toTx(h.NS, dbTx))
	}

	return web.Respond(ctx, w, trans, http.StatusOK)
}
