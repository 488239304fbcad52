package worker

import (
	"github.com/ledgerkit/node/foundation/blockchain/database"
	"github.com/ledgerkit/node/foundation/blockchain/network"
)

// maxTxShareRequests represents the max number of pending tx network share
// requests that can be outstanding before share requests are dropped.
const maxTxShareRequests = 100

// SignalShareTx queues a locally submitted transaction for gossip. When the
// queue is full the transaction is not shared.
func (w *Worker) SignalShareTx(tx database.Tx) {
	select {
	case w.txSharing <- tx:
		w.evHandler("worker: SignalShareTx: share Tx signaled")
	default:
		w.evHandler("worker: SignalShareTx: queue full, transactions won't be shared.")
	}
}

// shareTxOperations handles sharing new transactions.
func (w *Worker) shareTxOperations() {
	w.evHandler("worker: shareTxOperations: G started")
	defer w.evHandler("worker: shareTxOperations: G completed")

	for {
		select {
		case tx := <-w.txSharing:
			if !w.isShutdown() {
				w.runShareTxOperation(tx)
			}
		case <-w.shut:
			w.evHandler("worker: shareTxOperations: received shut signal")
			return
		}
	}
}

// runShareTxOperation sends the transaction to every connected peer.
func (w *Worker) runShareTxOperation(tx database.Tx) {
	msg, err := network.NewMessage(network.TypeAddTransaction, w.network.ID(), tx)
	if err != nil {
		w.evHandler("worker: runShareTxOperation: WARNING: %s", err)
		return
	}

	sent := w.network.SendAll(msg)
	w.evHandler("worker: runShareTxOperation: tx[%s] sent to %d peers", tx, sent)
}
