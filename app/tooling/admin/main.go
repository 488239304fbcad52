// This program performs administrative tasks against a stopped node's ledger
// database.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/ledgerkit/node/app/tooling/admin/commands"
	"github.com/ledgerkit/node/foundation/blockchain/database/storage"
	"github.com/ledgerkit/node/foundation/blockchain/ledger"
	"github.com/ledgerkit/node/foundation/logger"
	"go.uber.org/zap"
)

// build is the git version of this program. It is set using build flags in the makefile.
var build = "develop"

func main() {

	// Construct the application logger.
	log, err := logger.New("ADMIN")
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
	if len(os.Args) < 2 {
		return errors.New("usage: admin bals|blocks|mempool [args]")
	}

	dbPath := os.Getenv("NODE_STATE_DB_PATH")
	if dbPath == "" {
		dbPath = "zblock/ledger.db"
	}

	strg, err := storage.NewDisk(dbPath)
	if err != nil {
		return err
	}

	ldg, err := ledger.New(ledger.Config{
		Storage: strg,
		EvHandler: func(v string, args ...any) {
			log.Infow(fmt.Sprintf(v, args...), "build", build)
		},
	})
	if err != nil {
		strg.Close()
		return err
	}
	defer ldg.Close()

	return processCommands(os.Args, ldg)
}

// processCommands handles the execution of the commands specified on
// the command line.
func processCommands(args []string, ldg *ledger.Ledger) error {
	switch args[1] {
	case "bals":
		if err := commands.Balances(args, ldg); err != nil {
			return fmt.Errorf("getting balances: %w", err)
		}
	case "blocks":
		if err := commands.Blocks(args, ldg); err != nil {
			return fmt.Errorf("getting blocks: %w", err)
		}
	case "mempool":
		if err := commands.Mempool(ldg); err != nil {
			return fmt.Errorf("getting mempool: %w", err)
		}
	default:
		return fmt.Errorf("unknown command %q", args[1])
	}

	return nil
}
