package cmd

import (
	"fmt"
	"log"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ledgerkit/node/foundation/blockchain/database"
	"github.com/spf13/cobra"
)

var accountVerbose bool

var accountCmd = &cobra.Command{
	Use:   "account",
	Short: "Print the account id owned by the wallet key",
	Run:   accountRun,
}

func init() {
	rootCmd.AddCommand(accountCmd)
	accountCmd.Flags().BoolVarP(&accountVerbose, "verbose", "v", false, "Also print the key file and the short account form.")
}

func accountRun(cmd *cobra.Command, args []string) {
	path := getPrivateKeyPath()

	privateKey, err := crypto.LoadECDSA(path)
	if err != nil {
		log.Fatalf("loading key %s: %s", path, err)
	}

	accountID := database.PublicKeyToAccountID(privateKey.PublicKey)

	if !accountVerbose {
		fmt.Println(accountID)
		return
	}

	fmt.Printf("key:     %s\n", path)
	fmt.Printf("account: %s\n", accountID)
	fmt.Printf("short:   %s\n", accountID.Short())
}
