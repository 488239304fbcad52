// Package cmd contains the wallet commands.
package cmd

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/ledgerkit/node/foundation/nameservice"
	"github.com/spf13/cobra"
)

var (
	accountName string
	accountPath string
	url         string
)

var rootCmd = &cobra.Command{
	Use:   "wallet",
	Short: "Simple wallet for the ledger node",
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&accountName, "account", "a", "private.ecdsa", "Name of the private key file.")
	rootCmd.PersistentFlags().StringVarP(&accountPath, "account-path", "p", "zblock/accounts/", "Path to the directory with private keys.")
	rootCmd.PersistentFlags().StringVarP(&url, "url", "u", "http://localhost:8080", "Url of the node.")
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func getPrivateKeyPath() string {
	name := accountName
	if !strings.HasSuffix(name, nameservice.KeyExtension) {
		name += nameservice.KeyExtension
	}

	return filepath.Join(accountPath, name)
}
