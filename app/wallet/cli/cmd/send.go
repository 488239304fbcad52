package cmd

import (
	"crypto/ecdsa"
	"fmt"
	"log"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ledgerkit/node/foundation/blockchain/database"
	"github.com/spf13/cobra"
)

var (
	to    string
	value uint64
	data  string
)

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Send transaction",
	Run: func(cmd *cobra.Command, args []string) {
		privateKey, err := crypto.LoadECDSA(getPrivateKeyPath())
		if err != nil {
			log.Fatal(err)
		}

		sendWithDetails(privateKey)
	},
}

func init() {
	rootCmd.AddCommand(sendCmd)
	sendCmd.Flags().StringVarP(&to, "to", "t", "", "Account to send the value to.")
	sendCmd.Flags().Uint64VarP(&value, "value", "v", 0, "Value to send in minor units.")
	sendCmd.Flags().StringVarP(&data, "data", "d", "", "Data to attach.")
}

func sendWithDetails(privateKey *ecdsa.PrivateKey) {
	receiver, err := database.ToAccountID(to)
	if err != nil {
		log.Fatal(err)
	}

	sender := database.PublicKeyToAccountID(privateKey.PublicKey)

	// The node knows the nonce of the committed and pending transactions.
	var nonce struct {
		Nonce uint64 `json:"nonce"`
	}
	if err := get(fmt.Sprintf("%s/v1/nonce/%s", url, sender), &nonce); err != nil {
		log.Fatal(err)
	}

	tx, err := database.NewTx(sender, receiver, value, data)
	if err != nil {
		log.Fatal(err)
	}

	if err := tx.Sign(privateKey, nonce.Nonce); err != nil {
		log.Fatal(err)
	}

	var resp struct {
		Status string `json:"status"`
	}
	if err := post(fmt.Sprintf("%s/v1/tx/submit", url), tx, &resp); err != nil {
		log.Fatal(err)
	}

	fmt.Printf("%s: nonce[%d] fee[%d]\n", resp.Status, tx.Nonce, tx.Fee)
}
