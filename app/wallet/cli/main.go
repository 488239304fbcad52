package main

import "github.com/ledgerkit/node/app/wallet/cli/cmd"

func main() {
	cmd.Execute()
}
