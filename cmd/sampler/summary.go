package main

import (
	"fmt"
	"io"

	"github.com/yourorg/ledger-sampler/internal/model"
)

// printSummary writes the human-readable one-shot report
func printSummary(w io.Writer, symbol string, set model.ScalarMetricSet) {
	fmt.Fprintf(w, "Amount of user wallets: %d\n", set.WalletCount)
	fmt.Fprintf(w, "Supply amount (%s): %s\n", symbol, set.TotalSupplyOnHands)
	fmt.Fprintf(w, "Staked %s amount: %s\n", symbol, set.TotalStaked)
	fmt.Fprintf(w, "Proposals in governance: %d\n", set.ProposalCount)
	fmt.Fprintf(w, "Wallets are involved in governance: %d\n", set.GovernanceWalletCount)
	if set.Relational != nil {
		fmt.Fprintf(w, "Active accounts (3d): %d\n", set.Relational.ActiveAccountCount)
		fmt.Fprintf(w, "Transaction info count: %d\n", set.Relational.TransactionInfoCount)
	}
}
