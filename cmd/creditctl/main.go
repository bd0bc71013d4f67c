// Command creditctl is the operator tool for the credit ledger: schema
// migrations, access keys, account inspection and the subscription sweep.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd(openRepository).Execute(); err != nil {
		os.Exit(1)
	}
}
