// Command walletctl drives a running walletd from the terminal: it installs
// and unlocks the wallet, manages accounts and answers client requests.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
