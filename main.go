package main

import (
	"errors"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		// Per-record failures were already reported in the command output.
		if errors.Is(err, errSyncFailed) {
			os.Exit(1)
		}

		exitOnError(err)
	}
}
