package main

import (
	"errors"
	"fmt"
	"os"
)

// exitTempFail tells cron-style callers that a retry may succeed
// (EX_TEMPFAIL from sysexits.h).
const exitTempFail = 75

func main() {
	if err := newRootCmd().Execute(); err != nil {
		if errors.Is(err, errSyncRetryable) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(exitTempFail)
		}

		exitOnError(err)
	}
}
