//go:build !windows

package main

import (
	"os"
	"syscall"
)

// shutdownSignals stop a running command. On Unix this is SIGINT and SIGTERM.
var shutdownSignals = []os.Signal{os.Interrupt, syscall.SIGTERM}
