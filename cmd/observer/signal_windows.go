//go:build windows

package main

import "os"

// shutdownSignals stop a running command. Windows only delivers os.Interrupt.
var shutdownSignals = []os.Signal{os.Interrupt}
