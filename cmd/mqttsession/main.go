// mqttsession is a command-line MQTT client built on the session layer.
//
// It publishes messages with broker acknowledgement, subscribes to topics
// with optional SQLite journaling, and inspects the journal:
//
//	mqttsession publish sensors/temp 21.5
//	mqttsession subscribe --journal sensors/temp alerts
//	mqttsession journal list --topic sensors/temp
//	mqttsession health
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1) //nolint:gocritic // cancel is a no-op on the error path
	}
}

// run executes the command line in args, separated from main for testability.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	root := newRootCmd(stdout, stderr)
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}
