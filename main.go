package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/tphakala/streamhub/cmd"
	"github.com/tphakala/streamhub/internal/buildinfo"
)

// Set by the linker: -X main.version=... -X main.buildDate=...
var (
	version   = ""
	buildDate = ""
	systemID  = ""
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bi := buildinfo.NewContext(version, buildDate, systemID)
	if err := cmd.RootCommand(bi).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}
