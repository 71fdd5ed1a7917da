package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/muvis-xrh/xrhms-core/cmd"
	"github.com/muvis-xrh/xrhms-core/internal/buildinfo"
	"github.com/muvis-xrh/xrhms-core/internal/conf"
	"github.com/muvis-xrh/xrhms-core/internal/runtime"
)

func main() {
	os.Exit(run())
}

func run() int {
	settings, err := conf.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading configuration: %v\n", err)
		return 2
	}

	rc := runtime.NewContext(settings, buildinfo.Current(settings.Main.Name))
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd := cmd.RootCommand(rc)
	err = rootCmd.ExecuteContext(ctx)

	rc.Finish(context.WithoutCancel(ctx), err)
	if cerr := rc.Close(); cerr != nil {
		fmt.Fprintf(os.Stderr, "error during shutdown: %v\n", cerr)
	}

	if cause := runtime.Cause(err); cause != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", cause)
	}
	return runtime.ExitCode(err)
}
