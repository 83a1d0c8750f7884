// linker-helper is meant to be set as cargo's linker (CARGO_TARGET_<TRIPLE>_LINKER). It picks the compiler for
// $XBUILD_LINKER_TARGET and forwards all arguments to it.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/soundsend/build-tools/pkg/config"
	"github.com/soundsend/build-tools/pkg/proxy"
	"github.com/soundsend/build-tools/pkg/toolchain"
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	target, err := toolchain.ParseTriple(os.Getenv(proxy.TargetEnv))
	if err != nil {
		fmt.Fprintf(os.Stderr, "linker-helper: %s\n", err)
		return proxy.ExitNotRunnable
	}

	cfg, err := config.Load(".")
	if err != nil {
		fmt.Fprintf(os.Stderr, "linker-helper: %s\n", err)
		return proxy.ExitNotRunnable
	}

	host, err := toolchain.DetectHost(ctx, cfg.Toolchain.Host)
	if err != nil {
		fmt.Fprintf(os.Stderr, "linker-helper: %s\n", err)
		return proxy.ExitNotRunnable
	}

	resolver := toolchain.NewResolver(toolchain.ExecProber{})
	resolver.Candidates = cfg.Candidates()
	resolver.DefaultCompiler = cfg.Toolchain.DefaultCompiler

	code, err := proxy.New().Link(ctx, resolver, host, target, os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "linker-helper: %s\n", err)
	}
	return code
}
