package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
)

// Version is set at build time via -ldflags
var Version = "dev"

// Runner is what main dispatches to
type Runner interface {
	ApplyOptions(opts AppOptions)
	RunValidate() error
	RunRender() error
	RunSwap(ctx context.Context) error
}

// AppOptions holds the command line flags
type AppOptions struct {
	ConfigFile   string
	InputFile    string
	OutputFile   string
	ImageFile    string
	Algorithm    string
	Workers      int
	Strict       bool
	Quiet        bool
	ValidateOnly bool
	RenderOnly   bool
	HttpMode     bool
	HttpPort     int
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, NewApp()); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		log.Fatalf("parcelswap: %v", err)
	}
}

// run parses args and dispatches to the selected mode
func run(ctx context.Context, args []string, out io.Writer, app Runner) error {
	fs := flag.NewFlagSet("parcelswap", flag.ContinueOnError)
	fs.SetOutput(out)

	var opts AppOptions
	fs.StringVar(&opts.ConfigFile, "config", "config.yaml", "Path to configuration file")
	fs.StringVar(&opts.InputFile, "input", "", "Input GeoJSON (overrides input.path)")
	fs.StringVar(&opts.OutputFile, "output", "", "Swapped GeoJSON (overrides output.path)")
	fs.StringVar(&opts.ImageFile, "image", "", "Ownership PNG (overrides output.image)")
	fs.StringVar(&opts.Algorithm, "algorithm", "", "neighbours, closer, neighbours-closer or closer-neighbours")
	fs.IntVar(&opts.Workers, "workers", 0, "Parallel evaluation workers (0 keeps the config value)")
	fs.BoolVar(&opts.Strict, "strict", false, "Require swaps to keep both parties as compact as before")
	fs.BoolVar(&opts.Quiet, "quiet", false, "Suppress per-turn engine logging")
	fs.BoolVar(&opts.ValidateOnly, "validate", false, "Load config and dataset, print a summary and exit")
	fs.BoolVar(&opts.RenderOnly, "render", false, "Render the input ownership PNG and exit")
	fs.BoolVar(&opts.HttpMode, "http", false, "Serve status, results and metrics over HTTP")
	fs.IntVar(&opts.HttpPort, "http-port", 8080, "HTTP server port")

	if err := fs.Parse(args); err != nil {
		return err
	}

	fmt.Fprintf(out, "parcelswap version: %s\n", Version)
	app.ApplyOptions(opts)

	switch {
	case opts.ValidateOnly:
		return app.RunValidate()
	case opts.RenderOnly:
		return app.RunRender()
	default:
		return app.RunSwap(ctx)
	}
}
