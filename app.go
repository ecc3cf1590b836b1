package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/kwv/parcelswap/swap"
)

// App encapsulates the application state and dependencies
type App struct {
	Config     *swap.Config
	Dataset    *swap.Dataset
	Geometry   *swap.PlanarGeometry
	Progress   *swap.ProgressTracker
	MQTTClient *swap.MQTTClient
	Publisher  *swap.Publisher
	Journal    *swap.Journal
	Registry   *prometheus.Registry
	Metrics    *swap.PrometheusMetrics

	// CLI Flags (effectively dependencies)
	ConfigFile string
	InputFile  string
	OutputFile string
	ImageFile  string
	Algorithm  string
	Workers    int
	Strict     bool
	Quiet      bool
	HttpMode   bool
	HttpPort   int

	// Stdout receives the human-readable summaries
	Stdout io.Writer
}

var _ Runner = (*App)(nil)

// NewApp creates a new App instance
func NewApp() *App {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return &App{
		Registry: reg,
		Metrics:  swap.NewPrometheusMetrics(reg, ""),
		Stdout:   os.Stdout,
	}
}

// ApplyOptions applies CLI options to the App instance
func (a *App) ApplyOptions(opts AppOptions) {
	a.ConfigFile = opts.ConfigFile
	a.InputFile = opts.InputFile
	a.OutputFile = opts.OutputFile
	a.ImageFile = opts.ImageFile
	a.Algorithm = opts.Algorithm
	a.Workers = opts.Workers
	a.Strict = opts.Strict
	a.Quiet = opts.Quiet
	a.HttpMode = opts.HttpMode
	a.HttpPort = opts.HttpPort
}

// overrides applies command line flags on top of the config file
func (a *App) overrides(cfg *swap.Config) {
	if a.InputFile != "" {
		cfg.Input.Path = a.InputFile
	}
	if a.OutputFile != "" {
		cfg.Output.Path = a.OutputFile
	}
	if a.ImageFile != "" {
		cfg.Output.Image = a.ImageFile
	}
	if a.Algorithm != "" {
		cfg.Engine.Algorithm = swap.Algorithm(a.Algorithm)
	}
	if a.Workers > 0 {
		cfg.Engine.Workers = a.Workers
	}
	if a.Strict {
		cfg.Engine.Strict = true
	}
	if a.Quiet {
		cfg.Engine.Quiet = true
	}
}

// loadConfig reads the config file. A missing file is allowed when the
// input is given on the command line.
func (a *App) loadConfig() error {
	if _, err := os.Stat(a.ConfigFile); errors.Is(err, os.ErrNotExist) && a.InputFile != "" {
		log.Printf("No config at %s, using defaults", a.ConfigFile)
		cfg := swap.NewConfig()
		a.overrides(cfg)
		cfg.ApplyDefaults()
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid options: %w", err)
		}
		a.Config = cfg
		return nil
	}

	cfg, err := swap.LoadConfigWith(a.ConfigFile, a.overrides)
	if err != nil {
		return fmt.Errorf("failed to load config: %w (looked at %s)", err, a.ConfigFile)
	}
	a.Config = cfg
	log.Printf("Loaded config from %s", a.ConfigFile)
	return nil
}

// loadDataset reads the input GeoJSON and indexes its geometry
func (a *App) loadDataset() error {
	in := a.Config.Input
	ds, err := swap.LoadGeoJSON(in.Path, in)
	if err != nil {
		return err
	}
	a.Dataset = ds
	a.Geometry = swap.NewPlanarGeometry(ds, a.Config.Engine.GeometryTolerance())
	log.Printf("Loaded %d units held by %d owners from %s", ds.Len(), len(ds.Owners()), in.Path)

	found := 0
	for _, id := range a.Config.Seeds.Preferred {
		if _, ok := ds.Unit(id); !ok {
			log.Printf("Warning: preferred seed %s is not in the dataset", id)
			continue
		}
		found++
	}
	if a.Config.Seeds.OnlyPreferred && found == 0 {
		log.Printf("Warning: onlyPreferred is set but no preferred seed is in the dataset, no owner will have a seed")
	}
	return nil
}

func (a *App) load() error {
	if err := a.loadConfig(); err != nil {
		return err
	}
	return a.loadDataset()
}

// RunValidate loads config and dataset and prints the holdings per owner
func (a *App) RunValidate() error {
	if err := a.load(); err != nil {
		return err
	}

	totals := make(map[swap.OwnerID]float64)
	counts := make(map[swap.OwnerID]int)
	unowned := 0
	for _, u := range a.Dataset.Units() {
		if u.Owner == "" {
			unowned++
			continue
		}
		totals[u.Owner] += u.Weight
		counts[u.Owner]++
	}

	fmt.Fprintf(a.Stdout, "\nDataset: %d units, %d owners, %d unowned\n", a.Dataset.Len(), len(counts), unowned)
	fmt.Fprintf(a.Stdout, "%-24s %8s %14s\n", "owner", "units", "weight")
	for _, owner := range a.Dataset.Owners() {
		fmt.Fprintf(a.Stdout, "%-24s %8d %14.2f\n", owner, counts[owner], totals[owner])
	}
	return nil
}

// RunRender renders the input ownership to a PNG
func (a *App) RunRender() error {
	if err := a.load(); err != nil {
		return err
	}
	path := a.Config.Output.Image
	if path == "" {
		path = "ownership.png"
	}
	if err := a.newRenderer(nil).SavePNG(path); err != nil {
		return err
	}
	fmt.Fprintf(a.Stdout, "Ownership map saved to %s\n", path)
	return nil
}

// RunSwap runs the engine with all configured observers, writes the outputs
// and, in HTTP mode, keeps serving until ctx is done
func (a *App) RunSwap(ctx context.Context) error {
	if err := a.load(); err != nil {
		return err
	}
	cfg := a.Config

	runID := uuid.NewString()
	a.Progress = swap.NewProgressTracker(runID, cfg.Engine.Algorithm)

	opts := []swap.Option{
		swap.WithRunID(runID),
		swap.WithMetrics(a.Metrics),
		swap.WithObserver(a.Progress),
		swap.WithTurnFields(cfg.Input.IDField, cfg.Input.OwnerField),
		swap.WithSeedPolicy(swap.SeedPolicy{
			Preferred:        cfg.Seeds.Preferred,
			OnlyPreferred:    cfg.Seeds.OnlyPreferred,
			SingleUnitOwners: cfg.Engine.SingleUnitOwners,
		}),
	}

	mqttClient, err := swap.ConnectMQTT(ctx, cfg.MQTT)
	if err != nil {
		return fmt.Errorf("failed to initialize MQTT: %w", err)
	}
	if mqttClient != nil {
		a.MQTTClient = mqttClient
		defer a.MQTTClient.Disconnect()
		a.Publisher = swap.NewPublisherFor(mqttClient, cfg.MQTT)
		opts = append(opts, swap.WithObserver(a.Publisher))
		log.Printf("[MQTT] publishing progress to %s/%s", mqttClient.Prefix(), runID)
	}

	if cfg.Journal.Path != "" {
		j, err := swap.OpenJournal(cfg.Journal.Path)
		if err != nil {
			return err
		}
		defer j.Close()
		if err := j.BeginRun(runID, cfg.Engine.Algorithm); err != nil {
			return err
		}
		a.Journal = j
		opts = append(opts, swap.WithObserver(j))
	}

	if a.HttpMode {
		a.startHTTP(ctx)
	}

	engine := swap.NewEngine(cfg.Engine, a.Geometry, opts...)
	res := engine.Run(ctx, a.Dataset)
	if res.Err != nil {
		return fmt.Errorf("run %s: %w", res.RunID, res.Err)
	}

	if a.Journal != nil {
		if err := a.Journal.Err(); err != nil {
			log.Printf("Warning: journal incomplete: %v", err)
		}
	}
	if err := a.writeOutputs(res); err != nil {
		return err
	}
	a.printSummary(res)

	if a.HttpMode && ctx.Err() == nil {
		fmt.Fprintln(a.Stdout, "\nPress Ctrl+C to stop")
		<-ctx.Done()
	}
	return nil
}

// writeOutputs writes the configured GeoJSON, dissolved GeoJSON and PNG
func (a *App) writeOutputs(res swap.Result) error {
	cfg := a.Config
	if cfg.Output.Path != "" {
		// the final snapshot uses the input field names
		tag := swap.NewTurnTag(0, cfg.Input.IDField, cfg.Input.OwnerField)
		if err := a.Dataset.WriteGeoJSON(cfg.Output.Path, tag); err != nil {
			return err
		}
		log.Printf("Swapped dataset saved to %s", cfg.Output.Path)
	}
	if cfg.Output.Dissolve != "" {
		order := a.Dataset.Owners()
		if err := a.Dataset.WriteDissolved(cfg.Output.Dissolve, a.Geometry, res.Ownership, order, cfg.Input.OwnerField); err != nil {
			return err
		}
		log.Printf("Dissolved holdings saved to %s", cfg.Output.Dissolve)
	}
	if cfg.Output.Image != "" {
		if err := a.newRenderer(res.Seeds).SavePNG(cfg.Output.Image); err != nil {
			return err
		}
		log.Printf("Ownership map saved to %s", cfg.Output.Image)
	}
	return nil
}

func (a *App) newRenderer(seeds map[swap.OwnerID][]swap.UnitID) *swap.OwnershipRenderer {
	r := swap.NewOwnershipRenderer(a.Dataset, seeds)
	applyConfigColors(r, a.Config)
	return r
}

// printSummary prints the per-owner outcome of a run
func (a *App) printSummary(res swap.Result) {
	w := a.Stdout
	fmt.Fprintf(w, "\nRun %s (%s): %s\n", res.RunID, res.Algorithm, res.Status)
	fmt.Fprintf(w, "  swaps: %d, turns: %d", res.SwapCount, res.Turns)
	if res.CapReached {
		fmt.Fprint(w, " (turn cap reached)")
	}
	fmt.Fprintln(w)

	owners := make([]swap.OwnerID, 0, len(res.Summary))
	for owner := range res.Summary {
		owners = append(owners, owner)
	}
	slices.Sort(owners)

	fmt.Fprintf(w, "\n%-24s %7s %7s %14s %14s %8s %12s %8s\n",
		"owner", "units0", "units", "initial", "final", "dev %", "seed dist", "swapped")
	touched := 0
	for _, owner := range owners {
		s := res.Summary[owner]
		swapped := "no"
		if s.Touched {
			swapped = "yes"
			touched++
		}
		fmt.Fprintf(w, "%-24s %7d %7d %14.2f %14.2f %8.3f %12.1f %8s\n",
			owner, s.InitialUnits, s.Units, s.Initial, s.Final, s.DeviationPct, s.MeanSeedDistance, swapped)
	}
	fmt.Fprintf(w, "\n%d of %d owners took part in a swap\n", touched, len(owners))
}

// startHTTP serves the status endpoints until ctx is done
func (a *App) startHTTP(ctx context.Context) {
	srv := &http.Server{
		Addr:              fmt.Sprintf("0.0.0.0:%d", a.HttpPort),
		Handler:           newHTTPServer(a.Progress, a.Dataset, a.Config, a.Registry),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Printf("[HTTP] Starting server on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("[HTTP] Server error: %v", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("[HTTP] Shutdown: %v", err)
		}
	}()

	fmt.Fprintf(a.Stdout, "\nHTTP endpoints (port %d):\n", a.HttpPort)
	fmt.Fprintln(a.Stdout, "  GET /health            - Health check")
	fmt.Fprintln(a.Stdout, "  GET /status            - Run progress")
	fmt.Fprintln(a.Stdout, "  GET /result            - Final result and per-owner summary")
	fmt.Fprintln(a.Stdout, "  GET /ownership.geojson - Current ownership")
	fmt.Fprintln(a.Stdout, "  GET /map.png           - Ownership map")
	fmt.Fprintln(a.Stdout, "  GET /metrics           - Prometheus metrics")
}
