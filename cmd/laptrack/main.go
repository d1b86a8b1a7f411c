// Command laptrack links per-frame detections into trajectories with the
// two-stage LAP tracker and exports, stores and plots the result.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/banshee-data/laptrack/internal/config"
	"github.com/banshee-data/laptrack/internal/laptrack"
	"github.com/banshee-data/laptrack/internal/laptrack/debug"
	"github.com/banshee-data/laptrack/internal/laptrack/detio"
	"github.com/banshee-data/laptrack/internal/laptrack/monitor"
	"github.com/banshee-data/laptrack/internal/laptrack/storage/sqlite"
	"github.com/banshee-data/laptrack/internal/monitoring"
	"github.com/banshee-data/laptrack/internal/version"
)

// Config holds the command line options.
type Config struct {
	Input       string
	ConfigFile  string
	Output      string
	CSVOutput   string
	DBPath      string
	PlotDir     string
	DebugOutput string
	Workers     int
	Verbose     bool
	Trace       bool
	Version     bool
}

func main() {
	cfg, err := parseFlags(flag.CommandLine, os.Args[1:])
	if err != nil {
		log.Fatalf("%v", err)
	}
	if cfg.Version {
		fmt.Println(version.String())
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, os.Stdout, os.Stderr); err != nil {
		log.Fatalf("laptrack: %v", err)
	}
}

func parseFlags(fs *flag.FlagSet, args []string) (Config, error) {
	cfg := Config{}

	fs.StringVar(&cfg.Input, "input", "", "Detections file (.csv or .json)")
	fs.StringVar(&cfg.ConfigFile, "config", "", "Tuning config JSON (defaults apply when empty)")
	fs.StringVar(&cfg.Output, "output", "", "Trajectory JSON output file (- for stdout)")
	fs.StringVar(&cfg.CSVOutput, "csv-output", "", "Trajectory CSV output file")
	fs.StringVar(&cfg.DBPath, "db", "", "SQLite database to store the run in")
	fs.StringVar(&cfg.PlotDir, "plot-dir", "", "Directory for PNG and HTML trajectory plots")
	fs.StringVar(&cfg.DebugOutput, "debug-output", "", "Write linking internals as JSON to this file")
	fs.IntVar(&cfg.Workers, "workers", 0, "Concurrent frame pairs (0 uses the config value or NumCPU)")
	fs.BoolVar(&cfg.Verbose, "verbose", false, "Enable per-stage diagnostic logging")
	fs.BoolVar(&cfg.Trace, "trace", false, "Log every cost matrix and link decision")
	fs.BoolVar(&cfg.Version, "version", false, "Print version and exit")

	if err := fs.Parse(args); err != nil {
		return cfg, err
	}
	if cfg.Version {
		return cfg, nil
	}
	if cfg.Input == "" {
		return cfg, errors.New("-input is required")
	}
	if cfg.Workers < 0 {
		return cfg, fmt.Errorf("-workers must be non-negative, got %d", cfg.Workers)
	}
	return cfg, nil
}

// trackerConfig loads the tuning file, if any, and applies flag overrides.
func trackerConfig(cfg Config) (laptrack.Config, error) {
	tuning := config.EmptyTuningConfig()
	if cfg.ConfigFile != "" {
		var err error
		tuning, err = config.LoadTuningConfig(cfg.ConfigFile)
		if err != nil {
			return laptrack.Config{}, err
		}
	}
	tc := laptrack.ConfigFromTuning(tuning)
	if cfg.Workers > 0 {
		tc.Workers = cfg.Workers
	}
	return tc, tc.Validate()
}

func setupLogging(cfg Config, stderr io.Writer) {
	w := laptrack.LogWriters{Ops: stderr}
	if cfg.Verbose {
		w.Diag = stderr
	}
	if cfg.Trace {
		w.Trace = stderr
	}
	laptrack.SetLogWriters(w)
	monitoring.SetLogger(log.New(stderr, "", log.LstdFlags).Printf)
}

func run(ctx context.Context, cfg Config, stdout, stderr io.Writer) error {
	setupLogging(cfg, stderr)
	defer laptrack.SetLogWriters(laptrack.LogWriters{})

	tc, err := trackerConfig(cfg)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	seq, err := detio.ReadFile(cfg.Input)
	if err != nil {
		return err
	}
	monitoring.Logf("loaded %d detections over %d frames from %s", seq.Len(), seq.FrameCount(), cfg.Input)

	tracker := laptrack.NewTracker(tc)
	collector := debug.NewLinkCollector(cfg.DebugOutput != "")
	tracker.SetCollector(collector)

	done := monitoring.Timed("tracking")
	err = tracker.Process(ctx, seq)
	done()
	if err != nil {
		return err
	}
	trajs := laptrack.Trajectories(seq)
	monitoring.Logf("%d segments, %d links, %d trajectories", len(tracker.Segments()), len(seq.Links()), len(trajs))

	if cfg.Output != "" {
		if err := writeOutput(cfg.Output, stdout, func(w io.Writer) error { return detio.WriteJSON(w, seq) }); err != nil {
			return err
		}
	}
	if cfg.CSVOutput != "" {
		if err := writeOutput(cfg.CSVOutput, stdout, func(w io.Writer) error { return detio.WriteTrajectoriesCSV(w, seq) }); err != nil {
			return err
		}
	}
	if cfg.DebugOutput != "" {
		if err := writeOutput(cfg.DebugOutput, stdout, func(w io.Writer) error {
			enc := json.NewEncoder(w)
			enc.SetIndent("", "  ")
			return enc.Encode(collector.Emit())
		}); err != nil {
			return err
		}
	}

	if cfg.DBPath != "" {
		if err := saveRun(ctx, cfg, tc, seq, len(tracker.Segments())); err != nil {
			return err
		}
	}

	if cfg.PlotDir != "" {
		if err := writePlots(cfg, seq); err != nil {
			return err
		}
	}
	return nil
}

func saveRun(ctx context.Context, cfg Config, tc laptrack.Config, seq *laptrack.Sequence, segments int) error {
	store, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer store.Close()

	id, err := store.SaveRun(ctx, &sqlite.Run{
		CreatedAt: time.Now(),
		Source:    filepath.Base(cfg.Input),
		Config:    tc,
		Sequence:  seq,
		Segments:  segments,
	})
	if err != nil {
		return err
	}
	monitoring.Logf("stored run %s in %s", id, cfg.DBPath)
	return nil
}

func writePlots(cfg Config, seq *laptrack.Sequence) error {
	tp, err := monitor.NewTrajectoryPlotter(cfg.PlotDir)
	if err != nil {
		return err
	}
	name := strings.TrimSuffix(filepath.Base(cfg.Input), filepath.Ext(cfg.Input))
	if _, err := tp.PlotAll(seq, name); err != nil {
		return err
	}
	htmlPath := filepath.Join(cfg.PlotDir, name+".html")
	return writeOutput(htmlPath, nil, func(w io.Writer) error {
		return monitor.WriteTrajectoryHTML(w, seq, name)
	})
}

// writeOutput creates path and hands it to write. A path of "-" writes to
// stdout.
func writeOutput(path string, stdout io.Writer, write func(io.Writer) error) error {
	if path == "-" && stdout != nil {
		return write(stdout)
	}
	f, err := os.Create(filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := write(f); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}
