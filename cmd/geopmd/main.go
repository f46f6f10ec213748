// geopmd — runs the PlatformIO federation layer as a long-lived batched
// session, sampling every requested signal on a fixed interval and
// emitting a StatsCollector YAML report on shutdown.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/geopm/geopmd/internal/config"
	"github.com/geopm/geopmd/internal/stats"
	"github.com/geopm/geopmd/internal/topo"
)

var version = "0.1.0"

func main() {
	var (
		signalsFlag  string
		interval     time.Duration
		reportOutput string
		verbose      bool
	)

	rootCmd := &cobra.Command{
		Use:     "geopmd",
		Short:   "Run the geopmd PlatformIO federation layer as a sampling session",
		Long:    "geopmd samples a fixed set of board-domain signals on an interval and writes a StatsCollector YAML report on SIGINT/SIGTERM.",
		Version: version,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), signalsFlag, interval, reportOutput, verbose)
		},
	}

	rootCmd.Flags().StringVarP(&signalsFlag, "signals", "s", "TIME::ELAPSED", "Comma-separated board-domain signal names to sample each interval")
	rootCmd.Flags().DurationVar(&interval, "interval", time.Second, "Sampling interval")
	rootCmd.Flags().StringVarP(&reportOutput, "report", "o", "-", "StatsCollector YAML report path (- for stdout)")
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// run builds the federation layer, pushes every requested signal at
// board domain index 0, and samples on interval until ctx is cancelled
// (by SIGINT/SIGTERM) or the process is otherwise asked to stop,
// mirroring the teacher's Orchestrator.Run: derive a cancellable context
// first, install signal handling after, always emit a (possibly partial)
// report on the way out.
func run(ctx context.Context, signalsFlag string, interval time.Duration, reportOutput string, verbose bool) error {
	log, err := config.NewLogger(verbose)
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigCh:
			log.Infow("received signal, shutting down gracefully", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()
	defer signal.Stop(sigCh)

	built, err := config.Build(ctx, config.FromEnv(), log)
	if err != nil {
		return err
	}

	requests := make([]stats.Request, 0)
	for _, name := range strings.Split(signalsFlag, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		requests = append(requests, stats.Request{Name: name, Domain: topo.DomainBoard, DomainIdx: 0})
	}

	collector, err := stats.NewCollector(built.PlatformIO, requests)
	if err != nil {
		return err
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	built.PlatformIO.BeginOverhead()

	log.Infow("geopmd sampling session started", "interval", interval, "signals", requests)
	for {
		select {
		case <-ctx.Done():
			overhead := built.PlatformIO.EndOverhead()
			log.Infow("session overhead", "cpu_user_ms", overhead.CPUUserMs, "cpu_system_ms", overhead.CPUSystemMs,
				"rss_bytes", overhead.MemoryRSSBytes, "ctx_switches", overhead.ContextSwitches)
			return writeReport(collector, reportOutput)
		case <-ticker.C:
			if err := built.PlatformIO.ReadBatch(); err != nil {
				log.Warnw("read_batch failed", "error", err)
				continue
			}
			if err := collector.Update(); err != nil {
				log.Warnw("stats update failed", "error", err)
			}
		}
	}
}

// writeReport renders the accumulated StatsCollector report as YAML and
// writes it to path, matching output.WriteJSON's "-" means stdout
// convention from the teacher's CLI.
func writeReport(collector *stats.Collector, path string) error {
	report, err := collector.ReportYAML()
	if err != nil {
		return err
	}
	if path == "-" {
		fmt.Print(report)
		return nil
	}
	return os.WriteFile(path, []byte(report), 0o644)
}
