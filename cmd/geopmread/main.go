// geopmread — lists and reads signals from the geopmd PlatformIO
// federation layer.
package main

import (
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/geopm/geopmd/internal/config"
	"github.com/geopm/geopmd/internal/platformio"
	"github.com/geopm/geopmd/internal/topo"
)

var version = "0.1.0"

func main() {
	var (
		domainFlag string
		idxFlag    int
		verbose    bool
	)

	rootCmd := &cobra.Command{
		Use:     "geopmread [signal]",
		Short:   "Read hardware telemetry signals through the PlatformIO federation layer",
		Version: version,
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := config.NewLogger(verbose)
			if err != nil {
				return err
			}
			defer log.Sync()

			built, err := config.Build(cmd.Context(), config.FromEnv(), log)
			if err != nil {
				return err
			}

			if len(args) == 0 {
				return listSignals(built.PlatformIO)
			}
			return readSignal(built.PlatformIO, args[0], domainFlag, idxFlag)
		},
	}

	rootCmd.Flags().StringVarP(&domainFlag, "domain", "d", "board", "Domain to read at (board, package, core, cpu, memory, gpu, gpu_chip, nic)")
	rootCmd.Flags().IntVarP(&idxFlag, "index", "i", 0, "Domain index to read at")
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// listSignals prints every known signal name, one per line, sorted.
func listSignals(pio *platformio.PlatformIO) error {
	names := pio.SignalNames()
	sort.Strings(names)
	for _, n := range names {
		fmt.Println(n)
	}
	return nil
}

// readSignal pushes a single signal at the domain named by domainFlag
// (board by default) and prints one value; it does not look up the
// signal's native domain.
func readSignal(pio *platformio.PlatformIO, name, domainFlag string, idx int) error {
	domain, err := topo.NameToDomain(domainFlag)
	if err != nil {
		return fmt.Errorf("invalid domain %q: %w", domainFlag, err)
	}

	h, err := pio.PushSignal(name, domain, idx)
	if err != nil {
		return err
	}
	if err := pio.ReadBatch(); err != nil {
		return err
	}
	v, err := pio.Sample(h)
	if err != nil {
		return err
	}
	fmt.Println(v)
	return nil
}
