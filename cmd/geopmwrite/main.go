// geopmwrite — lists and writes controls through the geopmd PlatformIO
// federation layer.
package main

import (
	"fmt"
	"os"
	"sort"
	"strconv"

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
		Use:     "geopmwrite [control] [value]",
		Short:   "Write hardware control settings through the PlatformIO federation layer",
		Version: version,
		Args:    cobra.MaximumNArgs(2),
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
				return listControls(built.PlatformIO)
			}
			if len(args) != 2 {
				return fmt.Errorf("expected a control name and a value, got %d args", len(args))
			}
			value, err := strconv.ParseFloat(args[1], 64)
			if err != nil {
				return fmt.Errorf("invalid value %q: %w", args[1], err)
			}
			return writeControl(built.PlatformIO, args[0], domainFlag, idxFlag, value)
		},
	}

	rootCmd.Flags().StringVarP(&domainFlag, "domain", "d", "board", "Domain to write at (board, package, core, cpu, memory, gpu, gpu_chip, nic)")
	rootCmd.Flags().IntVarP(&idxFlag, "index", "i", 0, "Domain index to write at")
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// listControls prints every known control name, one per line, sorted.
func listControls(pio *platformio.PlatformIO) error {
	names := pio.ControlNames()
	sort.Strings(names)
	for _, n := range names {
		fmt.Println(n)
	}
	return nil
}

// writeControl pushes a single control, adjusts it to value, and commits
// it through write_batch — the smallest batch a single CLI invocation can
// form, since write_batch requires every pushed control be adjusted.
func writeControl(pio *platformio.PlatformIO, name, domainFlag string, idx int, value float64) error {
	domain, err := topo.NameToDomain(domainFlag)
	if err != nil {
		return fmt.Errorf("invalid domain %q: %w", domainFlag, err)
	}

	h, err := pio.PushControl(name, domain, idx)
	if err != nil {
		return err
	}
	if err := pio.Adjust(h, value); err != nil {
		return err
	}
	return pio.WriteBatch()
}
