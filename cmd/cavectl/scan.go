package main

import (
	"github.com/spf13/cobra"

	"github.com/joshuapare/cavekit/cave"
)

var (
	scanMinFree uint64
	scanMin     string
	scanMax     string
)

func init() {
	rootCmd.AddCommand(newScanCmd())
}

func newScanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Discover buffers in the target's address space",
		Long: `The scan command walks the target's page map and lists every
magic-tagged buffer, optionally filtered by address window and free space.

Example:
  cavectl scan
  cavectl scan --pid 4242 --min 0x10000000 --max 0x7FFF0000 --free 64`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScan()
		},
	}
	cmd.Flags().Uint64Var(&scanMinFree, "free", 0, "Only list buffers with at least this many free bytes")
	cmd.Flags().StringVar(&scanMin, "min", "", "Lowest address of the filter window")
	cmd.Flags().StringVar(&scanMax, "max", "", "Highest address of the filter window")
	return cmd
}

type bufferReport struct {
	Base      uint64 `json:"base"`
	TotalSize uint64 `json:"total_size"`
	DataPtr   uint64 `json:"data_ptr"`
	Size      uint64 `json:"size"`
	Offset    uint64 `json:"offset"`
	Remaining uint64 `json:"remaining"`
	Alignment uint32 `json:"alignment"`
}

func runScan() error {
	p, err := openTarget()
	if err != nil {
		return err
	}
	defer p.Close()

	window, err := windowFromFlags(scanMin, scanMax)
	if err != nil {
		return err
	}

	printVerbose("Scanning address space of process %d\n", p.PID())
	found := cave.FilterBuffers(cave.Scan(p), scanMinFree, window)

	var reports []bufferReport
	for _, b := range found {
		h, err := b.Header()
		if err != nil {
			continue
		}
		reports = append(reports, bufferReport{
			Base:      b.Base(),
			TotalSize: b.TotalSize(),
			DataPtr:   h.DataPtr,
			Size:      h.Size,
			Offset:    h.Offset,
			Remaining: h.Remaining(),
			Alignment: h.Alignment,
		})
	}

	if jsonOut {
		return printJSON(reports)
	}

	if len(reports) == 0 {
		printInfo("No buffers found.\n")
		return nil
	}
	printInfo("%-18s %-10s %-18s %-10s %-10s\n", "BASE", "TOTAL", "DATA", "USED", "FREE")
	for _, r := range reports {
		printInfo("0x%016X %-10d 0x%016X %-10d %-10d\n",
			r.Base, r.TotalSize, r.DataPtr, r.Offset, r.Remaining)
	}
	return nil
}
