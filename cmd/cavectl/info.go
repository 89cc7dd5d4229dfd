package main

import (
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(newInfoCmd())
}

func newInfoCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "info",
		Short: "Report the target's memory geometry",
		Long: `The info command reports the page size and allocation granularity of
the target system, and the process the remaining commands would operate on.

Example:
  cavectl info
  cavectl info --pid 4242 --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInfo()
		},
	}
	return cmd
}

func runInfo() error {
	p, err := openTarget()
	if err != nil {
		return err
	}
	defer p.Close()

	si := p.Info()
	if jsonOut {
		return printJSON(map[string]interface{}{
			"pid":                    p.PID(),
			"page_size":              si.PageSize,
			"allocation_granularity": si.AllocationGranularity,
		})
	}

	printInfo("Target process: %d\n", p.PID())
	printInfo("  Page size:              %d bytes\n", si.PageSize)
	printInfo("  Allocation granularity: %d bytes\n", si.AllocationGranularity)
	return nil
}
