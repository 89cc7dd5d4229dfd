package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/joshuapare/cavekit/cave"
)

var (
	createSize    uint64
	createMin     string
	createMax     string
	createRetries int
)

func init() {
	rootCmd.AddCommand(newCreateCmd())
}

func newCreateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a buffer inside an address window",
		Long: `The create command places and commits a new buffer whose whole extent
lies inside the given address window.

Example:
  cavectl create --size 4096
  cavectl create --pid 4242 --size 256 --min 0x10000000 --max 0x20000000`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCreate()
		},
	}
	cmd.Flags().Uint64Var(&createSize, "size", 0, "Payload bytes the buffer must hold (required)")
	cmd.Flags().StringVar(&createMin, "min", "", "Lowest acceptable address")
	cmd.Flags().StringVar(&createMax, "max", "", "Highest acceptable address")
	cmd.Flags().IntVar(&createRetries, "retries", 3, "Placement+commit attempts before giving up")
	_ = cmd.MarkFlagRequired("size")
	return cmd
}

func runCreate() error {
	p, err := openTarget()
	if err != nil {
		return err
	}
	defer p.Close()

	window, err := windowFromFlags(createMin, createMax)
	if err != nil {
		return err
	}

	h := cave.NewHelper(p, cave.WithRetries(createRetries))
	b, err := h.CreateBufferIn(createSize, window)
	if err != nil {
		return fmt.Errorf("create buffer: %w", err)
	}

	hdr, err := b.Header()
	if err != nil {
		return err
	}
	if jsonOut {
		return printJSON(bufferReport{
			Base:      b.Base(),
			TotalSize: b.TotalSize(),
			DataPtr:   hdr.DataPtr,
			Size:      hdr.Size,
			Offset:    hdr.Offset,
			Remaining: hdr.Remaining(),
			Alignment: hdr.Alignment,
		})
	}
	printInfo("Created buffer at 0x%016X (%d payload bytes)\n", b.Base(), hdr.Size)
	return nil
}
