package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gokernel/core/internal/kernel"
)

var bootCmd = &cobra.Command{
	Use:   "boot",
	Short: "Construct and immediately tear down a kernel instance",
	Long: `boot exercises the full dependency-ordered construction path (disk,
block cache with WAL recovery, inode cache, page pool, scheduler,
process manager, root process), checks structural invariants, then
closes the kernel. It never starts the scheduler's idle loops, making
it a fast way to validate a configuration or a disk image before a
long-running "kerneld run".`,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := loadConfig()
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		k, err := kernel.New(ctx, c)
		if err != nil {
			return fmt.Errorf("boot: %w", err)
		}
		defer k.Close()

		if err := k.CheckInvariants(); err != nil {
			return fmt.Errorf("boot: post-construction invariant check: %w", err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "booted: root pid=%d, %d CPUs, %d-block cache\n",
			k.Root.Pid, k.Sched.NumCPUs(), c.BlockCache.CapacityBlocks)
		return nil
	},
}
