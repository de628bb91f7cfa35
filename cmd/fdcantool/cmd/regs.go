package cmd

import (
	"fmt"
	"sort"

	"github.com/roffe/fdcan"
	"github.com/roffe/fdcan/pkg/regs"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(regsCmd)
}

var regsCmd = &cobra.Command{
	Use:   "regs",
	Short: "dump the register block",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		inst, closer, err := openInstance(cmd)
		if err != nil {
			return err
		}
		defer closer()

		f, err := fdcan.New(inst)
		if err != nil {
			return err
		}
		rel, err := f.Control().CoreRelease()
		if err != nil {
			return err
		}
		ec, err := f.ErrorCounters()
		if err != nil {
			return err
		}
		ps, err := f.Control().ProtocolStatus()
		if err != nil {
			return err
		}
		fmt.Printf("core release %s\n", rel)
		fmt.Printf("mode         %s\n", f.Mode())
		fmt.Printf("errors       %s\n", ec)
		fmt.Printf("status       %s\n", ps)
		fmt.Println()

		offsets := make([]uint32, 0, len(regs.Names))
		for off := range regs.Names {
			offsets = append(offsets, off)
		}
		sort.Slice(offsets, func(i, j int) bool { return offsets[i] < offsets[j] })
		r := inst.Registers()
		for _, off := range offsets {
			fmt.Printf("%03X %-7s %08X\n", off, regs.Names[off], r.Read32(off))
		}
		return nil
	},
}
