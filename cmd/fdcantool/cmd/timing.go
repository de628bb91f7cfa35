package cmd

import (
	"fmt"
	"strconv"

	"github.com/roffe/fdcan"
	"github.com/spf13/cobra"
)

func init() {
	timingCmd.Flags().Float64P("samplepoint", "s", 0.875, "sample point as a fraction of the bit time")
	rootCmd.AddCommand(timingCmd)
}

var timingCmd = &cobra.Command{
	Use:   "timing <bitrate> [databitrate]",
	Short: "calculate bit timing register values",
	Long:  `Calculate nominal and data bit timing for the peripheral clock given with --clock`,
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		clock, _ := cmd.Flags().GetUint32(flagClock)
		sp, _ := cmd.Flags().GetFloat64("samplepoint")
		bitrate, err := strconv.ParseUint(args[0], 10, 32)
		if err != nil {
			return err
		}
		nt, err := fdcan.CalcNominalBitTiming(clock, uint32(bitrate), sp)
		if err != nil {
			return err
		}
		fmt.Printf("nominal: %+v\n", nt)
		fmt.Printf("         %d bit/s, sample point %.1f%%\n", nt.Bitrate(clock), nt.SamplePoint()*100)
		if len(args) < 2 {
			return nil
		}
		databitrate, err := strconv.ParseUint(args[1], 10, 32)
		if err != nil {
			return err
		}
		dt, err := fdcan.CalcDataBitTiming(clock, uint32(databitrate), sp)
		if err != nil {
			return err
		}
		fmt.Printf("data:    %+v\n", dt)
		fmt.Printf("         %d bit/s, sample point %.1f%%\n", dt.Bitrate(clock), dt.SamplePoint()*100)
		return nil
	},
}
