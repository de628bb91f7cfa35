package cmd

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/roffe/fdcan"
	"github.com/spf13/cobra"
)

func init() {
	sendCmd.Flags().Bool("extended", false, "send with an extended identifier")
	sendCmd.Flags().Bool("fd", false, "send as fd frame with bit rate switching")
	rootCmd.AddCommand(sendCmd)
}

var sendCmd = &cobra.Command{
	Use:   "send <id> [hex data]",
	Short: "send a single frame in normal mode",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := parseID(args[0])
		if err != nil {
			return err
		}
		extended, _ := cmd.Flags().GetBool("extended")
		fd, _ := cmd.Flags().GetBool("fd")
		var data []byte
		if len(args) == 2 {
			data, err = hex.DecodeString(strings.ReplaceAll(args[1], " ", ""))
			if err != nil {
				return err
			}
		}
		id, ok := fdcan.StandardID(raw)
		if extended {
			id, ok = fdcan.ExtendedID(raw)
		}
		if !ok {
			return fmt.Errorf("identifier %X out of range", raw)
		}
		frame := fdcan.NewFrame(id, data)
		if fd {
			frame = fdcan.NewFDFrame(id, data, true)
		}
		if err := frame.Header().Validate(); err != nil {
			return err
		}

		dev, err := initAdapter(cmd, fdcan.Normal)
		if err != nil {
			return err
		}
		defer dev.Close()

		frame.Outgoing = true
		select {
		case dev.Send() <- frame:
		case err := <-dev.Err():
			return err
		}
		fmt.Println(frame.ColorString())
		// give the pump a moment to hand the frame to the peripheral
		select {
		case err := <-dev.Err():
			return err
		case <-time.After(50 * time.Millisecond):
		}
		return nil
	},
}
