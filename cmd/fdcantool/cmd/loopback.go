package cmd

import (
	"bytes"
	"fmt"
	"log"
	"time"

	"github.com/fatih/color"
	"github.com/roffe/fdcan"
	"github.com/roffe/fdcan/pkg/bar"
	"github.com/spf13/cobra"
)

func init() {
	f := loopbackCmd.Flags()
	f.IntP("count", "n", 100, "frames to send")
	f.String("id", "0x123", "identifier of the first frame")
	f.Bool("fd", false, "send 64 byte fd frames")
	f.BoolP("verbose", "v", false, "print every received frame")
	rootCmd.AddCommand(loopbackCmd)
}

var loopbackCmd = &cobra.Command{
	Use:   "loopback",
	Short: "send a burst of frames in loopback mode and verify they come back",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		mode, err := selectMode(cmd, fdcan.InternalLoopback, fdcan.ExternalLoopback)
		if err != nil {
			return err
		}
		count, _ := cmd.Flags().GetInt("count")
		idStr, _ := cmd.Flags().GetString("id")
		fd, _ := cmd.Flags().GetBool("fd")
		verbose, _ := cmd.Flags().GetBool("verbose")
		first, err := parseID(idStr)
		if err != nil {
			return err
		}
		if db, _ := cmd.Flags().GetUint32(flagDataBitrate); fd && db == 0 {
			return fmt.Errorf("--fd needs --%s", flagDataBitrate)
		}

		dev, err := initAdapter(cmd, mode)
		if err != nil {
			return err
		}
		defer dev.Close()

		ctx := cmd.Context()
		start := time.Now()
		b := bar.New(count, "loopback")
		sent := 0
		received := 0
		var mismatched int
		// frames leave in priority order, not send order
		expected := make(map[fdcan.Identifier][]byte, count)
		for received < count {
			var send chan<- *fdcan.Frame
			var next *fdcan.Frame
			if sent < count {
				next = burstFrame(first, sent, fd)
				send = dev.Send()
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case err := <-dev.Err():
				return err
			case send <- next:
				expected[next.ID] = next.Data
				sent++
			case f := <-dev.Recv():
				if want, ok := expected[f.ID]; !ok || !bytes.Equal(want, f.Data) {
					mismatched++
				}
				delete(expected, f.ID)
				if verbose {
					fmt.Println(f.ColorString())
				}
				received++
				b.Add(1)
			case <-time.After(2 * time.Second):
				return fmt.Errorf("timeout after %d of %d frames", received, count)
			}
		}
		fmt.Println()
		log.Printf("%d frames in %s", received, time.Since(start).Round(time.Millisecond))
		if mismatched > 0 {
			return fmt.Errorf("%d frames differed", mismatched)
		}
		color.Green("loopback ok")
		return nil
	},
}

func burstFrame(first uint32, n int, fd bool) *fdcan.Frame {
	id, ok := fdcan.StandardID((first + uint32(n)) & fdcan.MaxStandardID)
	if !ok {
		id = fdcan.MustStandardID(0)
	}
	size := 8
	if fd {
		size = 64
	}
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(n + i)
	}
	if fd {
		return fdcan.NewFDFrame(id, data, true)
	}
	return fdcan.NewFrame(id, data)
}
