package cmd

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/roffe/fdcan/pkg/serialregs"
	"github.com/roffe/fdcan/pkg/sim"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "serve a simulated peripheral on a serial port",
	Long:  `Serve a simulated FDCAN on a serial port so a host running the serial adapter can drive it`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		port, err := checkPort(cmd)
		if err != nil {
			return err
		}
		baud, _ := cmd.Flags().GetInt(flagBaudrate)
		debug, _ := cmd.Flags().GetBool(flagDebug)

		p := sim.New()
		srv := serialregs.NewServer(p)
		srv.Debug = debug

		g, ctx := errgroup.WithContext(cmd.Context())
		g.Go(func() error {
			return p.Run(ctx, time.Millisecond)
		})
		g.Go(func() error {
			log.Printf("serving simulated fdcan on %s", port)
			return srv.ListenAndServe(ctx, port, baud)
		})
		if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}
