package cmd

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/roffe/fdcan"
	"github.com/roffe/fdcan/adapter"
	"github.com/roffe/fdcan/pkg/regs"
	"github.com/roffe/fdcan/pkg/serialregs"
	"github.com/roffe/fdcan/pkg/sim"
	"github.com/spf13/cobra"
	"go.bug.st/serial"
)

var rootCmd = &cobra.Command{
	Use:          "fdcantool",
	Short:        "FDCAN peripheral tool",
	Long:         `Drive an FDCAN peripheral, simulated or on a target board reached over a serial line`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

const (
	flagPort        = "port"
	flagBaudrate    = "baudrate"
	flagDebug       = "debug"
	flagTrace       = "trace"
	flagAdapter     = "adapter"
	flagClock       = "clock"
	flagBitrate     = "bitrate"
	flagDataBitrate = "databitrate"
	flagMode        = "mode"
	flagFilter      = "filter"
)

func init() {
	log.SetFlags(log.Lshortfile | log.LstdFlags)

	pf := rootCmd.PersistentFlags()
	pf.StringP(flagPort, "p", "*", "com-port, * = print available")
	pf.IntP(flagBaudrate, "b", 115200, "baudrate")
	pf.BoolP(flagDebug, "d", false, "debug mode")
	pf.Bool(flagTrace, false, "log every register access")
	pf.StringP(flagAdapter, "a", "sim", "what adapter to use")
	pf.Uint32(flagClock, 80_000_000, "peripheral kernel clock in Hz")
	pf.Uint32(flagBitrate, 500_000, "nominal bitrate")
	pf.Uint32(flagDataBitrate, 0, "data phase bitrate, 0 = classic CAN only")
	pf.StringP(flagMode, "m", "", "operating mode, prompted for when empty")
	pf.StringSlice(flagFilter, nil, "standard identifiers to receive, hex with 0x prefix")
}

func parseID(s string) (uint32, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 0, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid identifier %q: %w", s, err)
	}
	return uint32(v), nil
}

func traceLogger(cmd *cobra.Command) *slog.Logger {
	if trace, _ := cmd.Flags().GetBool(flagTrace); !trace {
		return nil
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// checkPort prints the available serial ports when none was given.
func checkPort(cmd *cobra.Command) (string, error) {
	port, _ := cmd.Flags().GetString(flagPort)
	if port != "*" && port != "" {
		return port, nil
	}
	ports, err := serial.GetPortsList()
	if err != nil {
		return "", err
	}
	if len(ports) == 0 {
		return "", errors.New("no serial ports found")
	}
	for _, p := range ports {
		fmt.Println(p)
	}
	return "", errors.New("select a port with --port")
}

func adapterConfig(cmd *cobra.Command, mode fdcan.Mode) (*adapter.AdapterConfig, error) {
	f := cmd.Flags()
	cfg := &adapter.AdapterConfig{
		Mode:         mode,
		Trace:        traceLogger(cmd),
		SendAttempts: 100,
	}
	cfg.Debug, _ = f.GetBool(flagDebug)
	cfg.PortBaudrate, _ = f.GetInt(flagBaudrate)
	cfg.Clock, _ = f.GetUint32(flagClock)
	cfg.Bitrate, _ = f.GetUint32(flagBitrate)
	cfg.DataBitrate, _ = f.GetUint32(flagDataBitrate)
	ids, _ := f.GetStringSlice(flagFilter)
	for _, s := range ids {
		id, err := parseID(s)
		if err != nil {
			return nil, err
		}
		cfg.CANFilter = append(cfg.CANFilter, id)
	}
	name, _ := f.GetString(flagAdapter)
	for _, info := range adapter.ListAdapters() {
		if strings.EqualFold(info.Name, name) && info.RequiresSerialPort {
			port, err := checkPort(cmd)
			if err != nil {
				return nil, err
			}
			cfg.Port = port
		}
	}
	return cfg, nil
}

// initAdapter creates and opens the adapter named by the flags.
func initAdapter(cmd *cobra.Command, mode fdcan.Mode) (adapter.Adapter, error) {
	cfg, err := adapterConfig(cmd, mode)
	if err != nil {
		return nil, err
	}
	name, _ := cmd.Flags().GetString(flagAdapter)
	dev, err := adapter.NewAdapter(name, cfg)
	if err != nil {
		return nil, err
	}
	if err := dev.Open(cmd.Context()); err != nil {
		return nil, err
	}
	go func() {
		for e := range dev.Event() {
			if e.Type == adapter.EventTypeDebug && !cfg.Debug {
				continue
			}
			log.Println(e.String())
		}
	}()
	return dev, nil
}

// openInstance returns the raw register capability for commands working
// below the adapter level.
func openInstance(cmd *cobra.Command) (regs.Instance, func() error, error) {
	name, _ := cmd.Flags().GetString(flagAdapter)
	var inst regs.Instance
	closer := func() error { return nil }
	switch strings.ToLower(name) {
	case "sim":
		inst = sim.New()
	case "serial":
		port, err := checkPort(cmd)
		if err != nil {
			return nil, nil, err
		}
		baud, _ := cmd.Flags().GetInt(flagBaudrate)
		debug, _ := cmd.Flags().GetBool(flagDebug)
		c, err := serialregs.Open(port, baud, serialregs.WithDebug(debug))
		if err != nil {
			return nil, nil, err
		}
		inst, closer = c, c.Close
	default:
		return nil, nil, fmt.Errorf("unknown adapter %q", name)
	}
	if l := traceLogger(cmd); l != nil {
		inst = regs.NewLoggedInstance(inst, l, slog.LevelDebug, regs.LogAll)
	}
	return inst, closer, nil
}
