// Command osdp-panel is a demonstration control panel CLI: it loads a
// bus/device layout from a YAML file, polls the configured PDs, and
// prints their status in a table when asked.
//
// Grounded on 1ph-sim_reader/cmd/root.go's cobra command tree (a root
// command with persistent flags plus subcommands that share a
// connect-and-prepare helper) and 1ph-sim_reader/output/table.go's
// go-pretty table styling.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"osdp-panel/bus"
	"osdp-panel/config"
	"osdp-panel/controlpanel"
	"osdp-panel/device"
	"osdp-panel/reply"
	"osdp-panel/transport"
)

var (
	version    = "0.1.0"
	configPath string
)

var rootCmd = &cobra.Command{
	Use:   "osdp-panel",
	Short: "OSDP control panel",
	Long: `osdp-panel v` + version + `
Polls a configured set of OSDP v2 peripheral devices over RS-485 or
TCP and exposes their status and controls from the command line.`,
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "osdp-panel.yaml",
		"path to the bus/device configuration file")
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(pollCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// buildControlPanel loads configPath and wires every configured bus
// and device into a running ControlPanel.
func buildControlPanel(ctx context.Context) (*controlpanel.ControlPanel, *config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}

	cp := controlpanel.New(controlpanel.EventHandlers{
		OnNak: func(busID string, address byte, nak reply.Nak) {
			fmt.Fprintf(os.Stderr, "osdp-panel: bus %s device %#x nak: %s\n", busID, address, nak.ErrorCode)
		},
	}, 0)

	for _, b := range cfg.Buses {
		t, err := buildTransport(b)
		if err != nil {
			return nil, nil, err
		}
		cp.AddBus(ctx, b.ID, t, bus.Options{Baud: b.Baud})
		for _, d := range b.Devices {
			if err := cp.AddDevice(b.ID, device.Config{
				Address: d.Address,
				UseCRC:  d.UseCRC,
				UseSCS:  d.UseSCS,
				SCBK:    parseSCBKHex(d.SCBKHex),
			}); err != nil {
				return nil, nil, err
			}
		}
	}

	return cp, cfg, nil
}

func buildTransport(b config.BusConfig) (transport.Transport, error) {
	switch b.Kind {
	case "serial":
		return transport.NewSerialTransport(transport.SerialConfig{
			Device: b.Device,
			Baud:   b.Baud,
			RS485:  b.RS485,
		}), nil
	case "tcp":
		return transport.NewTCPClientTransport(b.Addr), nil
	default:
		return nil, fmt.Errorf("unknown bus kind %q", b.Kind)
	}
}

func parseSCBKHex(hexKey string) []byte {
	if hexKey == "" {
		return nil
	}
	key := make([]byte, 0, 16)
	for i := 0; i+1 < len(hexKey); i += 2 {
		b, err := strconv.ParseUint(hexKey[i:i+2], 16, 8)
		if err != nil {
			return nil
		}
		key = append(key, byte(b))
	}
	return key
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Poll every configured device for two seconds and print a status table",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
		defer cancel()

		cp, cfg, err := buildControlPanel(ctx)
		if err != nil {
			return err
		}

		time.Sleep(2 * time.Second) // let each bus complete its bootstrap poll

		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		style := table.StyleRounded
		style.Color.Header = text.Colors{text.FgCyan, text.Bold}
		t.SetStyle(style)
		t.SetTitle("OSDP DEVICE STATUS")
		t.AppendHeader(table.Row{"Bus", "Address", "Online"})

		for _, b := range cfg.Buses {
			for _, d := range b.Devices {
				online := cp.IsOnline(b.ID, d.Address)
				color := text.FgRed
				if online {
					color = text.FgGreen
				}
				t.AppendRow(table.Row{
					b.ID,
					fmt.Sprintf("%#x", d.Address),
					text.Colors{color}.Sprint(online),
				})
			}
		}
		t.Render()
		return nil
	},
}

var pollCmd = &cobra.Command{
	Use:   "poll",
	Short: "Run the polling loop until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		go func() {
			<-sig
			cancel()
		}()

		if _, _, err := buildControlPanel(ctx); err != nil {
			return err
		}

		<-ctx.Done()
		return nil
	},
}
