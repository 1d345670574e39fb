package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dotside-studios/davi-attendance/buildinfo"
	"github.com/dotside-studios/davi-attendance/journal"
	"github.com/dotside-studios/davi-attendance/kiosk"
)

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// withAgent builds an agent for a one-shot command.
func (c *commandContext) withAgent(fn func(ctx context.Context, a *Agent) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	agent, err := NewAgent(cfg, c.logger())
	if err != nil {
		return err
	}
	defer agent.Close()

	if agent.RequiresServer() {
		return errors.New("the phone backend needs a running kiosk server; use 'serve' or 'tray'")
	}

	ctx, cancel := signalContext(context.Background())
	defer cancel()
	return fn(ctx, agent)
}

func newActionCommands(ctx *commandContext) []*cobra.Command {
	defs := []struct {
		use, short string
		action     kiosk.Action
	}{
		{"checkin", "Scan a card and check in", kiosk.ActionCheckIn},
		{"checkout", "Scan a card and check out", kiosk.ActionCheckOut},
		{"status", "Scan a card and show its attendance status", kiosk.ActionStatus},
	}

	cmds := make([]*cobra.Command, 0, len(defs))
	for _, def := range defs {
		action := def.action
		var jsonOut bool
		cmd := &cobra.Command{
			Use:   def.use,
			Short: def.short,
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return ctx.withAgent(func(runCtx context.Context, a *Agent) error {
					fmt.Fprintln(cmd.ErrOrStderr(), a.Config.Reader.AlertMessage)
					res, err := a.Kiosk.Run(runCtx, action)
					if err != nil {
						return err
					}
					return printResult(cmd.OutOrStdout(), res, jsonOut)
				})
			},
		}
		cmd.Flags().BoolVar(&jsonOut, "json", false, "Print the result as JSON")
		cmds = append(cmds, cmd)
	}
	return cmds
}

// printResult writes res and turns failures into a non-zero exit. A
// cancelled scan prints nothing and exits cleanly.
func printResult(out io.Writer, res *kiosk.Result, jsonOut bool) error {
	if jsonOut {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(res); err != nil {
			return err
		}
	}

	switch res.Outcome {
	case journal.OutcomeCancelled:
		return nil
	case journal.OutcomeSuccess:
		if !jsonOut {
			fmt.Fprintln(out, res.Alert.Message)
			fmt.Fprintf(out, "NFC ID: %s\n", res.NFCID)
		}
		return nil
	default:
		if res.Alert != nil {
			return errors.New(res.Alert.Message)
		}
		return fmt.Errorf("%s %s", res.Action, res.Outcome)
	}
}

func newScanCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "scan",
		Short: "Scan a card and print its identifier without calling the API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withAgent(func(runCtx context.Context, a *Agent) error {
				fmt.Fprintln(cmd.ErrOrStderr(), a.Config.Reader.AlertMessage)
				ident, res := a.Kiosk.ValidateNFC(runCtx, kiosk.ActionStatus)
				if ident == nil {
					return printResult(cmd.OutOrStdout(), res, false)
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(ident)
			})
		},
	}
}

func newServeCommand(ctx *commandContext) *cobra.Command {
	var port int
	var noMDNS bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the kiosk HTTP and WebSocket server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if port > 0 {
				cfg.Server.Port = port
			}
			if noMDNS {
				cfg.Server.MDNS = false
			}

			agent, err := NewAgent(cfg, ctx.logger())
			if err != nil {
				return err
			}
			defer agent.Close()
			if err := agent.Lock(); err != nil {
				return err
			}

			runCtx, cancel := signalContext(cmd.Context())
			defer cancel()
			return agent.Serve(runCtx)
		},
	}
	cmd.Flags().IntVarP(&port, "port", "p", 0, "Port to listen on (overrides server.port)")
	cmd.Flags().BoolVar(&noMDNS, "no-mdns", false, "Do not advertise the kiosk over mDNS")
	return cmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:         "version",
		Short:       "Print version information",
		Annotations: map[string]string{"skipConfigLoad": "true"},
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), buildinfo.BuildInfo())
		},
	}
}
