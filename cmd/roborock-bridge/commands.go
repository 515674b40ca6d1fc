package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/gray-logic-roborock/internal/audit"
	"github.com/nerrad567/gray-logic-roborock/internal/roborock/protocol"
	"github.com/nerrad567/gray-logic-roborock/migrations"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the bridge until interrupted",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		a, err := openApp(ctx, false)
		if err != nil {
			return err
		}
		defer a.close()

		a.log.Info("starting roborock bridge", "version", version, "commit", commit, "build_date", date)
		if err := a.startBridge(ctx); err != nil {
			return err
		}
		a.log.Info("initialisation complete, waiting for shutdown signal")

		<-ctx.Done()
		a.log.Info("shutdown signal received, cleaning up")
		return nil
	},
}

var getCmd = &cobra.Command{
	Use:   "get <duid> <method> [params-json]",
	Short: "Send one request to a device and print the reply",
	Example: `  roborock-bridge get 1ABCdefGHIjkl get_status
  roborock-bridge get 1ABCdefGHIjkl set_custom_mode '[102]'`,
	Args: cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		req, err := buildRequest(args[1], args[2:])
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		a, err := openApp(ctx, true)
		if err != nil {
			return err
		}
		defer a.close()

		if err := a.startBridge(ctx); err != nil {
			return err
		}

		dp, err := a.bridge.Get(ctx, args[0], req)
		if err != nil {
			return err
		}
		return printResult(cmd, dp.Result)
	},
}

// buildRequest makes an rpc request from a method and optional JSON params.
func buildRequest(method string, rest []string) (protocol.RequestMessage, error) {
	if len(rest) == 0 {
		return protocol.NewRequest(method, nil), nil
	}
	raw := json.RawMessage(rest[0])
	if !json.Valid(raw) {
		return protocol.RequestMessage{}, fmt.Errorf("params must be valid JSON: %s", rest[0])
	}
	return protocol.NewRequest(method, raw), nil
}

func printResult(cmd *cobra.Command, result json.RawMessage) error {
	if len(result) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "null")
		return nil
	}
	var v any
	if err := json.Unmarshal(result, &v); err != nil {
		return fmt.Errorf("decoding result: %w", err)
	}
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List registered devices",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx, true)
		if err != nil {
			return err
		}
		defer a.close()

		devices, err := a.registry.ListDevices(ctx)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "DUID\tNAME\tVERSION\tTRANSPORT\tLOCAL IP\tLAST SEEN")
		for _, d := range devices {
			lastSeen := "-"
			if d.LastSeen != nil {
				lastSeen = d.LastSeen.Local().Format(time.DateTime)
			}
			ip := d.LocalIP
			if ip == "" {
				ip = "-"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", d.DUID, d.Name, d.ProtocolVersion, d.Transport, ip, lastSeen)
		}
		return w.Flush()
	},
}

var (
	historyDUID    string
	historyOutcome string
	historyLimit   int
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recently routed requests",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx, true)
		if err != nil {
			return err
		}
		defer a.close()

		res, err := a.audit.List(ctx, audit.Filter{
			DUID:    historyDUID,
			Outcome: historyOutcome,
			Limit:   historyLimit,
		})
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "TIME\tDUID\tMETHOD\tTRANSPORT\tOUTCOME\tDURATION\tERROR")
		for _, l := range res.Logs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
				l.CreatedAt.Local().Format(time.DateTime), l.DUID, l.Method, l.Transport,
				l.Outcome, l.Duration, l.Error)
		}
		if err := w.Flush(); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d of %d\n", len(res.Logs), res.Total)
		return nil
	},
}

func init() {
	historyCmd.Flags().StringVar(&historyDUID, "duid", "", "Only show requests for this device")
	historyCmd.Flags().StringVar(&historyOutcome, "outcome", "", "Only show this outcome (ok, sent, timeout, rpc_error, error)")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 50, "Maximum rows")
}

var migrationsCmd = &cobra.Command{
	Use:   "migrations",
	Short: "Show schema migration status",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx, true)
		if err != nil {
			return err
		}
		defer a.close()

		status, err := a.db.MigrationStatus(ctx, migrations.FS)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "VERSION\tNAME\tAPPLIED")
		for _, s := range status {
			applied := "pending"
			if s.Applied {
				applied = s.AppliedAt.Local().Format(time.DateTime)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\n", s.Version, s.Name, applied)
		}
		return w.Flush()
	},
}
