package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"plantdash/internal/app"
	"plantdash/internal/backend"
	"plantdash/internal/domain"
)

func statsCmd() *cobra.Command {
	var refresh bool
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show dashboard figures",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDatabase(cmd.Context(), func(ctx context.Context, d *app.Database) error {
				get := d.Stats.GetDashboardStats
				if refresh {
					get = d.Stats.CalculateDashboardStats
				}
				dash, err := get(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(dash)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Metric", "Value"})
				tw.AppendRows([]table.Row{
					{"Produced (7d)", dash.TotalProduced},
					{"Rejected (7d)", dash.TotalRejected},
					{"Approval rate %", dash.ApprovalRate},
					{"Efficiency %", dash.Efficiency},
					{"Active orders", dash.ActiveOrders},
					{"Open NCs today", dash.OpenNCsToday},
					{"Resolved NCs today", dash.ResolvedNCsToday},
					{"Pending collections", dash.PendingCollections},
				})
				tw.AppendFooter(table.Row{"Calculated", dash.CalculatedAt.In(d.Location()).Format(time.RFC3339)})
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&refresh, "refresh", false, "recompute instead of reading the cache")
	return cmd
}

func historyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history",
		Short: "Show quality history for the last seven days",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDatabase(cmd.Context(), func(ctx context.Context, d *app.Database) error {
				h, err := d.Stats.GetQualityHistory(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(h)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Date", "Approval %", "NCs", "Resolution h"})
				for i, day := range h.Dates {
					tw.AppendRow(table.Row{day, h.ApprovalRates[i], h.NCCounts[i], h.ResolutionHours[i]})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func ordersCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "orders", Short: "Production orders"}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List production orders",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDatabase(cmd.Context(), func(ctx context.Context, d *app.Database) error {
				orders, err := d.Repo.GetProductionOrders(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(orders)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Product", "Qty", "Produced", "Status", "Priority", "Progress"})
				for _, o := range orders {
					status := string(o.Status)
					if o.Paused {
						status += " (paused)"
					}
					tw.AppendRow(table.Row{o.ID, o.Product, o.Quantity, o.Produced, status, o.Priority, fmt.Sprintf("%d%%", o.Progress)})
				}
				tw.Render()
				return nil
			})
		},
	})
	var step int
	tick := &cobra.Command{
		Use:   "tick",
		Short: "Advance every running order once",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDatabase(cmd.Context(), func(ctx context.Context, d *app.Database) error {
				n, err := d.Repo.TickAllOrders(ctx, step)
				if err != nil {
					return err
				}
				if n > 0 {
					if err := d.Stats.Invalidate(ctx); err != nil {
						return err
					}
				}
				fmt.Printf("advanced %d order(s)\n", n)
				return nil
			})
		},
	}
	tick.Flags().IntVar(&step, "step", 5, "progress step in percent")
	cmd.AddCommand(tick)
	return cmd
}

func collectionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "collections",
		Short: "List collection records",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDatabase(cmd.Context(), func(ctx context.Context, d *app.Database) error {
				items, err := d.Repo.GetCollectionRecords(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Date", "Status", "Produced", "Material", "Efficiency %", "Applicant"})
				for _, c := range items {
					tw.AppendRow(table.Row{c.ID, domain.FormatDisplayDate(c.DateTime, d.Location()), c.Status, c.Produced, c.Material, c.Efficiency, c.Applicant})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func ncCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{Use: "nc", Short: "Non-conformances"}
	list := &cobra.Command{
		Use:   "list",
		Short: "List non-conformances",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDatabase(cmd.Context(), func(ctx context.Context, d *app.Database) error {
				var (
					items []domain.NonConformance
					err   error
				)
				if status != "" {
					items, err = d.Repo.GetNonConformancesByStatus(ctx, domain.NCStatus(status))
				} else {
					items, err = d.Repo.GetNonConformances(ctx)
				}
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Date", "Severity", "Status", "Description"})
				for _, n := range items {
					tw.AppendRow(table.Row{n.ID, domain.FormatDisplayDate(n.Date, d.Location()), n.Severity, n.Status, n.Description})
				}
				tw.Render()
				return nil
			})
		},
	}
	list.Flags().StringVar(&status, "status", "", "open, under_review or resolved")
	cmd.AddCommand(list)
	return cmd
}

func auditCmd() *cobra.Command {
	var n int
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Show the latest audit entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDatabase(cmd.Context(), func(ctx context.Context, d *app.Database) error {
				entries, err := d.Repo.GetAuditLog(ctx, n)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(entries)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Time", "User", "Action"})
				for _, e := range entries {
					tw.AppendRow(table.Row{e.Timestamp.In(d.Location()).Format("02/01/2006 15:04"), e.User, e.Action})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of entries")
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Dashboard configuration stored in the database"}
	cfg.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List configuration entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDatabase(cmd.Context(), func(ctx context.Context, d *app.Database) error {
				entries, err := d.Settings.Entries(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(entries)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Key", "Value"})
				for _, e := range entries {
					tw.AppendRow(table.Row{e.Key, string(e.Value)})
				}
				tw.Render()
				return nil
			})
		},
	})
	cfg.AddCommand(&cobra.Command{
		Use:   "get <key>",
		Short: "Print one configuration value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDatabase(cmd.Context(), func(ctx context.Context, d *app.Database) error {
				v, err := d.Settings.Get(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(v)
			})
		},
	})
	cfg.AddCommand(&cobra.Command{
		Use:   "set <key> <json-value>",
		Short: "Store a configuration value and notify other processes",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var value any
			if err := json.Unmarshal([]byte(args[1]), &value); err != nil {
				// Bare words are stored as strings.
				value = args[1]
			}
			return withDatabase(cmd.Context(), func(ctx context.Context, d *app.Database) error {
				if err := d.Settings.Set(ctx, args[0], value); err != nil {
					return err
				}
				_, err := d.Repo.AddAuditLog(ctx, "cli", "set config "+args[0])
				return err
			})
		},
	})
	return cfg
}

func exportCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write a full backup as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDatabase(cmd.Context(), func(ctx context.Context, d *app.Database) error {
				b, err := d.ExportAllData(ctx)
				if err != nil {
					return err
				}
				if out == "" || out == "-" {
					return app.WriteBackup(os.Stdout, b)
				}
				f, err := os.Create(out)
				if err != nil {
					return err
				}
				if err := app.WriteBackup(f, b); err != nil {
					f.Close()
					return err
				}
				return f.Close()
			})
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file (default stdout)")
	return cmd
}

func importCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Replace every collection from a backup",
		Long:  "The backup is validated before anything is touched; an invalid file leaves the database unchanged.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			b, err := app.ReadBackup(f)
			if err != nil {
				return err
			}
			return withDatabase(cmd.Context(), func(ctx context.Context, d *app.Database) error {
				rep, err := d.ImportAllData(ctx, b)
				if err != nil {
					return err
				}
				return printJSONOrTable(rep)
			})
		},
	}
}

func cleanupCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Prune sensor readings, audit entries and alerts past retention",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDatabase(cmd.Context(), func(ctx context.Context, d *app.Database) error {
				run := d.CleanupOldData
				if force {
					run = d.ForceCleanup
				}
				rep, err := run(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(rep)
			})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "run even if a sweep already ran today")
	return cmd
}

func syncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Replay writes queued while the hosted backend was unreachable",
		RunE: func(cmd *cobra.Command, args []string) error {
			if settings.Backend != backend.KindCloud {
				return fmt.Errorf("sync needs backend.kind=cloud, got %q", settings.Backend)
			}
			b, err := backend.New(cmd.Context(), settings, log)
			if err != nil {
				return err
			}
			defer b.Close()
			cloud := b.(*backend.Cloud)
			n, err := cloud.Flush(cmd.Context())
			fmt.Printf("replayed %d queued write(s)\n", n)
			return err
		},
	}
}
