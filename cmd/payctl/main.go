package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"paysched/internal/auth"
	"paysched/internal/cli"
	"paysched/internal/config"
	"paysched/internal/core"
	"paysched/internal/services"
	"paysched/internal/storage"
)

var rootCmd = &cobra.Command{
	Use:   "payctl",
	Short: "Payroll scheduling CLI",
	Long: `payctl administers the paysched database from the command line:
generate or refresh monthly payroll schedules, import rosters and payouts
from xlsx workbooks, export runs, and manage web users.

It opens the database at SQLITE_DB_PATH (default ./data/paysched.db) unless
--db points somewhere else. Persistent flags can also be set through
PAYSCHED_* environment variables.`,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	cli.LoadEnvFile()
	viper.SetEnvPrefix("PAYSCHED")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().String("db", "", "path to the SQLite database (default: SQLITE_DB_PATH)")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	_ = viper.BindPFlag("db", rootCmd.PersistentFlags().Lookup("db"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
}

func registerCommands() {
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(refreshCmd())
	rootCmd.AddCommand(importCmd())
	rootCmd.AddCommand(exportCmd())
	rootCmd.AddCommand(modelsCmd())
	rootCmd.AddCommand(userCmd())
}

func runCmd() *cobra.Command {
	var year, month int
	var currency, exportDir string
	var includeInactive, preview bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Generate a month's payroll schedule",
		Long:  "Plans pay dates and installment amounts for every eligible model and writes the run. With --preview nothing is written.",
		RunE: func(cmd *cobra.Command, args []string) error {
			appCfg := config.Load()
			now := time.Now()
			if year == 0 {
				year = now.Year()
			}
			if month == 0 {
				month = int(now.Month())
			}
			if currency == "" {
				currency = appCfg.BaseCurrency
			}
			if exportDir == "" {
				exportDir = appCfg.ExportDir
			}
			opts := services.GenerateOptions{
				Year:            year,
				Month:           month,
				Currency:        currency,
				IncludeInactive: includeInactive,
			}
			return withRepo(cmd.Context(), func(ctx context.Context, repo *storage.Repository) error {
				exports := services.NewExportService(repo)
				payroll := services.NewPayrollService(repo, nil, exports, exportDir)
				if preview {
					plan, err := payroll.Preview(ctx, opts)
					if err != nil {
						return err
					}
					if viper.GetBool("json") {
						return printJSON(plan)
					}
					fmt.Printf("Preview %04d-%02d: %d models, %s total, %s\n",
						year, month, plan.ModelsPaid,
						core.FormatAmount(currency, plan.Total),
						services.FrequencyMix(plan.FrequencyCounts))
					printPayoutTable(currency, plan.Payouts)
					printIssues(plan.Issues)
					fmt.Println("Nothing was written. Drop --preview to generate the run.")
					return nil
				}
				res, err := payroll.Generate(ctx, opts)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				fmt.Printf("Run %d created for %04d-%02d: %d models, %s total\n",
					res.Run.ID, res.Run.Year, res.Run.Month, res.Run.ModelsPaid,
					core.FormatAmount(res.Run.Currency, res.Run.TotalPayout))
				printPayoutTable(res.Run.Currency, res.Payouts)
				printIssues(res.Issues)
				if res.Run.ExportPath != "" {
					fmt.Println("Exports written to", res.Run.ExportPath)
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&year, "year", 0, "target year (default: current)")
	cmd.Flags().IntVar(&month, "month", 0, "target month 1-12 (default: current)")
	cmd.Flags().StringVar(&currency, "currency", "", "currency code (default: BASE_CURRENCY)")
	cmd.Flags().StringVar(&exportDir, "export-dir", "", "directory for the export bundle (default: EXPORT_DIR)")
	cmd.Flags().BoolVar(&includeInactive, "include-inactive", false, "schedule inactive models too")
	cmd.Flags().BoolVar(&preview, "preview", false, "plan without writing anything")
	return cmd
}

func refreshCmd() *cobra.Command {
	var exportDir string
	cmd := &cobra.Command{
		Use:   "refresh <run-id>",
		Short: "Regenerate an existing run against the current roster",
		Long:  "Replans the run's month and rewrites its payouts. Statuses and notes of payouts that still match are preserved.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runID, err := parseRunID(args[0])
			if err != nil {
				return err
			}
			if exportDir == "" {
				exportDir = config.Load().ExportDir
			}
			return withRepo(cmd.Context(), func(ctx context.Context, repo *storage.Repository) error {
				exports := services.NewExportService(repo)
				payroll := services.NewPayrollService(repo, nil, exports, exportDir)
				res, err := payroll.Refresh(ctx, runID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				fmt.Printf("Run %d refreshed for %04d-%02d: %d models, %s total\n",
					res.Run.ID, res.Run.Year, res.Run.Month, res.Run.ModelsPaid,
					core.FormatAmount(res.Run.Currency, res.Run.TotalPayout))
				printPayoutTable(res.Run.Currency, res.Payouts)
				printIssues(res.Issues)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&exportDir, "export-dir", "", "directory for the export bundle (default: EXPORT_DIR)")
	return cmd
}

func importCmd() *cobra.Command {
	var opts services.ImportOptions
	cmd := &cobra.Command{
		Use:   "import <file.xlsx>",
		Short: "Import models and payouts from an xlsx workbook",
		Long: `Reads the Models and Payouts sheets of a workbook. Malformed rows are
recorded as validation issues and the rest of the file is still applied.
With --preview the workbook is only classified, nothing is written.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			return withRepo(cmd.Context(), func(ctx context.Context, repo *storage.Repository) error {
				imports := services.NewImportService(repo)
				result, err := imports.Import(ctx, f, opts)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(result)
				}
				if opts.Preview {
					fmt.Println("Preview (nothing written):")
				}
				fmt.Printf("  models: %d created, %d updated, %d skipped\n",
					result.ModelsCreated, result.ModelsUpdated, result.ModelsSkipped)
				fmt.Printf("  payouts: %d imported\n", result.PayoutsImported)
				if result.Run != nil {
					fmt.Printf("  run: %d (%04d-%02d)\n", result.Run.ID, result.Run.Year, result.Run.Month)
				}
				printIssues(result.Issues)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&opts.ModelsSheet, "models-sheet", services.DefaultModelsSheet, "models sheet name")
	cmd.Flags().StringVar(&opts.PayoutsSheet, "payouts-sheet", services.DefaultPayoutsSheet, "payouts sheet name")
	cmd.Flags().BoolVar(&opts.UpdateExisting, "update-existing", false, "update models whose code already exists")
	cmd.Flags().Int64Var(&opts.RunID, "run", 0, "attach imported payouts to this run")
	cmd.Flags().BoolVar(&opts.CreateRun, "create-run", false, "create a run for imported payouts")
	cmd.Flags().IntVar(&opts.Year, "year", 0, "target year for --create-run")
	cmd.Flags().IntVar(&opts.Month, "month", 0, "target month for --create-run")
	cmd.Flags().StringVar(&opts.Currency, "currency", "", "currency for --create-run (default: BASE_CURRENCY)")
	cmd.Flags().BoolVar(&opts.Preview, "preview", false, "classify the workbook without writing anything")
	return cmd
}

func exportCmd() *cobra.Command {
	exp := &cobra.Command{
		Use:   "export",
		Short: "Export runs and models to files",
	}
	exp.AddCommand(exportRunCmd())
	exp.AddCommand(exportModelsCmd())
	exp.AddCommand(exportRunsCmd())
	return exp
}

func exportRunCmd() *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "run <run-id>",
		Short: "Write a run's export bundle (xlsx, CSVs, calendar)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runID, err := parseRunID(args[0])
			if err != nil {
				return err
			}
			if dir == "" {
				dir = config.Load().ExportDir
			}
			return withRepo(cmd.Context(), func(ctx context.Context, repo *storage.Repository) error {
				run, err := repo.GetRun(ctx, runID)
				if err != nil {
					return err
				}
				exports := services.NewExportService(repo)
				path, err := exports.WriteRunBundle(ctx, run, dir)
				if err != nil {
					return err
				}
				fmt.Println("Bundle written to", path)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "base directory for the bundle (default: EXPORT_DIR)")
	return cmd
}

func exportModelsCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "models",
		Short: "Write the roster as CSV",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, repo *storage.Repository) error {
				exports := services.NewExportService(repo)
				if out == "" {
					return exports.WriteModelsCSV(ctx, os.Stdout)
				}
				f, err := os.Create(out)
				if err != nil {
					return err
				}
				if err := exports.WriteModelsCSV(ctx, f); err != nil {
					f.Close()
					return err
				}
				if err := f.Close(); err != nil {
					return err
				}
				fmt.Println("Models written to", out)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&out, "out", "", "output file (default: stdout)")
	return cmd
}

func exportRunsCmd() *cobra.Command {
	var year int
	var out string
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Write a run overview workbook",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, repo *storage.Repository) error {
				exports := services.NewExportService(repo)
				f, err := exports.BuildRunsWorkbook(ctx, year)
				if err != nil {
					return err
				}
				defer f.Close()
				if out == "" {
					out = "runs.xlsx"
					if year != 0 {
						out = fmt.Sprintf("runs-%d.xlsx", year)
					}
				}
				if err := f.SaveAs(out); err != nil {
					return err
				}
				fmt.Println("Runs written to", out)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&year, "year", 0, "only runs of this year (default: all)")
	cmd.Flags().StringVar(&out, "out", "", "output file (default: runs.xlsx)")
	return cmd
}

func modelsCmd() *cobra.Command {
	m := &cobra.Command{
		Use:   "models",
		Short: "Inspect the payroll roster",
	}
	m.AddCommand(modelsListCmd())
	return m
}

func modelsListCmd() *cobra.Command {
	var status, frequency, method, query string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List models",
		RunE: func(cmd *cobra.Command, args []string) error {
			var f storage.ModelFilter
			f.Query = query
			f.Method = method
			if status != "" {
				st, err := core.ParseModelStatus(status)
				if err != nil {
					return err
				}
				f.Status = st
			}
			if frequency != "" {
				fr, err := core.ParseFrequency(frequency)
				if err != nil {
					return err
				}
				f.Frequency = fr
			}
			return withRepo(cmd.Context(), func(ctx context.Context, repo *storage.Repository) error {
				models, err := repo.ListModels(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(models)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Code", "Working Name", "Status", "Frequency", "Monthly", "Method", "Start"})
				for _, m := range models {
					tw.AppendRow(table.Row{m.ID, m.Code, m.WorkingName, m.Status,
						m.Frequency, m.MonthlyAmount.Decimal(), m.PaymentMethod, m.StartDate.ISO()})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status filter (Active, Inactive)")
	cmd.Flags().StringVar(&frequency, "frequency", "", "frequency filter (weekly, biweekly, monthly)")
	cmd.Flags().StringVar(&method, "method", "", "payment method filter")
	cmd.Flags().StringVar(&query, "search", "", "match code or names")
	return cmd
}

func userCmd() *cobra.Command {
	u := &cobra.Command{
		Use:   "user",
		Short: "Manage web users",
	}
	u.AddCommand(userAddCmd())
	return u
}

func userAddCmd() *cobra.Command {
	var roleName, password string
	cmd := &cobra.Command{
		Use:   "add <username>",
		Short: "Create a web user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			username := strings.TrimSpace(args[0])
			role, err := core.ParseRole(roleName)
			if err != nil {
				return err
			}
			if password == "" {
				fmt.Print("Password: ")
				line, err := bufio.NewReader(os.Stdin).ReadString('\n')
				if err != nil {
					return err
				}
				password = strings.TrimSpace(line)
			}
			return withRepo(cmd.Context(), func(ctx context.Context, repo *storage.Repository) error {
				authSvc := auth.NewService(repo, time.Hour)
				user, err := authSvc.Register(ctx, username, password, role)
				if err != nil {
					return err
				}
				fmt.Printf("Created user %s (%s)\n", user.Username, user.Role)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&roleName, "role", "user", "role (admin or user)")
	cmd.Flags().StringVar(&password, "password", "", "password (prompted when omitted)")
	return cmd
}

// --- helpers ---

func withRepo(ctx context.Context, fn func(context.Context, *storage.Repository) error) error {
	dbPath := viper.GetString("db")
	if dbPath == "" {
		dbPath = config.Load().SQLiteDBPath
	}
	repo, err := storage.NewRepository(dbPath)
	if err != nil {
		return err
	}
	defer repo.Close()
	return fn(ctx, repo)
}

func parseRunID(s string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("run id must be a number, got %q", s)
	}
	return id, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printPayoutTable(currency string, payouts []core.Payout) {
	if len(payouts) == 0 {
		return
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"Pay Date", "Code", "Working Name", "Frequency", "Amount", "Status"})
	for _, p := range payouts {
		amount := core.FormatAmount(currency, p.Amount)
		if p.Adjusted {
			amount += " *"
		}
		tw.AppendRow(table.Row{p.PayDate.ISO(), p.ModelCode, p.WorkingName,
			p.Frequency, amount, p.Status.Label()})
	}
	tw.Render()
}

func printIssues(issues []core.ValidationIssue) {
	if len(issues) == 0 {
		return
	}
	fmt.Printf("%d validation issues:\n", len(issues))
	for _, is := range issues {
		fmt.Printf("  [%s] %s\n", is.Severity, is.Message)
	}
}
