package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"yumimaint/internal/app"
	"yumimaint/internal/catalog"
	"yumimaint/internal/config"
	"yumimaint/internal/events"
	"yumimaint/internal/logger"
	"yumimaint/internal/marker"
	"yumimaint/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "ym",
	Short: "Yumi printer maintenance host",
	Long: `ym reminds the operator of recurring printer maintenance.
- Tasks: lubricate axes, clean the nozzle and plate, check belt tension; each has an interval and a priority.
- History: when each task was last done and when it is next due, kept in SQLite.
- Prompts: due tasks are shown on the printer screen one at a time; "Confirm" records the work, "Not Now" only closes the dialog.
- Console: MAINTENANCE_CONFIRM, MAINTENANCE_POSTPONE, MAINTENANCE_STATUS, MAINTENANCE_RESET, MAINTENANCE_CHECK and MAINTENANCE_SHOW lines drive the host.
- Audit log: every decision is appended to a text log, view it with 'ym log tail'.`,
	SilenceUsage: true,
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
	viper.SetEnvPrefix("YUMI")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory holding yumi_maintenance.yml")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("log-level", "", "override logger.level")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
}

func registerCommands() {
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(resetCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(markerCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(catalogCmd())
}

func serveCmd() *cobra.Command {
	var api, noConsole bool
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the maintenance host",
		Long:  "Reads console commands from stdin, writes prompt lines and acknowledgements to stdout, and optionally serves the HTTP API. The host runs until interrupted; closing stdin only stops console input.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("api") {
				cfg.API.Enabled = api
			}
			if addr != "" {
				cfg.API.Addr = addr
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			log, err := newLogger(cfg)
			if err != nil {
				return err
			}
			defer log.Sync()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			a, err := app.Open(ctx, cfg, log, app.IO{Prompt: os.Stdout})
			if err != nil {
				log.Errorw("maintenance host failed to start", "error", err)
				return err
			}
			defer a.Close()
			var in io.Reader = os.Stdin
			if noConsole {
				in = nil
			}
			return a.Run(ctx, in, os.Stdout)
		},
	}
	cmd.Flags().BoolVar(&api, "api", false, "serve the HTTP API (overrides api.enabled)")
	cmd.Flags().StringVar(&addr, "addr", "", "API listen address (overrides api.addr)")
	cmd.Flags().BoolVar(&noConsole, "no-console", false, "do not read console commands from stdin")
	return cmd
}

func statusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show maintenance status",
		Long:  "Shows every task by priority: whether it is due, when it was last done and when it is next due.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), true, func(ctx context.Context, a *app.App) error {
				st := a.Engine.Status()
				if viper.GetBool("json") {
					return printJSON(st)
				}
				layout := a.Config.Schedule.TimeFormat
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Task", "Priority", "State", "Last done", "Next due"})
				for _, t := range st.Tasks {
					state := "up to date"
					if t.Due {
						state = "required"
					}
					last := "never"
					if t.LastDone != nil {
						last = t.LastDone.Local().Format(layout)
					}
					tw.AppendRow(table.Row{t.Name, t.Priority, state, last, t.NextCheck.Local().Format(layout)})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func resetCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Clear all maintenance history",
		Long:  "Every task starts over and becomes due one interval from now. A running host keeps its own copy until it restarts; prefer MAINTENANCE_RESET there.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return errors.New("reset clears all history; pass --yes to confirm")
			}
			return withApp(cmd.Context(), false, func(ctx context.Context, a *app.App) error {
				msg, err := a.Engine.Reset(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]string{"message": msg})
				}
				fmt.Println(msg)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm the reset")
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Inspect the audit log",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Show the latest audit entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			entries, err := events.Tail(cfg.Paths.LogFile, n)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				if entries == nil {
					entries = []events.Entry{}
				}
				return printJSON(entries)
			}
			for _, e := range entries {
				fmt.Printf("[%s] %s\n", e.TS, e.Message)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of entries")
	return cmd
}

func tokenCmd() *cobra.Command {
	var subject string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an API bearer token",
		Long:  "Signs an HS256 token with api.jwt_secret (or YUMI_JWT_SECRET) for clients of the HTTP API.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.API.JWTSecret == "" {
				return errors.New("api.jwt_secret or YUMI_JWT_SECRET is required to mint tokens")
			}
			token, err := server.SignToken(cfg.API.JWTSecret, subject, ttl)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(map[string]string{"token": token})
			}
			fmt.Println(token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "token subject, e.g. klipperscreen")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (0 = no expiry)")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}

func markerCmd() *cobra.Command {
	m := &cobra.Command{
		Use:   "marker",
		Short: "Manage the printer.cfg include marker",
	}
	m.AddCommand(&cobra.Command{
		Use:   "sync",
		Short: "Add or remove the marker to match the enable flag",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			res, err := marker.Sync(cfg.Marker)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(map[string]string{"result": string(res), "printer_config": cfg.Marker.PrinterConfig})
			}
			switch res {
			case marker.Added:
				fmt.Printf("added %s to %s\n", cfg.Marker.Marker, cfg.Marker.PrinterConfig)
			case marker.Removed:
				fmt.Printf("removed %s from %s\n", cfg.Marker.Marker, cfg.Marker.PrinterConfig)
			case marker.AnchorMissing:
				fmt.Printf("anchor %q not found in %s; nothing changed\n", cfg.Marker.InsertAfter, cfg.Marker.PrinterConfig)
			default:
				fmt.Println("marker already in sync")
			}
			return nil
		},
	})
	return m
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect or create yumi_maintenance.yml",
	}
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configInitCmd())
	return cfg
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			out, err := cfg.Encode()
			if err != nil {
				return err
			}
			fmt.Print(string(out))
			return nil
		},
	}
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default config into the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists; pass --force to overwrite", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config")
	return cmd
}

func catalogCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "catalog",
		Short: "Inspect the task catalog",
	}
	c.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "List the configured maintenance tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			tasks, err := catalog.Load(cfg.Paths.Catalog)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(tasks)
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"Task", "Interval", "Priority", "First run", "Message"})
			for _, t := range tasks {
				first := "-"
				if t.FirstRun {
					first = "after " + catalog.FormatDuration(t.FirstRunDelay)
				}
				tw.AppendRow(table.Row{t.Name, catalog.FormatDuration(t.Interval), t.Priority, first, t.Message})
			}
			tw.Render()
			return nil
		},
	})
	return c
}

// --- helpers ---

// loadConfig reads the workspace config, falling back to defaults when none
// exists, and applies environment overrides.
func loadConfig() (*config.Config, error) {
	workspace := viper.GetString("workspace")
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = config.Default()
	}
	if secret := viper.GetString("jwt-secret"); secret != "" {
		cfg.API.JWTSecret = secret
	}
	if level := viper.GetString("log-level"); level != "" {
		cfg.Logger.Level = level
	}
	cfg.Resolve(workspace)
	return cfg, nil
}

func newLogger(cfg *config.Config) (*zap.SugaredLogger, error) {
	return logger.New(cfg.Logger)
}

func withApp(ctx context.Context, readOnly bool, fn func(context.Context, *app.App) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer log.Sync()
	a, err := app.Open(ctx, cfg, log, app.IO{NoAudit: readOnly})
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
