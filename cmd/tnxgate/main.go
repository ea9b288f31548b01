package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"tnxgate/internal/app"
	"tnxgate/internal/config"
	"tnxgate/internal/engine"
	"tnxgate/internal/engine/auth"
	"tnxgate/internal/logger"
)

var rootCmd = &cobra.Command{
	Use:   "tnxgate",
	Short: "Validation review and replay gate for trading strategies",
	Long: `tnxgate validates backtested strategy runs before they merge or ship.
- Run: one strategy backtest submitted for validation under a profile.
- Profile: named gating flags (STANDARD, STRICT, FAST, EXPLORATORY).
- Checks: indicator fidelity, trade coherence and metric consistency over the evidence.
- Review: an agent verdict under budget, then trader sign-off when the profile asks for it.
- Baseline and replay: a passing run pinned as reference; candidates are gated on metric drift.
- Bots: automation identities that call the API with rotating keys.`,
	SilenceUsage: true,
}

func main() {
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func addPersistentFlags() {
	viper.SetEnvPrefix(config.EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	flags := rootCmd.PersistentFlags()
	flags.StringP("config", "c", "", "settings file (yaml, json or toml)")
	flags.StringP("workspace", "w", "", "workspace directory (overrides settings)")
	flags.Bool("json", false, "output JSON")
	flags.String("tenant", "", "tenant id to act as")
	flags.String("user", "", "user id to act as")
	flags.String("email", "", "verified email of the acting user")
	flags.StringSlice("role", nil, "roles of the acting user")
	for _, name := range []string{"config", "workspace", "json", "tenant", "user", "email", "role"} {
		_ = viper.BindPFlag(name, flags.Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(profilesCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(replayCmd())
	rootCmd.AddCommand(botCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(sweepCmd())
}

func loadSettings(ctx context.Context) (*config.Settings, error) {
	s, err := app.LoadSettings(ctx, viper.GetString("config"))
	if err != nil {
		return nil, err
	}
	if ws := viper.GetString("workspace"); ws != "" {
		s.Workspace = ws
	}
	return s, nil
}

// withApp opens the workspace for a one-shot command. Logging is discarded
// so command output stays machine readable.
func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	s, err := loadSettings(ctx)
	if err != nil {
		return err
	}
	a, err := app.Open(ctx, s, logger.Discard())
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	return withApp(ctx, func(ctx context.Context, a *app.App) error {
		return fn(ctx, a.Engine)
	})
}

// actor is the principal operator commands act as.
func actor() (auth.Principal, error) {
	p := auth.Principal{
		UserID:        viper.GetString("user"),
		TenantID:      viper.GetString("tenant"),
		Email:         viper.GetString("email"),
		EmailVerified: viper.GetString("email") != "",
		Roles:         viper.GetStringSlice("role"),
		Source:        "cli",
	}
	if p.UserID == "" || p.TenantID == "" {
		return p, fmt.Errorf("--tenant and --user are required")
	}
	return p, nil
}

func withActor(ctx context.Context, fn func(context.Context, engine.Engine, auth.Principal) error) error {
	p, err := actor()
	if err != nil {
		return err
	}
	return withEngine(ctx, func(ctx context.Context, e engine.Engine) error {
		return fn(ctx, e, p)
	})
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTable(header ...any) table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row(header))
	return tw
}

func derefOr[T ~string](v *T, fallback string) string {
	if v == nil {
		return fallback
	}
	return string(*v)
}
