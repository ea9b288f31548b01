package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"tnxgate/internal/domain"
	"tnxgate/internal/engine"
	"tnxgate/internal/engine/auth"
)

func profilesCmd() *cobra.Command {
	prof := &cobra.Command{Use: "profiles", Short: "Validation profiles"}
	prof.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List profiles and their gating flags",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if viper.GetBool("json") {
					out := map[string]any{}
					for _, name := range e.Config.ProfileNames() {
						p, _ := e.Config.Profile(name)
						out[name] = p
					}
					return printJSON(out)
				}
				tw := newTable("Profile", "Default", "Trader", "Block merge", "Block release", "Drift threshold %")
				for _, name := range e.Config.ProfileNames() {
					p, _ := e.Config.Profile(name)
					def := ""
					if name == e.Config.DefaultProfile {
						def = "*"
					}
					tw.AppendRow([]any{name, def, p.Flags.RequireTraderReview, p.Flags.BlockMergeOnFail, p.Flags.BlockReleaseOnFail, p.ThresholdPct()})
				}
				tw.Render()
				return nil
			})
		},
	})
	return prof
}

func runCmd() *cobra.Command {
	run := &cobra.Command{Use: "run", Short: "Inspect validation runs"}
	run.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List the acting user's runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, p auth.Principal) error {
				runs, err := e.ListRuns(ctx, p)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(runs)
				}
				tw := newTable("ID", "Strategy", "Profile", "Status", "Trader", "Decision", "Created")
				for _, r := range runs {
					tw.AppendRow([]any{r.ID, r.StrategyRef.StrategyID, r.Profile, r.Status, r.TraderReview, derefOr(r.FinalDecision, "-"), r.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	})
	run.AddCommand(&cobra.Command{
		Use:   "show <runId>",
		Short: "Show a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, p auth.Principal) error {
				r, err := e.GetRun(ctx, p, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(r)
			})
		},
	})
	run.AddCommand(&cobra.Command{
		Use:   "artifact <runId>",
		Short: "Print the run artifact",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, p auth.Principal) error {
				art, err := e.GetArtifact(ctx, p, args[0])
				if err != nil {
					return err
				}
				return printJSON(art)
			})
		},
	})
	return run
}

func replayCmd() *cobra.Command {
	rp := &cobra.Command{Use: "replay", Short: "Baselines and replay gates"}
	rp.AddCommand(&cobra.Command{
		Use:   "baseline <runId>",
		Short: "Promote a passing run to a baseline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, p auth.Principal) error {
				b, err := e.CreateBaseline(ctx, p, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(b)
			})
		},
	})
	rp.AddCommand(&cobra.Command{
		Use:   "run <baselineId> <candidateRunId>",
		Short: "Replay a candidate against a baseline",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, p auth.Principal) error {
				g, err := e.Replay(ctx, p, args[0], args[1])
				if err != nil {
					return err
				}
				return printJSONOrTable(g)
			})
		},
	})
	rp.AddCommand(&cobra.Command{
		Use:   "show <replayId>",
		Short: "Show a replay record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, p auth.Principal) error {
				g, err := e.GetReplay(ctx, p, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(g)
			})
		},
	})
	rp.AddCommand(&cobra.Command{
		Use:   "list <baselineId>",
		Short: "List replays against a baseline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, p auth.Principal) error {
				items, err := e.ListReplays(ctx, p, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable("ID", "Candidate", "Delta %", "Threshold %", "Merge", "Release", "Decision")
				for _, g := range items {
					tw.AppendRow([]any{g.ID, g.CandidateRunID, g.MetricDriftDeltaPct, g.MetricDriftThresholdPct, g.MergeGateStatus, g.ReleaseGateStatus, g.Decision})
				}
				tw.Render()
				return nil
			})
		},
	})
	return rp
}

func botCmd() *cobra.Command {
	bot := &cobra.Command{Use: "bot", Short: "Bot identities and API keys"}

	var name, path, code string
	register := &cobra.Command{
		Use:   "register",
		Short: "Register a bot for the acting user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, p auth.Principal) error {
				b, err := e.RegisterBot(ctx, p, engine.RegisterBotRequest{
					Name:             name,
					RegistrationPath: domain.RegistrationPath(path),
					InviteCode:       code,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(b)
			})
		},
	}
	register.Flags().StringVar(&name, "name", "", "bot name")
	register.Flags().StringVar(&path, "path", string(domain.RegistrationInviteCodeTrial), "registration path: invite_code_trial or partner_bootstrap")
	register.Flags().StringVar(&code, "invite-code", "", "trial invite code")
	bot.AddCommand(register)

	bot.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List the acting user's bots",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, p auth.Principal) error {
				bots, err := e.ListBots(ctx, p)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(bots)
				}
				tw := newTable("ID", "Name", "Status", "Path", "Trial expires")
				for _, b := range bots {
					tw.AppendRow([]any{b.ID, b.Name, b.Status, b.RegistrationPath, b.TrialExpiresAt})
				}
				tw.Render()
				return nil
			})
		},
	})

	// The raw key is printed once and kept nowhere else.
	printIssued := func(issued engine.IssuedKey) error {
		if viper.GetBool("json") {
			return printJSON(issued)
		}
		fmt.Printf("key id:  %s\nkey:     %s\nStore this key now; it cannot be shown again.\n", issued.Key.ID, issued.RawKey)
		return nil
	}
	bot.AddCommand(&cobra.Command{
		Use:   "issue-key <botId>",
		Short: "Issue the bot's first API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, p auth.Principal) error {
				issued, err := e.IssueKey(ctx, p, args[0])
				if err != nil {
					return err
				}
				return printIssued(issued)
			})
		},
	})
	bot.AddCommand(&cobra.Command{
		Use:   "rotate-key <botId>",
		Short: "Rotate the bot's API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, p auth.Principal) error {
				issued, err := e.RotateKey(ctx, p, args[0])
				if err != nil {
					return err
				}
				return printIssued(issued)
			})
		},
	})
	bot.AddCommand(&cobra.Command{
		Use:   "revoke-key <keyId>",
		Short: "Revoke a bot key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, p auth.Principal) error {
				k, err := e.RevokeKey(ctx, p, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(k)
			})
		},
	})
	bot.AddCommand(&cobra.Command{
		Use:   "keys <botId>",
		Short: "List key metadata",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, p auth.Principal) error {
				keys, err := e.ListKeys(ctx, p, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(keys)
				}
				tw := newTable("ID", "Prefix", "Status", "Created", "Revoked")
				for _, k := range keys {
					tw.AppendRow([]any{k.ID, k.KeyPrefix, k.Status, k.CreatedAt, k.RevokedAt})
				}
				tw.Render()
				return nil
			})
		},
	})
	bot.AddCommand(&cobra.Command{
		Use:   "revoke <botId>",
		Short: "Revoke a bot and all its keys",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, p auth.Principal) error {
				b, err := e.RevokeBot(ctx, p, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(b)
			})
		},
	})
	return bot
}

func logCmd() *cobra.Command {
	lg := &cobra.Command{Use: "log", Short: "Audit event log"}
	var n int
	var evtType string
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Show the most recent events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				latest, err := e.Repo.LatestEventID(ctx)
				if err != nil {
					return err
				}
				cursor := latest - int64(n)
				if cursor < 0 {
					cursor = 0
				}
				evts, err := e.Repo.EventsAfter(ctx, n, cursor)
				if err != nil {
					return err
				}
				out := evts[:0]
				for _, evt := range evts {
					if evtType == "" || evt.Type == evtType {
						out = append(out, evt)
					}
				}
				if viper.GetBool("json") {
					return printJSON(out)
				}
				tw := newTable("ID", "TS", "Type", "Tenant", "Entity", "Actor")
				for _, evt := range out {
					tw.AppendRow([]any{evt.ID, evt.TS, evt.Type, evt.TenantID, evt.EntityKind + ":" + evt.EntityID, evt.ActorID})
				}
				tw.Render()
				return nil
			})
		},
	}
	tail.Flags().IntVarP(&n, "limit", "n", 20, "number of events")
	tail.Flags().StringVar(&evtType, "type", "", "event type filter")
	lg.AddCommand(tail)
	return lg
}
