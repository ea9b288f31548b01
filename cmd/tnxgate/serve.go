package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/cobra"

	"tnxgate/internal/app"
	"tnxgate/internal/config"
	"tnxgate/internal/db"
	"tnxgate/internal/logger"
	"tnxgate/internal/migrate"
	"tnxgate/internal/server"
)

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Long:  "Serves the API under the base path, with OpenAPI at <base>/openapi.json, Swagger UI at /docs and Prometheus metrics at /metrics.",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadSettings(cmd.Context())
			if err != nil {
				return err
			}
			if addr != "" {
				s.HTTP.Addr = addr
			}
			if basePath != "" {
				s.HTTP.BasePath = basePath
			}
			if err := s.Validate(); err != nil {
				return err
			}
			log := logger.NewLogger(s.LogLevel, s.LogFormat)
			a, err := app.Open(cmd.Context(), s, log)
			if err != nil {
				return err
			}
			defer a.Close()
			return a.Serve(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides settings)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (overrides settings)")
	return cmd
}

func migrateCmd() *cobra.Command {
	var statusOnly bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadSettings(cmd.Context())
			if err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: s.Workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if !statusOnly {
				if err := migrate.MigrateContext(cmd.Context(), conn); err != nil {
					return err
				}
			}
			st, err := migrate.Status(cmd.Context(), conn)
			if err != nil {
				return err
			}
			if len(st.Pending) == 0 {
				st.Pending = []string{}
			}
			return printJSONOrTable(st)
		},
	}
	cmd.Flags().BoolVar(&statusOnly, "status", false, "report without applying")
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Profile and sharing configuration"}
	cfg.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write the default tnxgate.yml into the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadSettings(cmd.Context())
			if err != nil {
				return err
			}
			path := config.Path(s.Workspace)
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	})
	cfg.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate the workspace tnxgate.yml and settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadSettings(cmd.Context())
			if err != nil {
				return err
			}
			if err := s.Validate(); err != nil {
				return err
			}
			c, err := config.LoadOptional(s.Workspace)
			if err != nil {
				return err
			}
			fmt.Printf("ok: %d profiles, default %s\n", len(c.ProfileNames()), c.DefaultProfile)
			return nil
		},
	})
	return cfg
}

func tokenCmd() *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for the acting user (development)",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := actor()
			if err != nil {
				return err
			}
			s, err := loadSettings(cmd.Context())
			if err != nil {
				return err
			}
			now := time.Now()
			tok, err := server.SignToken(s.Auth.JWTSecret, server.Claims{
				RegisteredClaims: jwt.RegisteredClaims{
					Subject:   p.UserID,
					Issuer:    s.Auth.JWTIssuer,
					IssuedAt:  jwt.NewNumericDate(now),
					ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
				},
				TenantID:      p.TenantID,
				Email:         p.Email,
				EmailVerified: p.EmailVerified,
				Roles:         p.Roles,
			})
			if err != nil {
				return err
			}
			fmt.Println(tok)
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	return cmd
}

func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Expire stale invites and purge old idempotency records",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				invites, err := a.Engine.ExpireInvites(ctx)
				if err != nil {
					return err
				}
				records, err := a.Idempotency.Purge(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]int64{"expiredInvites": invites, "purgedIdempotencyRecords": records})
			})
		},
	}
}
