package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/shiftsync/internal/auth"
	"github.com/roach88/shiftsync/internal/clock"
	"github.com/roach88/shiftsync/internal/config"
	"github.com/roach88/shiftsync/internal/remote"
	"github.com/roach88/shiftsync/internal/server"
	"github.com/roach88/shiftsync/internal/store"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Addr     string
	Database string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the authoritative server",
		Long: `Serve the authoritative copy that devices sync against.

The server keeps its own SQLite database and needs server.jwt_secret (or
SHIFTSYNC_JWT_SECRET) to verify device tokens.

Example:
  SHIFTSYNC_JWT_SECRET=... shiftsync serve --addr :8080 --server-db /var/lib/shiftsync/server.db`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "", "listen address (overrides config)")
	cmd.Flags().StringVar(&opts.Database, "server-db", "", "path to the server SQLite database (overrides config)")

	return cmd
}

func runServer(opts *ServeOptions, cmd *cobra.Command) error {
	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return err
	}
	if opts.Addr != "" {
		cfg.Server.Addr = opts.Addr
	}
	if opts.Database != "" {
		cfg.Server.Database = opts.Database
	}
	tokens, err := serverTokens(cfg)
	if err != nil {
		return err
	}

	slog.Info("opening database", "path", cfg.Server.Database)
	st, err := store.Open(cfg.Server.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			slog.Error("error closing database", "error", closeErr)
		}
	}()

	logger := slog.Default()
	backend := remote.NewBackend(st, clock.System{}, logger)
	srv := server.New(backend, tokens,
		server.WithLogger(logger),
		server.WithCORS(cfg.Server.CORSOrigins...),
	)

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := signalContext(parentCtx)
	defer cancel()

	fmt.Fprintf(cmd.OutOrStdout(), "Serving on %s. Press Ctrl-C to stop.\n", cfg.Server.Addr)
	if err := srv.ListenAndServe(ctx, cfg.Server.Addr); err != nil {
		return WrapExitError(ExitFailure, "server error", err)
	}
	slog.Info("server stopped gracefully")
	return nil
}

func serverTokens(cfg config.Config) (*auth.Tokens, error) {
	if cfg.Server.JWTSecret == "" {
		return nil, NewExitError(ExitCommandError, "server.jwt_secret is not set (config or "+config.EnvJWTSecret+")")
	}
	return auth.NewTokens([]byte(cfg.Server.JWTSecret), clock.System{}, cfg.Server.TokenTTL), nil
}

// TokenOptions holds flags for the token command.
type TokenOptions struct {
	*RootOptions
	Role string
	TTL  time.Duration
}

// TokenResult is the JSON payload of token.
type TokenResult struct {
	Subject string `json:"subject"`
	Role    string `json:"role"`
	Token   string `json:"token"`
}

// NewTokenCommand creates the token command.
func NewTokenCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TokenOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "token <subject>",
		Short: "Issue a bearer token for a device",
		Long: `Sign a token with the server's secret. Devices put it in remote.token.

Devices that push category changes need the admin role.

Example:
  shiftsync token front-desk-1 --role admin`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := newFormatter(opts.RootOptions, cmd)
			cfg, err := loadConfig(opts.RootOptions)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("ttl") {
				cfg.Server.TokenTTL = opts.TTL
			}
			role, err := auth.ParseRole(opts.Role)
			if err != nil {
				return out.Fail("issue token", err)
			}
			tokens, err := serverTokens(cfg)
			if err != nil {
				return err
			}
			signed, err := tokens.Issue(auth.Actor{EmployeeID: args[0], Role: role})
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to issue token", err)
			}
			res := TokenResult{Subject: args[0], Role: string(role), Token: signed}
			return out.Render(res, func(w io.Writer) {
				fmt.Fprintln(w, signed)
			})
		},
	}

	cmd.Flags().StringVar(&opts.Role, "role", string(auth.RoleAdmin), "role claim (employee|manager|admin)")
	cmd.Flags().DurationVar(&opts.TTL, "ttl", 0, "token lifetime (overrides server.token_ttl; 0 never expires)")

	return cmd
}
