package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/Satish-Kalepu/Agents-Simulator/internal/postman"
	"github.com/Satish-Kalepu/Agents-Simulator/internal/seed"
	"github.com/Satish-Kalepu/Agents-Simulator/internal/store"
	"github.com/Satish-Kalepu/Agents-Simulator/pkg/server"
)

// withStore loads config, opens (and migrates) the store and runs fn.
func (o *rootOptions) withStore(ctx context.Context, fn func(context.Context, store.Store) error) error {
	cfg, err := o.load()
	if err != nil {
		return err
	}
	st, err := server.OpenStore(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer st.Close()
	return fn(ctx, st)
}

func newMigrateCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withStore(cmd.Context(), func(context.Context, store.Store) error {
				log.Info().Msg("Migrations applied")
				return nil
			})
		},
	}
}

func newUserCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{Use: "user", Short: "Manage admin users"}

	var name, username, password string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create an admin user",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withStore(cmd.Context(), func(ctx context.Context, st store.Store) error {
				u, err := seed.CreateUser(ctx, st, name, username, password)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "created user %d (%s)\n", u.ID, u.Username)
				return nil
			})
		},
	}
	create.Flags().StringVar(&name, "name", "", "Display name")
	create.Flags().StringVar(&username, "username", "", "Login name")
	create.Flags().StringVar(&password, "password", "", "Password")
	_ = create.MarkFlagRequired("username")
	_ = create.MarkFlagRequired("password")

	cmd.AddCommand(create)
	return cmd
}

func newTokenCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{Use: "token", Short: "Manage invocation tokens"}

	var (
		username string
		agentID  int64
		maxCalls int64
		expires  string
	)
	issue := &cobra.Command{
		Use:   "issue",
		Short: "Issue a token and print it once",
		RunE: func(cmd *cobra.Command, _ []string) error {
			spec := seed.TokenSpec{}
			if cmd.Flags().Changed("max-invocations") {
				if maxCalls < 0 {
					return fmt.Errorf("--max-invocations must not be negative")
				}
				spec.MaxInvocations = &maxCalls
			}
			if expires != "" {
				at, err := parseExpiry(expires, time.Now().UTC())
				if err != nil {
					return err
				}
				spec.ExpireDate = &at
			}

			return opts.withStore(cmd.Context(), func(ctx context.Context, st store.Store) error {
				u, err := st.GetUserByUsername(ctx, username)
				if err != nil {
					return fmt.Errorf("user %q: %w", username, err)
				}
				spec.UserID = u.ID
				if agentID > 0 {
					if _, err := st.GetAgent(ctx, agentID); err != nil {
						return err
					}
					spec.AgentID = &agentID
				}
				tok, plain, err := seed.IssueToken(ctx, st, spec)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "issued token %d for %s; it will not be shown again\n", tok.ID, u.Username)
				fmt.Fprintln(cmd.OutOrStdout(), plain)
				return nil
			})
		},
	}
	issue.Flags().StringVar(&username, "user", "", "Owning username")
	issue.Flags().Int64Var(&agentID, "agent", 0, "Restrict the token to this agent id")
	issue.Flags().Int64Var(&maxCalls, "max-invocations", 0, "Lifetime invocation cap (omit for unlimited)")
	issue.Flags().StringVar(&expires, "expires", "", "Expiry as RFC 3339 time or duration from now (e.g. 720h)")
	_ = issue.MarkFlagRequired("user")

	cmd.AddCommand(issue)
	return cmd
}

func parseExpiry(raw string, now time.Time) (time.Time, error) {
	if d, err := time.ParseDuration(raw); err == nil {
		if d <= 0 {
			return time.Time{}, fmt.Errorf("--expires must be in the future")
		}
		return now.Add(d), nil
	}
	at, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("--expires: want RFC 3339 time or duration, got %q", raw)
	}
	return at.UTC(), nil
}

func newPostmanCommand(opts *rootOptions) *cobra.Command {
	var (
		baseURL string
		agentID int64
		token   string
	)
	cmd := &cobra.Command{
		Use:   "postman",
		Short: "Write a Postman collection for the invocation API to stdout",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if baseURL == "" {
				cfg, err := opts.load()
				if err != nil {
					return err
				}
				baseURL = fmt.Sprintf("http://localhost:%d", cfg.Port)
			}
			coll := postman.Build(postman.Options{BaseURL: baseURL, AgentID: agentID, Token: token})
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(coll)
		},
	}
	cmd.Flags().StringVar(&baseURL, "base-url", "", "Service base URL (default http://localhost:$PORT)")
	cmd.Flags().Int64Var(&agentID, "agent", 0, "Agent id to prefill")
	cmd.Flags().StringVar(&token, "token", "", "Token to prefill")
	return cmd
}
