package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newLinkTokenCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "link-token",
		Short: "Request a link token for the user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, opts, func(ctx context.Context, s *session) error {
				token, err := s.engine.Connect(ctx)
				if err != nil {
					return err
				}
				return s.print(linkTokenView{UserID: s.engine.UserID(), LinkToken: token})
			})
		},
	}
}

func newRefreshCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Reload accounts and transactions from the backend",
		Long: `Reload accounts and transactions from the backend and persist them.

A user without linked accounts is skipped, the same way the background
refresh skips them.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, opts, func(ctx context.Context, s *session) error {
				if !s.engine.State().HasAccounts {
					fmt.Fprintf(cmd.ErrOrStderr(), "User %s has no linked accounts, nothing to refresh\n", s.engine.UserID())
				}
				if err := s.engine.Refresh(ctx); err != nil {
					return err
				}
				return s.print(newStateView(s.engine.UserID(), s.engine.State()))
			})
		},
	}
}

func newStateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "state",
		Short: "Show the user's persisted state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, opts, func(ctx context.Context, s *session) error {
				return s.print(newStateView(s.engine.UserID(), s.engine.State()))
			})
		},
	}
}

func newDisconnectCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "disconnect <account-id>",
		Short: "Remove an account locally and delete it on the backend",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, opts, func(ctx context.Context, s *session) error {
				outcome := s.engine.Disconnect(ctx, args[0])
				view := disconnectView{
					AccountID:      outcome.AccountID,
					Reconciled:     outcome.Reconciled,
					AlreadyDeleted: outcome.AlreadyDeleted,
					Message:        outcome.Message,
					Remaining:      len(s.engine.State().Accounts),
				}
				if outcome.Err != nil {
					view.Error = outcome.Err.Error()
				}
				return s.print(view)
			})
		},
	}
}

func newReorderCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reorder <account-id>...",
		Short: "Set the display order of the user's accounts",
		Long: `Set the display order of the user's accounts.

Unknown ids are ignored and accounts not listed are dropped from the
displayed list, the same as a reorder from the app.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, opts, func(ctx context.Context, s *session) error {
				if !s.engine.Reorder(ctx, args) {
					return fmt.Errorf("none of the given ids match an account of user %s", s.engine.UserID())
				}
				return s.print(newStateView(s.engine.UserID(), s.engine.State()))
			})
		},
	}
}
