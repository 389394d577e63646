package cli

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"dattas/internal/app"
	"dattas/internal/names/handler"
	"dattas/internal/origin"
	id "dattas/pkg/domain"
)

type nameFlags struct {
	name    string
	nameHex string
}

func (f *nameFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.name, "name", "", "name as UTF-8 text")
	cmd.Flags().StringVar(&f.nameHex, "name-hex", "", "name as hex-encoded bytes")
	cmd.MarkFlagsMutuallyExclusive("name", "name-hex")
	cmd.MarkFlagsOneRequired("name", "name-hex")
}

func (f *nameFlags) request(cmd *cobra.Command) (*handler.NameRequest, error) {
	req := &handler.NameRequest{}
	if cmd.Flags().Changed("name") {
		req.Name = &f.name
	}
	if cmd.Flags().Changed("name-hex") {
		req.NameHex = &f.nameHex
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return req, nil
}

func NewTokenCommand(opts *RootOptions) *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token <account>",
		Short: "Issue a signing token for an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			account, err := id.ParseAccountID(args[0])
			if err != nil {
				return err
			}
			cfg, err := opts.LoadConfig()
			if err != nil {
				return err
			}
			if cfg.Auth.JWTSigningKey == "" {
				return fmt.Errorf("JWT_SIGNING_KEY is required to issue tokens")
			}
			if ttl == 0 {
				ttl = cfg.Auth.TokenTTL
			}
			token, err := origin.NewTokens(cfg.Auth.JWTSigningKey, cfg.Auth.JWTIssuer, cfg.Auth.JWTAudience).Issue(account, ttl)
			if err != nil {
				return err
			}
			return emit(cmd.OutOrStdout(), opts, map[string]string{"account": account.String(), "token": token}, token)
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (defaults to JWT_TOKEN_TTL)")
	return cmd
}

func NewEndowCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "endow <account> <amount>",
		Short: "Credit free balance to an account",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			account, err := id.ParseAccountID(args[0])
			if err != nil {
				return err
			}
			amount, err := strconv.ParseUint(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid amount %q: %w", args[1], err)
			}
			return withDurableApp(cmd, opts, func(ctx context.Context, a *app.App) error {
				if err := a.Ledger.Deposit(ctx, account, id.Balance(amount)); err != nil {
					return err
				}
				return printBalance(ctx, cmd, opts, a, account)
			})
		},
	}
}

func NewQueryCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "query <account>",
		Short: "Show the name registered to an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			account, err := id.ParseAccountID(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, opts, func(ctx context.Context, a *app.App) error {
				record, err := a.Service.Query(ctx, account)
				if err != nil {
					return err
				}
				if record == nil {
					return emit(cmd.OutOrStdout(), opts, map[string]any{"account": account.String(), "named": false}, "unnamed")
				}
				resp := handler.NewNameResponse(account, *record)
				text := "0x" + resp.NameHex
				if resp.Name != nil {
					text = *resp.Name
				}
				return emit(cmd.OutOrStdout(), opts, resp, fmt.Sprintf("%s (deposit %d)", text, record.Deposit))
			})
		},
	}
}

func NewBalanceCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "balance <account>",
		Short: "Show free and reserved balance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			account, err := id.ParseAccountID(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, opts, func(ctx context.Context, a *app.App) error {
				return printBalance(ctx, cmd, opts, a, account)
			})
		},
	}
}

func NewForceCommand(opts *RootOptions) *cobra.Command {
	var flags nameFlags
	cmd := &cobra.Command{
		Use:   "force <target>",
		Short: "Set a name on an account without charging a deposit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := flags.request(cmd)
			if err != nil {
				return err
			}
			return withDurableApp(cmd, opts, func(ctx context.Context, a *app.App) error {
				if err := a.Service.ForceName(ctx, origin.Root(), args[0], req.Bytes()); err != nil {
					return err
				}
				return emit(cmd.OutOrStdout(), opts, handler.EventResponse{Event: "name_forced"}, "name_forced")
			})
		},
	}
	flags.bind(cmd)
	return cmd
}

func NewKillCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "kill <target>",
		Short: "Remove an account's name and slash its deposit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDurableApp(cmd, opts, func(ctx context.Context, a *app.App) error {
				slashed, err := a.Service.KillName(ctx, origin.Root(), args[0])
				if err != nil {
					return err
				}
				return emit(cmd.OutOrStdout(), opts,
					handler.KillResponse{Event: "name_killed", DepositSlashed: slashed},
					fmt.Sprintf("name_killed (slashed %d)", slashed))
			})
		},
	}
}

func printBalance(ctx context.Context, cmd *cobra.Command, opts *RootOptions, a *app.App, account id.AccountID) error {
	acc, err := a.Service.Balance(ctx, account)
	if err != nil {
		return err
	}
	return emit(cmd.OutOrStdout(), opts,
		handler.AccountResponse{Account: account.String(), Free: acc.Free, Reserved: acc.Reserved},
		fmt.Sprintf("free %d reserved %d", acc.Free, acc.Reserved))
}
