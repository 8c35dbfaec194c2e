package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	cl "champs/internal/cli"
	"champs/internal/config"
	"champs/internal/game"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

func main() {
	cfg := config.LoadCLIFromEnv()
	apiBase := cfg.APIBaseURL

	root := &cobra.Command{
		Use:          "champ",
		Short:        "Trading championship client",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&apiBase, "api", apiBase, "API base URL")

	root.AddCommand(
		newSignupCmd(&apiBase),
		newLoginCmd(&apiBase),
		newLogoutCmd(),
		newChampionshipsCmd(&apiBase),
		newUseCmd(),
		newEnrollCmd(&apiBase),
		newLeaveCmd(&apiBase),
		newLeaderboardCmd(&apiBase),
		newPrizePoolCmd(&apiBase),
		newOrderCmd(&apiBase),
		newHoldingsCmd(&apiBase),
	)

	if err := root.Execute(); err != nil {
		var apiErr *cl.APIError
		if errors.As(err, &apiErr) {
			printError(fmt.Sprintf("error: %s", apiErr.Message))
		} else {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
		os.Exit(1)
	}
}

func newClient(apiBase *string) *cl.Client {
	return cl.NewClient(strings.TrimRight(strings.TrimSpace(*apiBase), "/"))
}

func requireSession() (cl.Session, error) {
	sess, err := cl.LoadSession()
	if err != nil {
		return cl.Session{}, fmt.Errorf("login required: %w", err)
	}
	return sess, nil
}

// championshipArg picks the championship from the first argument or the
// session's default set by `champ use`.
func championshipArg(sess cl.Session, args []string) (string, error) {
	if len(args) > 0 && strings.TrimSpace(args[0]) != "" {
		return strings.TrimSpace(args[0]), nil
	}
	if sess.Championship != "" {
		return sess.Championship, nil
	}
	return "", fmt.Errorf("no championship given; pass an id or run `champ use <id>`")
}

func saveSession(session cl.Session) error {
	prev, err := cl.LoadSession()
	if err == nil && prev.UserID == session.UserID {
		session.Championship = prev.Championship
	}
	return cl.SaveSession(session)
}

func newSignupCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "signup",
		Short: "Create an account",
		RunE: func(cmd *cobra.Command, args []string) error {
			email, err := promptRequired("Email")
			if err != nil {
				return err
			}
			password, err := promptPassword("Password")
			if err != nil {
				return err
			}
			displayName, err := promptOptional("Display name (optional)")
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			session, err := newClient(apiBase).Signup(ctx, email, password, displayName)
			if err != nil {
				return err
			}
			if strings.TrimSpace(session.AccessToken) == "" {
				printWarn("Signup created. Verify email, then run `champ login`.")
				return nil
			}
			if err := saveSession(cl.Session{
				AccessToken:  session.AccessToken,
				RefreshToken: session.RefreshToken,
				Email:        session.User.Email,
				UserID:       session.User.ID,
			}); err != nil {
				return err
			}
			printSuccess("Signup complete. Session saved.")
			return nil
		},
	}
}

func newLoginCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Log in and store a session",
		RunE: func(cmd *cobra.Command, args []string) error {
			email, err := promptRequired("Email")
			if err != nil {
				return err
			}
			password, err := promptPassword("Password")
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			session, err := newClient(apiBase).Login(ctx, email, password)
			if err != nil {
				return err
			}
			if err := saveSession(cl.Session{
				AccessToken:  session.AccessToken,
				RefreshToken: session.RefreshToken,
				Email:        session.User.Email,
				UserID:       session.User.ID,
			}); err != nil {
				return err
			}
			printSuccess("Login successful.")
			return nil
		},
	}
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Clear local session token",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cl.ClearSession(); err != nil {
				return err
			}
			printSuccess("Logged out.")
			return nil
		},
	}
}

func newChampionshipsCmd(apiBase *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "championships",
		Aliases: []string{"champs"},
		Short:   "Browse and create championships",
	}

	var status string
	list := &cobra.Command{
		Use:   "list",
		Short: "List championships",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := requireSession()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			out, err := newClient(apiBase).ListChampionships(ctx, sess.AccessToken, status)
			if err != nil {
				return err
			}
			renderChampionships(out)
			return nil
		},
	}
	list.Flags().StringVar(&status, "status", "", "filter by status (upcoming, active, finished)")

	show := &cobra.Command{
		Use:   "show [id]",
		Short: "Show one championship",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := requireSession()
			if err != nil {
				return err
			}
			id, err := championshipArg(sess, args)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			out, err := newClient(apiBase).Championship(ctx, sess.AccessToken, id)
			if err != nil {
				return err
			}
			renderChampionship(out)
			return nil
		},
	}

	var (
		name     string
		cash     string
		fee      string
		startsIn time.Duration
		duration time.Duration
	)
	create := &cobra.Command{
		Use:   "create",
		Short: "Create a championship",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := requireSession()
			if err != nil {
				return err
			}
			if strings.TrimSpace(name) == "" {
				if name, err = promptRequired("Name"); err != nil {
					return err
				}
			}
			startingCash, err := decimal.NewFromString(cash)
			if err != nil {
				return fmt.Errorf("invalid --cash: %w", err)
			}
			entryFee, err := decimal.NewFromString(fee)
			if err != nil {
				return fmt.Errorf("invalid --fee: %w", err)
			}
			startsAt := time.Now().Add(startsIn).UTC()

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			out, err := newClient(apiBase).CreateChampionship(ctx, sess.AccessToken, name, startingCash, entryFee, startsAt, startsAt.Add(duration))
			if err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Created championship %s.", out.ID))
			renderChampionship(out)
			return nil
		},
	}
	create.Flags().StringVar(&name, "name", "", "championship name")
	create.Flags().StringVar(&cash, "cash", fmt.Sprint(game.DefaultStartingCash), "starting cash per participant")
	create.Flags().StringVar(&fee, "fee", "0", "entry fee per participant")
	create.Flags().DurationVar(&startsIn, "starts-in", 0, "delay before trading opens")
	create.Flags().DurationVar(&duration, "duration", 7*24*time.Hour, "how long trading stays open")

	cmd.AddCommand(list, show, create)
	return cmd
}

func newUseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "use <id>",
		Short: "Set the default championship for other commands",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := uuid.Parse(strings.TrimSpace(args[0])); err != nil {
				return fmt.Errorf("invalid championship id: %w", err)
			}
			if err := cl.UseChampionship(args[0]); err != nil {
				return err
			}
			printSuccess("Default championship set.")
			return nil
		},
	}
}

func newEnrollCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "enroll [id]",
		Short: "Join a championship",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := requireSession()
			if err != nil {
				return err
			}
			id, err := championshipArg(sess, args)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			out, err := newClient(apiBase).Enroll(ctx, sess.AccessToken, id)
			if err != nil {
				return err
			}
			renderEnrollment(out)
			if sess.Championship == "" {
				_ = cl.UseChampionship(id)
			}
			return nil
		},
	}
}

func newLeaveCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "leave [id]",
		Short: "Withdraw from a championship",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := requireSession()
			if err != nil {
				return err
			}
			id, err := championshipArg(sess, args)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			if err := newClient(apiBase).Leave(ctx, sess.AccessToken, id); err != nil {
				return err
			}
			printSuccess("Left championship. Your trades in it were discarded.")
			return nil
		},
	}
}

func newLeaderboardCmd(apiBase *string) *cobra.Command {
	var snapshot bool
	cmd := &cobra.Command{
		Use:     "leaderboard [id]",
		Aliases: []string{"lb"},
		Short:   "Show championship standings",
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := requireSession()
			if err != nil {
				return err
			}
			id, err := championshipArg(sess, args)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 60*time.Second)
			defer cancel()
			out, err := newClient(apiBase).Leaderboard(ctx, sess.AccessToken, id, snapshot)
			if err != nil {
				return err
			}
			renderLeaderboard(out, sess.UserID)
			return nil
		},
	}
	cmd.Flags().BoolVar(&snapshot, "snapshot", false, "show the latest stored snapshot instead of live standings")
	return cmd
}

func newPrizePoolCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "prize-pool [id]",
		Short: "Show entry fees, rake and payouts",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := requireSession()
			if err != nil {
				return err
			}
			id, err := championshipArg(sess, args)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			out, err := newClient(apiBase).PrizePool(ctx, sess.AccessToken, id)
			if err != nil {
				return err
			}
			renderPrizePool(out)
			return nil
		},
	}
}

func newOrderCmd(apiBase *string) *cobra.Command {
	var championship string
	cmd := &cobra.Command{
		Use:   "order",
		Short: "Buy or sell at the live price",
	}
	cmd.PersistentFlags().StringVarP(&championship, "championship", "c", "", "championship id (defaults to `champ use`)")

	for _, side := range []game.TransactionKind{game.KindBuy, game.KindSell} {
		cmd.AddCommand(&cobra.Command{
			Use:   string(side) + " <symbol> <quantity>",
			Short: strings.ToUpper(string(side[:1])) + string(side[1:]) + " shares",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				sess, err := requireSession()
				if err != nil {
					return err
				}
				id, err := championshipArg(sess, []string{championship})
				if err != nil {
					return err
				}
				symbol := game.NormalizeSymbol(args[0])
				if err := game.ValidateSymbol(symbol); err != nil {
					return err
				}
				qty, err := decimal.NewFromString(args[1])
				if err != nil || !qty.IsPositive() {
					return fmt.Errorf("quantity must be a positive number")
				}
				ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
				defer cancel()
				out, err := newClient(apiBase).PlaceOrder(ctx, sess.AccessToken, id, symbol, side, qty, uuid.NewString())
				if err != nil {
					return err
				}
				renderOrderResult(out)
				return nil
			},
		})
	}
	return cmd
}

func newHoldingsCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "holdings [id]",
		Short: "Show your positions and buying power",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := requireSession()
			if err != nil {
				return err
			}
			id, err := championshipArg(sess, args)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			out, err := newClient(apiBase).Holdings(ctx, sess.AccessToken, id)
			if err != nil {
				return err
			}
			renderPortfolio(out)
			return nil
		},
	}
}
