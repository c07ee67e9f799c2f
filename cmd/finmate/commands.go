package main

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mirfaizal/ai-finance-assistant/internal/cli"
	"github.com/mirfaizal/ai-finance-assistant/internal/config"
	"github.com/mirfaizal/ai-finance-assistant/internal/ledger"
)

func newAskCmd(opts *globalOptions) *cobra.Command {
	var session string
	cmd := &cobra.Command{
		Use:   "ask QUESTION...",
		Short: "Ask a single question and print the answer",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := opts.openApp(cmd)
			if err != nil {
				return err
			}
			defer app.Close()

			res, err := app.Ask(cmd.Context(), strings.Join(args, " "), session)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, res.Answer)
			fmt.Fprintf(out, "\n[agent: %s | routing: %s | session: %s]\n", res.Agent, res.Source, res.SessionID)
			return nil
		},
	}
	cmd.Flags().StringVar(&session, "session", "", "continue this session id")
	return cmd
}

func newTradeCmd(opts *globalOptions) *cobra.Command {
	var session string
	cmd := &cobra.Command{
		Use:   "trade",
		Short: "Paper-trading ledger commands",
	}
	cmd.PersistentFlags().StringVar(&session, "session", "", "session id owning the portfolio (required)")
	_ = cmd.MarkPersistentFlagRequired("session")

	order := func(action string) *cobra.Command {
		var price float64
		c := &cobra.Command{
			Use:   action + " TICKER SHARES",
			Short: strings.ToUpper(action[:1]) + action[1:] + " shares at the live price or --price",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				shares, err := strconv.ParseFloat(args[1], 64)
				if err != nil {
					return fmt.Errorf("invalid share count %q", args[1])
				}
				app, err := opts.openApp(cmd)
				if err != nil {
					return err
				}
				defer app.Close()

				var r *ledger.Receipt
				if cmd.Flags().Changed("price") {
					r, err = app.Trade(cmd.Context(), action, session, args[0], shares, price)
				} else {
					r, err = app.TradeAtMarket(cmd.Context(), action, session, args[0], shares)
				}
				if err != nil {
					return err
				}
				cli.PrintReceipt(cmd.OutOrStdout(), r)
				return nil
			},
		}
		c.Flags().Float64Var(&price, "price", 0, "execution price (must be positive); defaults to the live quote")
		return c
	}

	holdings := &cobra.Command{
		Use:   "holdings",
		Short: "Show current holdings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := opts.openApp(cmd)
			if err != nil {
				return err
			}
			defer app.Close()

			hs, err := app.Ledger.GetHoldings(cmd.Context(), session)
			if err != nil {
				return err
			}
			cli.PrintHoldings(cmd.OutOrStdout(), hs)
			return nil
		},
	}

	var last int
	history := &cobra.Command{
		Use:   "history",
		Short: "Show recent trades, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := opts.openApp(cmd)
			if err != nil {
				return err
			}
			defer app.Close()

			trades, err := app.Ledger.GetTrades(cmd.Context(), session, last)
			if err != nil {
				return err
			}
			cli.PrintTrades(cmd.OutOrStdout(), trades)
			return nil
		},
	}
	history.Flags().IntVar(&last, "last", 20, "number of trades")

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove all holdings; trade history is kept",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := opts.openApp(cmd)
			if err != nil {
				return err
			}
			defer app.Close()

			n, err := app.Ledger.ClearHoldings(cmd.Context(), session)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d holding(s)\n", n)
			return nil
		},
	}

	cmd.AddCommand(order(ledger.ActionBuy), order(ledger.ActionSell), holdings, history, clearCmd)
	return cmd
}

func newHistoryCmd(opts *globalOptions) *cobra.Command {
	var (
		session string
		last    int
		wipe    bool
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show the messages of a session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := opts.openApp(cmd)
			if err != nil {
				return err
			}
			defer app.Close()

			if session == "" {
				latest, err := app.Memory.GetLatestSession(cmd.Context())
				if err != nil {
					return err
				}
				if latest == nil {
					fmt.Fprintln(cmd.OutOrStdout(), "No sessions yet.")
					return nil
				}
				session = latest.ID
			}
			if wipe {
				if err := app.Memory.ClearSession(cmd.Context(), session); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Cleared session %s\n", session)
				return nil
			}

			msgs, err := app.Memory.GetHistory(cmd.Context(), session, last)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Session %s\n", session)
			cli.PrintHistory(cmd.OutOrStdout(), msgs)
			return nil
		},
	}
	cmd.Flags().StringVar(&session, "session", "", "session id (default: most recent)")
	cmd.Flags().IntVar(&last, "last", 20, "number of messages")
	cmd.Flags().BoolVar(&wipe, "clear", false, "delete the session's messages and summary")
	return cmd
}

func newSessionsCmd(opts *globalOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List recent sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := opts.openApp(cmd)
			if err != nil {
				return err
			}
			defer app.Close()

			sessions, err := app.Memory.ListSessions(cmd.Context(), limit)
			if err != nil {
				return err
			}
			cli.PrintSessions(cmd.OutOrStdout(), sessions, "")
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum sessions to list")
	return cmd
}

func newKnowledgeCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "knowledge",
		Short: "Manage the reference knowledge base",
	}

	ingest := &cobra.Command{
		Use:   "ingest FILE...",
		Short: "Split files into chunks and index them",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := opts.openApp(cmd)
			if err != nil {
				return err
			}
			defer app.Close()
			if app.Knowledge == nil {
				return fmt.Errorf("knowledge base is disabled (knowledge.enabled: false)")
			}

			for _, file := range args {
				n, err := app.Knowledge.IngestFile(cmd.Context(), file, opts.cfg.Knowledge.ChunkSize)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %d chunk(s)\n", file, n)
			}
			return nil
		},
	}

	list := &cobra.Command{
		Use:   "sources",
		Short: "List indexed sources",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := opts.openApp(cmd)
			if err != nil {
				return err
			}
			defer app.Close()
			if app.Knowledge == nil {
				return fmt.Errorf("knowledge base is disabled (knowledge.enabled: false)")
			}

			sources, err := app.Knowledge.Sources(cmd.Context())
			if err != nil {
				return err
			}
			names := make([]string, 0, len(sources))
			for s := range sources {
				names = append(names, s)
			}
			sort.Strings(names)
			for _, s := range names {
				fmt.Fprintf(cmd.OutOrStdout(), "%-40s %d\n", s, sources[s])
			}
			return nil
		},
	}

	cmd.AddCommand(ingest, list)
	return cmd
}

func newServeMetricsCmd(opts *globalOptions) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve-metrics",
		Short: "Serve Prometheus metrics until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := cli.NewApp(cmd.Context(), opts.cfg, opts.prompts)
			if err != nil {
				return err
			}
			defer app.Close()

			fmt.Fprintf(cmd.OutOrStdout(), "Serving metrics on %s/metrics\n", addr)
			return app.ServeMetrics(cmd.Context(), addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":9090", "listen address")
	return cmd
}

func newConfigCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Show configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), opts.cfg.String())

			path, _ := config.ConfigPath()
			fmt.Fprintf(cmd.OutOrStdout(), "\nConfig file path: %s\n", path)
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "FinMate v%s\n", version)
		},
	}
}
