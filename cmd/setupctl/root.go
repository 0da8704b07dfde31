package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/alanyoungcy/setupwatch/internal/journal"
)

const version = "0.4.0"

// cli carries the global flags shared by every subcommand.
type cli struct {
	profilePath string
	baseURL     string
	apiKey      string
}

// client resolves the profile, letting flags win over the file and the
// environment.
func (c *cli) client() (*apiClient, error) {
	p, err := loadProfile(c.profilePath)
	if err != nil {
		return nil, err
	}
	if c.baseURL != "" {
		p.BaseURL = c.baseURL
	}
	if c.apiKey != "" {
		p.APIKey = c.apiKey
	}
	return newAPIClient(p), nil
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:   "setupctl",
		Short: "Operate a setupwatch server",
		Long: `setupctl submits trade proposals and price observations to a setupwatch
server and inspects the resulting decisions, setups and lessons.

Connection settings come from ~/.setupctl.yaml (base_url, api_key, timeout),
then SETUPCTL_BASE_URL and SETUPCTL_API_KEY, then the flags below.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&c.profilePath, "profile", defaultProfilePath(), "path to the connection profile")
	root.PersistentFlags().StringVar(&c.baseURL, "base-url", "", "server base URL")
	root.PersistentFlags().StringVar(&c.apiKey, "api-key", "", "API key")

	root.AddCommand(
		newProposeCmd(c),
		newPriceCmd(c),
		newDecisionsCmd(c),
		newDecisionCmd(c),
		newSetupsCmd(c),
		newSetupCmd(c),
		newInvalidateCmd(c),
		newLessonCmd(c),
		newLessonsCmd(c),
		newCalendarCmd(c),
		newJournalCmd(),
		newVersionCmd(),
	)
	return root
}

// printJSON pretty-prints a JSON response body.
func printJSON(w io.Writer, raw []byte) error {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		_, err = w.Write(raw)
		return err
	}
	buf.WriteByte('\n')
	_, err := buf.WriteTo(w)
	return err
}

func newProposeCmd(c *cli) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "propose -f proposal.yaml",
		Short: "Submit a trade proposal and print the decision",
		Long: `Submit a trade proposal read from a YAML or JSON file ("-" reads stdin).

Example proposal.yaml:
  symbol: BTCUSDT
  side: long
  entry: 64000
  stop: 63200
  target: 66000
  confidence: 0.7
  timeframe: 4h`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			raw, err := readInput(cmd.InOrStdin(), file)
			if err != nil {
				return err
			}
			var proposal map[string]any
			if err := yaml.Unmarshal(raw, &proposal); err != nil {
				return fmt.Errorf("decode %s: %w", file, err)
			}
			if len(proposal) == 0 {
				return fmt.Errorf("%s: empty proposal", file)
			}
			api, err := c.client()
			if err != nil {
				return err
			}
			body, err := api.post(cmd.Context(), "/api/proposals", proposal)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), body)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "proposal file (YAML or JSON)")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func readInput(stdin io.Reader, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(stdin)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return raw, nil
}

func newPriceCmd(c *cli) *cobra.Command {
	var at string
	var high, low float64
	cmd := &cobra.Command{
		Use:   "price SYMBOL PRICE",
		Short: "Submit one price observation and print the transitions",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			price, err := strconv.ParseFloat(args[1], 64)
			if err != nil {
				return fmt.Errorf("price %q: %w", args[1], err)
			}
			obs := map[string]any{"symbol": strings.ToUpper(args[0]), "price": price}
			if high > 0 {
				obs["high"] = high
			}
			if low > 0 {
				obs["low"] = low
			}
			if at != "" {
				ts, err := time.Parse(time.RFC3339, at)
				if err != nil {
					return fmt.Errorf("--at: %w", err)
				}
				obs["observed_at"] = ts.UTC().Format(time.RFC3339Nano)
			}
			api, err := c.client()
			if err != nil {
				return err
			}
			body, err := api.post(cmd.Context(), "/api/prices", obs)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), body)
		},
	}
	cmd.Flags().StringVar(&at, "at", "", "observation time (RFC 3339); defaults to now")
	cmd.Flags().Float64Var(&high, "high", 0, "bar high")
	cmd.Flags().Float64Var(&low, "low", 0, "bar low")
	return cmd
}

func newDecisionsCmd(c *cli) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "decisions",
		Short: "List recent decisions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.getAndPrint(cmd, "/api/decisions", map[string]string{"limit": strconv.Itoa(limit)})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum decisions")
	return cmd
}

func newDecisionCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "decision ID",
		Short: "Show one decision with its attachments",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.getAndPrint(cmd, "/api/decisions/"+args[0], nil)
		},
	}
}

func newSetupsCmd(c *cli) *cobra.Command {
	var status, symbol string
	var limit int
	cmd := &cobra.Command{
		Use:   "setups",
		Short: "List setups",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.getAndPrint(cmd, "/api/setups", map[string]string{
				"status": status,
				"symbol": strings.ToUpper(symbol),
				"limit":  strconv.Itoa(limit),
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "pending, entry_hit, sl_hit, tp_hit or expired")
	cmd.Flags().StringVar(&symbol, "symbol", "", "filter by symbol")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum setups")
	return cmd
}

func newSetupCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "setup ID",
		Short: "Show one setup with its attachments",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.getAndPrint(cmd, "/api/setups/"+args[0], nil)
		},
	}
}

func newInvalidateCmd(c *cli) *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "invalidate ID",
		Short: "Cancel a pending setup",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := c.client()
			if err != nil {
				return err
			}
			body, err := api.post(cmd.Context(), "/api/setups/"+args[0]+"/invalidate", map[string]string{"reason": reason})
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), body)
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "reason recorded on the setup")
	return cmd
}

func newLessonCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "lesson SETUP_ID",
		Short: "Show the lesson for a closed setup",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.getAndPrint(cmd, "/api/setups/"+args[0]+"/lesson", nil)
		},
	}
}

func newLessonsCmd(c *cli) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "lessons",
		Short: "List recent lessons",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.getAndPrint(cmd, "/api/lessons", map[string]string{"limit": strconv.Itoa(limit)})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum lessons")
	return cmd
}

func newCalendarCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "calendar",
		Short: "List or add scheduled economic events",
	}

	var from, to string
	list := &cobra.Command{
		Use:   "list",
		Short: "List events; defaults to the next seven days",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.getAndPrint(cmd, "/api/calendar", map[string]string{"from": from, "to": to})
		},
	}
	list.Flags().StringVar(&from, "from", "", "range start (RFC 3339)")
	list.Flags().StringVar(&to, "to", "", "range end (RFC 3339)")

	var name, at, impact string
	var symbols []string
	add := &cobra.Command{
		Use:   "add",
		Short: "Create or replace an event",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ts, err := time.Parse(time.RFC3339, at)
			if err != nil {
				return fmt.Errorf("--at: %w", err)
			}
			api, err := c.client()
			if err != nil {
				return err
			}
			body, err := api.post(cmd.Context(), "/api/calendar", map[string]any{
				"name":         name,
				"symbols":      symbols,
				"impact":       impact,
				"scheduled_at": ts.UTC(),
			})
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), body)
		},
	}
	add.Flags().StringVar(&name, "name", "", "event name")
	add.Flags().StringVar(&at, "at", "", "scheduled time (RFC 3339)")
	add.Flags().StringVar(&impact, "impact", "high", "high, medium or low")
	add.Flags().StringSliceVar(&symbols, "symbols", nil, "affected symbols; empty means all")
	_ = add.MarkFlagRequired("name")
	_ = add.MarkFlagRequired("at")

	cmd.AddCommand(list, add)
	return cmd
}

func (c *cli) getAndPrint(cmd *cobra.Command, path string, query map[string]string) error {
	api, err := c.client()
	if err != nil {
		return err
	}
	body, err := api.get(cmd.Context(), path, query)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), body)
}

func newJournalCmd() *cobra.Command {
	var dbPath, kind, symbol string
	var limit int
	var raw bool
	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Read a local SQLite decision journal",
		Long: `Read the SQLite journal written by a setupwatch process configured with
journal.sqlite_path. Records are listed newest first.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			j, err := journal.OpenSQLite(dbPath)
			if err != nil {
				return fmt.Errorf("open journal: %w", err)
			}
			defer j.Close()

			recs, err := j.List(cmd.Context(), journal.Query{
				Kind:   journal.Kind(kind),
				Symbol: strings.ToUpper(symbol),
				Limit:  limit,
			})
			if err != nil {
				return err
			}
			if raw {
				for _, rec := range recs {
					line, err := json.Marshal(rec)
					if err != nil {
						return err
					}
					fmt.Fprintln(cmd.OutOrStdout(), string(line))
				}
				return nil
			}
			return writeJournalTable(cmd.OutOrStdout(), recs)
		},
	}
	cmd.Flags().StringVarP(&dbPath, "db", "d", "./setupwatch-journal.db", "path to the SQLite journal")
	cmd.Flags().StringVar(&kind, "kind", "", "decision, setup_closed or lesson")
	cmd.Flags().StringVar(&symbol, "symbol", "", "filter by symbol")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum records; 0 for all")
	cmd.Flags().BoolVar(&raw, "json", false, "print records as JSON lines")
	return cmd
}

func writeJournalTable(w io.Writer, recs []journal.Record) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tAT\tKIND\tSYMBOL\tREF")
	for _, rec := range recs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			rec.ID, rec.At.Format(time.RFC3339), rec.Kind, rec.Symbol, rec.RefID)
	}
	return tw.Flush()
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "setupctl version %s\n", version)
		},
	}
}
