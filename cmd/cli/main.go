package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/iho/balancekeeper/internal/adapter/http/dto"
)

var (
	green  = color.New(color.FgGreen)
	yellow = color.New(color.FgYellow, color.Bold)
	red    = color.New(color.FgRed)
)

// errDiscrepancies makes reconcile exit non-zero when balances disagree.
var errDiscrepancies = errors.New("balances do not reconcile")

type client struct {
	baseURL string
	http    *http.Client
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		red.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		baseURL string
		timeout time.Duration
	)

	rootCmd := &cobra.Command{
		Use:           "balancectl",
		Short:         "BalanceKeeper CLI tool",
		Long:          `A command line interface for interacting with the BalanceKeeper API.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&baseURL, "url", "http://localhost:8080", "Base URL of the BalanceKeeper API")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Second, "Request timeout")

	newClient := func() *client {
		return &client{baseURL: strings.TrimRight(baseURL, "/"), http: &http.Client{Timeout: timeout}}
	}

	rootCmd.AddCommand(
		balancesCmd(newClient),
		accountsCmd(newClient),
		reconcileCmd(newClient),
		aggregateCmd(newClient),
		recalculateCmd(newClient),
		watchCmd(newClient),
	)

	return rootCmd
}

func balancesCmd(newClient func() *client) *cobra.Command {
	return &cobra.Command{
		Use:   "balances",
		Short: "Show current balances",
		RunE: func(cmd *cobra.Command, args []string) error {
			var snap dto.SnapshotResponse
			if err := newClient().do(cmd.Context(), http.MethodGet, "/api/v1/balances", nil, &snap); err != nil {
				return err
			}
			printSnapshot(cmd.OutOrStdout(), snap)
			return nil
		},
	}
}

func accountsCmd(newClient func() *client) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "accounts",
		Short: "Account registry operations",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List ledger entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			var entries []dto.EntryResponse
			if err := newClient().do(cmd.Context(), http.MethodGet, "/api/v1/accounts/", nil, &entries); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%-24s %-4s %-9s %-9s %20s\n", "ACCOUNT", "CCY", "MODE", "STATUS", "BALANCE")
			for _, e := range entries {
				line := fmt.Sprintf("%-24s %-4s %-9s %-9s %20s\n", truncate(e.AccountID, 24), e.Currency, e.Mode, e.Status, e.CurrentBalance.String())
				if e.Status == "degraded" {
					yellow.Fprint(out, line)
				} else {
					fmt.Fprint(out, line)
				}
			}
			return nil
		},
	}

	get := &cobra.Command{
		Use:   "get <id>",
		Short: "Show one ledger entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var entry dto.EntryResponse
			if err := newClient().do(cmd.Context(), http.MethodGet, "/api/v1/accounts/"+url.PathEscape(args[0]), nil, &entry); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), entry)
		},
	}

	var (
		currency string
		balance  string
	)
	register := &cobra.Command{
		Use:   "register <id>",
		Short: "Register an account with its displayed balance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := decimal.NewFromString(balance)
			if err != nil {
				return fmt.Errorf("invalid balance: %w", err)
			}
			req := dto.RegisterAccountsRequest{Accounts: []dto.AccountRequest{{
				ID:               args[0],
				Currency:         currency,
				DisplayedBalance: amount,
			}}}
			var results []dto.OperationResponse
			if err := newClient().do(cmd.Context(), http.MethodPost, "/api/v1/accounts/", req, &results); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), results)
		},
	}
	register.Flags().StringVar(&currency, "currency", "USD", "ISO 4217 currency code")
	register.Flags().StringVar(&balance, "balance", "0", "Balance currently displayed for the account")

	opening := &cobra.Command{
		Use:   "opening <id> <amount>",
		Short: "Set an explicit opening balance",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := decimal.NewFromString(args[1])
			if err != nil {
				return fmt.Errorf("invalid amount: %w", err)
			}
			var result dto.OperationResponse
			path := "/api/v1/accounts/" + url.PathEscape(args[0]) + "/opening-balance"
			if err := newClient().do(cmd.Context(), http.MethodPut, path, dto.OpeningBalanceRequest{Amount: amount}, &result); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), result)
		},
	}

	mode := &cobra.Command{
		Use:       "mode <id> <manual|imported>",
		Short:     "Switch the calculation mode",
		Args:      cobra.ExactArgs(2),
		ValidArgs: []string{"manual", "imported"},
		RunE: func(cmd *cobra.Command, args []string) error {
			var entry dto.EntryResponse
			path := "/api/v1/accounts/" + url.PathEscape(args[0]) + "/mode"
			if err := newClient().do(cmd.Context(), http.MethodPut, path, dto.ModeRequest{Mode: args[1]}, &entry); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), entry)
		},
	}

	remove := &cobra.Command{
		Use:   "remove <id>",
		Short: "Remove an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := newClient().do(cmd.Context(), http.MethodDelete, "/api/v1/accounts/"+url.PathEscape(args[0]), nil, nil); err != nil {
				return err
			}
			green.Fprintf(cmd.OutOrStdout(), "removed %s\n", args[0])
			return nil
		},
	}

	cmd.AddCommand(list, get, register, opening, mode, remove)
	return cmd
}

func reconcileCmd(newClient func() *client) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile [id]",
		Short: "Compare recorded balances with the transaction log",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			c := newClient()

			if len(args) == 1 {
				var res dto.ReconciliationResponse
				if err := c.do(cmd.Context(), http.MethodGet, "/api/v1/accounts/"+url.PathEscape(args[0])+"/reconcile", nil, &res); err != nil {
					return err
				}
				printReconciliation(out, res)
				if !res.IsReconciled {
					return errDiscrepancies
				}
				return nil
			}

			var report dto.ReconciliationReportResponse
			if err := c.do(cmd.Context(), http.MethodGet, "/api/v1/reconcile", nil, &report); err != nil {
				return err
			}
			fmt.Fprintf(out, "Reconciled %d of %d accounts\n", report.ReconciledAccounts, report.TotalAccounts)
			for _, d := range report.Discrepancies {
				printReconciliation(out, d)
			}
			if len(report.Discrepancies) > 0 {
				return errDiscrepancies
			}
			green.Fprintln(out, "All balances reconcile")
			return nil
		},
	}
}

func aggregateCmd(newClient func() *client) *cobra.Command {
	var category, window string

	cmd := &cobra.Command{
		Use:   "aggregate <account-id>",
		Short: "Show a balance, category or monthly aggregate",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{"account_id": {args[0]}}
			if category != "" {
				q.Set("category_id", category)
			}
			if window != "" {
				q.Set("window", window)
			}
			var resp dto.AggregateResponse
			if err := newClient().do(cmd.Context(), http.MethodGet, "/api/v1/aggregates?"+q.Encode(), nil, &resp); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), resp.Value.String())
			return nil
		},
	}
	cmd.Flags().StringVar(&category, "category", "", "Category ID")
	cmd.Flags().StringVar(&window, "window", "", "Month window as YYYY-MM")

	return cmd
}

func recalculateCmd(newClient func() *client) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "recalculate",
		Short: "Recompute balances from a JSON file of accounts and transactions",
		RunE: func(cmd *cobra.Command, args []string) error {
			var in io.Reader = cmd.InOrStdin()
			if file != "" && file != "-" {
				f, err := os.Open(file)
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}

			var req dto.RecalculateRequest
			if err := json.NewDecoder(in).Decode(&req); err != nil {
				return fmt.Errorf("invalid recalculate payload: %w", err)
			}

			var resp dto.RecalculateResponse
			if err := newClient().do(cmd.Context(), http.MethodPost, "/api/v1/recalculate", req, &resp); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Recalculated %d accounts, %d transactions skipped\n", len(resp.Results), len(resp.Skipped))
			for _, s := range resp.Skipped {
				yellow.Fprintf(out, "  skipped %s on %s: %s\n", s.TransactionID, s.AccountID, s.Reason)
			}
			if len(resp.Degraded) > 0 {
				yellow.Fprintf(out, "Degraded: %s\n", strings.Join(resp.Degraded, ", "))
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "-", "Payload file, - for stdin")

	return cmd
}

func watchCmd(newClient func() *client) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Stream balance snapshots as they are published",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newClient()
			c.http.Timeout = 0

			req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet, c.baseURL+"/api/v1/balances/stream", nil)
			if err != nil {
				return err
			}
			resp, err := c.http.Do(req)
			if err != nil {
				return fmt.Errorf("error making request: %w", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("stream failed (status: %d)", resp.StatusCode)
			}

			return readStream(resp.Body, func(snap dto.SnapshotResponse) {
				printSnapshot(cmd.OutOrStdout(), snap)
			})
		},
	}
}

// readStream decodes server-sent snapshot events until r ends.
func readStream(r io.Reader, fn func(dto.SnapshotResponse)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		data, ok := strings.CutPrefix(scanner.Text(), "data: ")
		if !ok {
			continue
		}
		var snap dto.SnapshotResponse
		if err := json.Unmarshal([]byte(data), &snap); err != nil {
			return fmt.Errorf("failed to parse snapshot: %w", err)
		}
		fn(snap)
	}

	return scanner.Err()
}

func (c *client) do(ctx context.Context, method, path string, body, out any) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("error making request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode >= 300 && resp.StatusCode != http.StatusMultiStatus {
		var apiErr dto.ErrorResponse
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s (status: %d): %s", apiErr.Error, resp.StatusCode, apiErr.Message)
		}
		return fmt.Errorf("request failed (status: %d): %s", resp.StatusCode, truncate(string(data), 200))
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

func printSnapshot(w io.Writer, snap dto.SnapshotResponse) {
	ids := make([]string, 0, len(snap.Balances))
	for id := range snap.Balances {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	degraded := make(map[string]bool, len(snap.Degraded))
	for _, id := range snap.Degraded {
		degraded[id] = true
	}

	fmt.Fprintf(w, "Snapshot #%d %s\n", snap.Sequence, snap.Cause)
	for _, id := range ids {
		line := fmt.Sprintf("  %-24s %20s\n", truncate(id, 24), snap.Balances[id].String())
		if degraded[id] {
			yellow.Fprint(w, line)
		} else {
			fmt.Fprint(w, line)
		}
	}
}

func printReconciliation(w io.Writer, r dto.ReconciliationResponse) {
	if r.IsReconciled {
		green.Fprintf(w, "%s OK %s\n", r.AccountID, r.RecordedBalance.String())
		return
	}
	red.Fprintf(w, "%s MISMATCH recorded=%s calculated=%s difference=%s skipped=%d\n",
		r.AccountID, r.RecordedBalance.String(), r.CalculatedBalance.String(), r.Difference.String(), len(r.Skipped))
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
