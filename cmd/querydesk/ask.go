package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/dusk-indust/querydesk/internal/client"
	"github.com/dusk-indust/querydesk/internal/fault"
	"github.com/dusk-indust/querydesk/internal/orchestrator"
	"github.com/dusk-indust/querydesk/internal/table"
)

type askOptions struct {
	server  string
	scope   string
	json    bool
	maxRows int
	quiet   bool
}

func newAskCmd(c *cli) *cobra.Command {
	opts := askOptions{}
	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Answer one question and print the result",
		Example: `  querydesk ask "How many URLs in total?"
  querydesk ask --scope 123456789 "Top 5 pages by sessions last week"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			q := orchestrator.Query{Text: strings.Join(args, " "), ScopeID: opts.scope}
			if opts.server != "" {
				return askRemote(ctx, client.New(opts.server), q, opts, cmd.OutOrStdout(), cmd.ErrOrStderr())
			}

			shutdown, err := c.startTelemetry()
			if err != nil {
				return err
			}
			defer shutdown(context.Background())

			var pr *orchestrator.ProgressReporter
			if !opts.quiet {
				pr = orchestrator.NewProgressReporter()
			}
			a, err := build(ctx, c.cfg, c.logger, pr)
			if err != nil {
				return err
			}
			return ask(ctx, a, pr, q, opts, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
	cmd.Flags().StringVar(&opts.server, "server", "", "ask a running querydesk server at this URL instead of answering locally")
	cmd.Flags().StringVar(&opts.scope, "scope", "", "GA4 property id for analytics and fusion questions")
	cmd.Flags().BoolVar(&opts.json, "json", false, "print the full response as JSON")
	cmd.Flags().IntVar(&opts.maxRows, "max-rows", 20, "rows to print in the result table")
	cmd.Flags().BoolVarP(&opts.quiet, "quiet", "q", false, "do not print progress")
	return cmd
}

// ask routes q, streaming progress lines to errw while it runs, and prints
// the response to out.
func ask(ctx context.Context, a *app, pr *orchestrator.ProgressReporter, q orchestrator.Query,
	opts askOptions, out, errw io.Writer) error {
	done := make(chan struct{})
	if pr != nil {
		go func() {
			defer close(done)
			for ev := range pr.Subscribe() {
				fmt.Fprintln(errw, orchestrator.FormatProgress(ev))
			}
		}()
	} else {
		close(done)
	}

	resp, err := a.orch.Route(ctx, q)
	if pr != nil {
		pr.Close()
	}
	<-done
	return printResult(resp, err, opts, out, errw)
}

// askRemote streams q from a server, printing progress lines as they arrive.
func askRemote(ctx context.Context, cl *client.Client, q orchestrator.Query, opts askOptions, out, errw io.Writer) error {
	var onProgress func(orchestrator.ProgressEvent)
	if !opts.quiet {
		onProgress = func(ev orchestrator.ProgressEvent) {
			fmt.Fprintln(errw, orchestrator.FormatProgress(ev))
		}
	}
	resp, err := cl.Stream(ctx, q, onProgress)
	return printResult(resp, err, opts, out, errw)
}

func printResult(resp *orchestrator.Response, err error, opts askOptions, out, errw io.Writer) error {
	if opts.json {
		if werr := printJSON(out, resp, err); werr != nil {
			return werr
		}
		return err
	}
	if err != nil {
		if hint := fault.Hint(fault.KindOf(err)); hint != "" {
			fmt.Fprintf(errw, "hint: %s\n", hint)
		}
		return err
	}

	fmt.Fprintln(out, resp.Answer)
	if resp.Data != nil && len(resp.Data.Headers) > 0 {
		fmt.Fprintln(out)
		fmt.Fprintln(out, renderTable(*resp.Data, opts.maxRows))
	}
	fmt.Fprintf(out, "\n%s steps: %d\n", resp.Meta.Intent, resp.Meta.Steps)
	return nil
}

func printJSON(w io.Writer, resp *orchestrator.Response, err error) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err == nil {
		return enc.Encode(resp)
	}
	body := map[string]any{
		"error": err.Error(),
		"kind":  fault.KindOf(err).String(),
	}
	if resp != nil {
		body["meta"] = resp.Meta
	}
	return enc.Encode(body)
}

var headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
var cellStyle = lipgloss.NewStyle().Padding(0, 1)

// renderTable draws up to maxRows rows of t with a trailing count line when
// rows were cut.
func renderTable(t table.Table, maxRows int) string {
	shown := t
	if maxRows > 0 {
		shown = t.Head(maxRows)
	}
	rows := make([][]string, len(shown.Rows))
	for i, r := range shown.Rows {
		cells := make([]string, len(shown.Headers))
		for j, h := range shown.Headers {
			cells[j] = fmt.Sprint(r[h])
		}
		rows[i] = cells
	}

	lt := lgtable.New().
		Border(lipgloss.NormalBorder()).
		Headers(shown.Headers...).
		Rows(rows...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == lgtable.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})

	s := lt.String()
	if shown.Len() < t.Len() {
		s += fmt.Sprintf("\n(%d of %d rows)", shown.Len(), t.Len())
	}
	return s
}
