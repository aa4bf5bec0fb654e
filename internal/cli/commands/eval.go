package commands

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/leapstack-labs/leaprepl/internal/engine"
)

// ErrEvaluationFailed is returned by eval when the script did not succeed.
// The failure itself has already been written.
var ErrEvaluationFailed = errors.New("evaluation failed")

// EvalOptions holds options for the eval command.
type EvalOptions struct {
	File       string
	Database   string
	Format     string
	SuggestAt  int
	DocumentAt int
}

// NewEvalCommand creates the eval command.
func NewEvalCommand() *cobra.Command {
	opts := &EvalOptions{}

	cmd := &cobra.Command{
		Use:   "eval [script]",
		Short: "Evaluate a script once",
		Long: `Evaluate a Starlark script against a configured database and print its output.

The script is taken from the argument, from --file, or from standard input
when neither is given. With --suggest-at or --document-at the script is not
run; completions or documentation at that byte offset are printed instead.`,
		Example: `  # Evaluate an expression
  leaprepl eval '1 + 1'

  # Query the demo database
  leaprepl eval -d demo 'db.select(field("name")).from_(table("customers")).fetch()'

  # Evaluate a file and print the JSON response
  leaprepl eval -f report.star -o json

  # Complete the end of a script
  leaprepl eval --suggest-at 3 'flo'`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEval(cmd, args, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.File, "file", "f", "", "Read the script from a file")
	cmd.Flags().StringVarP(&opts.Database, "database", "d", "", "Database name or id (default: the first configured)")
	cmd.Flags().StringVarP(&opts.Format, "output", "o", FormatText, "Output format (text|json|csv|markdown)")
	cmd.Flags().IntVar(&opts.SuggestAt, "suggest-at", -1, "Print completions at this offset instead of evaluating")
	cmd.Flags().IntVar(&opts.DocumentAt, "document-at", -1, "Print documentation at this offset instead of evaluating")

	_ = cmd.RegisterFlagCompletionFunc("output", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return outputFormats, cobra.ShellCompDirectiveNoFileComp
	})

	return cmd
}

func runEval(cmd *cobra.Command, args []string, opts *EvalOptions) error {
	if err := validFormat(opts.Format); err != nil {
		return err
	}
	script, err := readScript(cmd.InOrStdin(), args, opts.File)
	if err != nil {
		return err
	}

	cc, cleanup, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	db, err := resolveDatabase(cc.Catalog, opts.Database)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	req := engine.Request{Script: script}
	out := cmd.OutOrStdout()
	switch {
	case opts.SuggestAt >= 0:
		resp, err := cc.Service.Suggest(ctx, db, req.At(opts.SuggestAt))
		if err != nil {
			return err
		}
		return renderSuggestions(out, resp, opts.Format)

	case opts.DocumentAt >= 0:
		entries, err := cc.Service.Document(ctx, db, req.At(opts.DocumentAt))
		if err != nil {
			return err
		}
		return renderDocumentation(out, entries, opts.Format)
	}

	resp := cc.Service.Evaluate(ctx, db, req)
	if err := renderResponse(out, cmd.ErrOrStderr(), resp, opts.Format, newStyles(cmd.ErrOrStderr())); err != nil {
		return err
	}
	if resp.IsError() {
		return fmt.Errorf("%w: %s", ErrEvaluationFailed, resp.Status())
	}
	return nil
}

func readScript(stdin io.Reader, args []string, file string) (string, error) {
	switch {
	case len(args) > 0 && file != "":
		return "", errors.New("pass either a script or --file, not both")
	case len(args) > 0 && args[0] != "-":
		return args[0], nil
	case file != "":
		data, err := os.ReadFile(file)
		if err != nil {
			return "", fmt.Errorf("failed to read script: %w", err)
		}
		return string(data), nil
	default:
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("failed to read script from stdin: %w", err)
		}
		return string(data), nil
	}
}

func renderSuggestions(w io.Writer, resp engine.SuggestionResponse, format string) error {
	if format == FormatJSON {
		return writeIndentedJSON(w, resp)
	}
	if len(resp.Suggestions) == 0 {
		_, _ = fmt.Fprintln(w, "(no suggestions)")
		return nil
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Continuation", "Insert", "Matches type"})
	for _, s := range resp.Suggestions {
		t.AppendRow(table.Row{s.Continuation, s.Insert, s.MatchesType})
	}
	renderTable(t, format)
	_, _ = fmt.Fprintf(w, "(anchor %d, cursor %d)\n", resp.Anchor, resp.Cursor)
	return nil
}

func renderDocumentation(w io.Writer, entries []engine.DocumentationEntry, format string) error {
	if format == FormatJSON {
		if entries == nil {
			entries = []engine.DocumentationEntry{}
		}
		return writeIndentedJSON(w, entries)
	}
	if len(entries) == 0 {
		_, _ = fmt.Fprintln(w, "(no documentation)")
		return nil
	}
	for i, e := range entries {
		if i > 0 {
			_, _ = fmt.Fprintln(w)
		}
		_, _ = fmt.Fprintln(w, e.Signature)
		if doc := strings.TrimSpace(e.Documentation); doc != "" {
			_, _ = fmt.Fprintln(w, "    "+strings.ReplaceAll(doc, "\n", "\n    "))
		}
	}
	return nil
}

// renderTable renders t in the requested format.
func renderTable(t table.Writer, format string) {
	switch format {
	case FormatCSV:
		t.RenderCSV()
	case FormatMarkdown:
		t.RenderMarkdown()
	default:
		t.Render()
	}
}
