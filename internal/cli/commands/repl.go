package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/leapstack-labs/leaprepl/internal/database"
	"github.com/leapstack-labs/leaprepl/internal/engine"
	"github.com/leapstack-labs/leaprepl/internal/starshell"
)

const (
	prompt         = "leaprepl> "
	continuePrompt = "     ...> "
)

// REPLOptions holds options for the repl command.
type REPLOptions struct {
	Database string
	Format   string
	History  string
}

// NewREPLCommand creates the repl command.
func NewREPLCommand() *cobra.Command {
	opts := &REPLOptions{}

	cmd := &cobra.Command{
		Use:   "repl",
		Short: "Start an interactive scripting session",
		Long: `Start an interactive Starlark session bound to a configured database.

The session lives for the whole REPL: each input runs once, against the
bindings left by earlier inputs. Effects of an input that fails part way
are kept. Unless isolation is turned off, the session is held to the
sandbox policy of its database. Tab completes names and members.`,
		Example: `  # Start a session on the first configured database
  leaprepl repl

  # Start on a named database with CSV output for results
  leaprepl repl -d warehouse -o csv`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runREPL(cmd, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.Database, "database", "d", "", "Database name or id (default: the first configured)")
	cmd.Flags().StringVarP(&opts.Format, "output", "o", FormatText, "Output format (text|json|csv|markdown)")
	cmd.Flags().StringVar(&opts.History, "history", "", "History file (default: ~/.leaprepl_history)")

	_ = cmd.RegisterFlagCompletionFunc("output", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return outputFormats, cobra.ShellCompDirectiveNoFileComp
	})

	return cmd
}

func runREPL(cmd *cobra.Command, opts *REPLOptions) error {
	if err := validFormat(opts.Format); err != nil {
		return err
	}

	cc, err := NewCommandContextWithoutService(cmd)
	if err != nil {
		return err
	}

	db, err := resolveDatabase(cc.Catalog, opts.Database)
	if err != nil {
		return err
	}

	eng, err := newSessionEngine(cc.Cfg, cc.Logger)
	if err != nil {
		return err
	}

	sess := &replSession{
		engine:  eng,
		catalog: cc.Catalog,
		format:  opts.Format,
		out:     cmd.OutOrStdout(),
		errOut:  cmd.ErrOrStderr(),
		styles:  newStyles(cmd.OutOrStdout()),
	}
	if err := sess.open(cmd.Context(), db); err != nil {
		return err
	}
	defer sess.close()

	history := opts.History
	if history == "" {
		if home, err := os.UserHomeDir(); err == nil {
			history = filepath.Join(home, ".leaprepl_history")
		}
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          prompt,
		HistoryFile:     history,
		AutoComplete:    &completer{sess: sess},
		InterruptPrompt: "^C",
		EOFPrompt:       ".quit",
		Stdout:          cmd.OutOrStdout(),
		Stderr:          cmd.ErrOrStderr(),
	})
	if err != nil {
		return fmt.Errorf("failed to initialize REPL: %w", err)
	}
	defer func() { _ = rl.Close() }()

	_, _ = fmt.Fprintf(sess.out, "leaprepl (database: %s)\n", db)
	_, _ = fmt.Fprintln(sess.out, "Type .help for commands, .quit to exit")
	_, _ = fmt.Fprintln(sess.out)

	var buf strings.Builder
	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			buf.Reset()
			rl.SetPrompt(prompt)
			continue
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read input: %w", err)
		}

		if buf.Len() == 0 && strings.HasPrefix(strings.TrimSpace(line), ".") {
			if quit := sess.dotCommand(cmd.Context(), strings.TrimSpace(line)); quit {
				break
			}
			continue
		}

		buf.WriteString(line)
		buf.WriteString("\n")
		if starshell.Unfinished(buf.String()) {
			rl.SetPrompt(continuePrompt)
			continue
		}
		rl.SetPrompt(prompt)

		input := buf.String()
		buf.Reset()
		if strings.TrimSpace(input) == "" {
			continue
		}
		sess.submit(cmd.Context(), input)
	}

	return nil
}

// replSession is an interactive session and the inputs it has run.
type replSession struct {
	engine  *engine.Evaluator
	catalog *database.Catalog
	format  string

	live    *engine.Interactive
	history []string

	out    io.Writer
	errOut io.Writer
	styles styles
}

// open binds the REPL to a new session on db. The current session is kept
// when the new one cannot be set up.
func (s *replSession) open(ctx context.Context, db *database.Descriptor) error {
	live, err := s.engine.Open(ctx, db)
	if err != nil {
		return fmt.Errorf("failed to open a session on %s: %w", db, err)
	}
	s.close()
	s.live = live
	s.history = nil
	return nil
}

func (s *replSession) close() {
	if s.live != nil {
		_ = s.live.Close()
		s.live = nil
	}
}

func (s *replSession) database() *database.Descriptor {
	if s.live == nil {
		return nil
	}
	return s.live.Database()
}

// submit runs input in the live session. Interrupting cancels the
// evaluation; the session survives it.
func (s *replSession) submit(parent context.Context, input string) {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt)
	defer stop()

	resp := s.live.Evaluate(ctx, input)
	if _, ok := resp.(*engine.ParseError); !ok {
		s.history = append(s.history, input)
	}
	if err := renderResponse(s.out, s.errOut, resp, s.format, s.styles); err != nil {
		_, _ = fmt.Fprintf(s.errOut, "Error: %v\n", err)
	}
}

// dotCommand runs a REPL command and reports whether the session should
// end.
func (s *replSession) dotCommand(ctx context.Context, line string) bool {
	parts := strings.Fields(line)
	command := strings.ToLower(parts[0])
	arg := strings.TrimSpace(strings.TrimPrefix(line, parts[0]))

	switch command {
	case ".quit", ".exit":
		return true

	case ".help":
		printREPLHelp(s.out)

	case ".databases":
		renderDatabases(s.out, s.catalog.All(), s.database(), FormatText)

	case ".use":
		if arg == "" {
			_, _ = fmt.Fprintln(s.errOut, "Usage: .use <database>")
			return false
		}
		db, err := s.catalog.Lookup(arg)
		if err != nil {
			_, _ = fmt.Fprintf(s.errOut, "Error: %v\n", err)
			return false
		}
		if err := s.open(ctx, db); err != nil {
			_, _ = fmt.Fprintf(s.errOut, "Error: %v\n", err)
			return false
		}
		_, _ = fmt.Fprintf(s.out, "Using %s; new session started\n", db)

	case ".doc":
		if arg == "" {
			_, _ = fmt.Fprintln(s.errOut, "Usage: .doc <expression>")
			return false
		}
		entries, err := s.live.Document(arg, len(arg))
		if err != nil {
			_, _ = fmt.Fprintf(s.errOut, "Error: %v\n", err)
			return false
		}
		_ = renderDocumentation(s.out, entries, FormatText)

	case ".script":
		_, _ = fmt.Fprint(s.out, ensureNewline(strings.Join(s.history, "")))

	case ".reset":
		if err := s.open(ctx, s.database()); err != nil {
			_, _ = fmt.Fprintf(s.errOut, "Error: %v\n", err)
			return false
		}
		_, _ = fmt.Fprintln(s.out, "New session started")

	case ".load":
		if arg == "" {
			_, _ = fmt.Fprintln(s.errOut, "Usage: .load <file>")
			return false
		}
		data, err := os.ReadFile(arg)
		if err != nil {
			_, _ = fmt.Fprintf(s.errOut, "Error: %v\n", err)
			return false
		}
		s.submit(ctx, ensureNewline(string(data)))

	case ".clear":
		_, _ = fmt.Fprint(s.out, "\033[H\033[2J")

	default:
		_, _ = fmt.Fprintf(s.errOut, "Unknown command: %s (type .help for commands)\n", command)
	}
	return false
}

func printREPLHelp(w io.Writer) {
	help := `
Commands:
  .help           Show this help message
  .databases      List configured databases
  .use <name>     Start a new session on another database
  .doc <expr>     Show documentation for an expression
  .script         Print the inputs run in this session
  .reset          Start a new session on the same database
  .load <file>    Evaluate a file as part of the session
  .clear          Clear the screen
  .quit / .exit   Exit the REPL

Tips:
  - Blocks (def, if, for) end with an empty line
  - Ctrl+C cancels a running evaluation
  - Tab completes names and members
`
	_, _ = fmt.Fprintln(w, help)
}

var dotCommands = readline.NewPrefixCompleter(
	readline.PcItem(".help"),
	readline.PcItem(".databases"),
	readline.PcItem(".use"),
	readline.PcItem(".doc"),
	readline.PcItem(".script"),
	readline.PcItem(".reset"),
	readline.PcItem(".load"),
	readline.PcItem(".clear"),
	readline.PcItem(".quit"),
	readline.PcItem(".exit"),
)

// completer completes dot-commands locally and everything else against
// the live session.
type completer struct {
	sess *replSession
}

// Do implements readline.AutoCompleter.
func (c *completer) Do(line []rune, pos int) ([][]rune, int) {
	if strings.HasPrefix(strings.TrimSpace(string(line)), ".") {
		return dotCommands.Do(line, pos)
	}

	resp, err := c.sess.live.Suggest(string(line), len(string(line[:pos])))
	if err != nil || len(resp.Suggestions) == 0 {
		return nil, 0
	}

	out := make([][]rune, 0, len(resp.Suggestions))
	length := 0
	for _, s := range resp.Suggestions {
		out = append(out, []rune(s.Insert))
		if n := len([]rune(s.Continuation)) - len([]rune(s.Insert)); n > length {
			length = n
		}
	}
	return out, length
}

func renderDatabases(w io.Writer, dbs []*database.Descriptor, current *database.Descriptor, format string) {
	if len(dbs) == 0 {
		_, _ = fmt.Fprintln(w, "(no databases)")
		return
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"", "ID", "Name", "Dialect", "Description", "Sandbox"})
	for _, d := range dbs {
		marker := ""
		if current != nil && d.ID == current.ID {
			marker = "*"
		}
		t.AppendRow(table.Row{marker, d.ID, d.Name, d.Dialect, d.Description, d.SandboxHostPort})
	}
	renderTable(t, format)
}
