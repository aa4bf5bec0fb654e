package commands

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/leapstack-labs/leaprepl/internal/server"
)

// NewServeCommand creates the serve command.
func NewServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the evaluation API over HTTP",
		Long: `Start the HTTP API.

Endpoints:
- GET  /api/csrf                      issue a CSRF token
- GET  /api/databases                 list configured databases
- POST /api/evaluate, /api/suggest, /api/document
- POST /api/databases/{id}/evaluate, .../suggest, .../document

POST bodies are {"script": "...", "cursorPosition": n} and must carry the
CSRF token in the X-CSRF-Token header.`,
		Example: `  # Serve on the configured port (default 8080)
  leaprepl serve

  # Serve on another port without worker processes
  leaprepl serve --port 9000 --isolation in-process`,
		RunE: runServe,
	}

	cmd.Flags().Int("port", 0, "Port to serve on (default: 8080, or REPL_PORT)")

	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	cc, cleanup, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	secret := cc.Cfg.Server.SessionKey
	if secret == "" {
		secret = uuid.NewString() + uuid.NewString()
		cc.Logger.Debug("generated a session key; sessions end when the server stops")
	}

	srv := server.New(server.Config{
		Service:        cc.Service,
		Catalog:        cc.Catalog,
		Port:           cc.Cfg.Server.Port,
		BodyLimit:      cc.Cfg.Server.BodyLimit,
		MaxConnections: cc.Cfg.Server.MaxConnections,
		SessionSecret:  secret,
		Logger:         cc.Logger,
	})

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cc.Logger.Info("serving databases",
		slog.Int("count", len(cc.Catalog.All())),
		slog.String("isolation", cc.Cfg.Worker.Isolation))
	return srv.Serve(ctx)
}
