package main

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/richinsley/promptrelay/server"
)

func newServeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve POST /generate",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.newClient()
			if err != nil {
				return err
			}
			r, err := a.newRelay(c)
			if err != nil {
				return err
			}

			if !a.logger.Enabled(cmd.Context(), slog.LevelDebug) {
				gin.SetMode(gin.ReleaseMode)
			}
			router := server.NewRouter(server.Options{
				Generator:    r,
				Probe:        c,
				AllowOrigins: a.cfg.CORS.AllowOrigins,
				Logger:       a.logger,
			})
			srv := server.NewHTTPServer(a.cfg.Listen, router, a.cfg.Engine.Timeout)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a.logger.Info("relaying to engine",
				"engine", c.BaseURL(),
				"template", templateName(a.cfg.Template.Path),
				"targets", r.Targets(),
				"integrity", a.cfg.IntegrityMode(),
			)
			return server.Run(ctx, srv, a.logger)
		},
	}

	cmd.Flags().String("listen", "", "address to listen on (default 0.0.0.0:8001)")
	_ = a.v.BindPFlag("listen", cmd.Flags().Lookup("listen"))
	return cmd
}

func templateName(path string) string {
	if path == "" {
		return "built-in"
	}
	return path
}
