package cli

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/flywave/meshview/internal/server"
)

// NewServeCommand creates the serve command.
func NewServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the browser viewer",
		Example: `  # Serve on the default address
  meshview serve

  # Serve on another port at 30 frames per second
  meshview serve --addr :3000 --fps 30`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := GetConfig(cmd.Context())
			logger := GetLogger(cmd.Context())

			srv := server.New(server.Config{
				Addr:         cfg.Server.Addr,
				FPS:          cfg.Render.FPS,
				ReleaseDelay: cfg.Export.ReleaseDelay,
				MaxUpload:    cfg.Server.MaxUpload,
				Logger:       logger,
			})

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return srv.Serve(ctx)
		},
	}

	cmd.Flags().String("addr", server.DefaultAddr, "Address to listen on")
	cmd.Flags().Int("fps", 60, "Frames per second of the viewer loop")
	cmd.Flags().Duration("release-delay", time.Second, "How long an export stays downloadable")
	cmd.Flags().Int64("max-upload", server.DefaultMaxUpload, "Largest accepted upload in bytes")

	return cmd
}
