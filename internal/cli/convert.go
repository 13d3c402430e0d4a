package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/flywave/meshview/internal/viewer"
)

// ConvertOptions holds options for the convert command.
type ConvertOptions struct {
	MTL    string
	Output string
}

// NewConvertCommand creates the convert command.
func NewConvertCommand() *cobra.Command {
	opts := &ConvertOptions{}

	cmd := &cobra.Command{
		Use:   "convert <file>",
		Short: "Normalize a model and export it as GLB",
		Example: `  # Convert an FBX file
  meshview convert robot.fbx -o robot.glb

  # Convert an OBJ with its materials
  meshview convert chair.obj --mtl chair.mtl`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConvert(cmd, args[0], opts)
		},
	}

	cmd.Flags().StringVar(&opts.MTL, "mtl", "", "MTL file for an OBJ input")
	cmd.Flags().StringVarP(&opts.Output, "output", "o", viewer.ExportFilename, "Output GLB path")

	return cmd
}

func runConvert(cmd *cobra.Command, path string, opts *ConvertOptions) error {
	logger := GetLogger(cmd.Context())
	dl := &fileDownloader{path: opts.Output}

	c, err := loadHeadless(cmd.Context(), logger, dl, path, opts.MTL)
	if err != nil {
		return err
	}
	if err := c.ExportGLB(cmd.Context()); err != nil {
		return err
	}
	if dl.err != nil {
		return fmt.Errorf("write %s: %w", opts.Output, dl.err)
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%d bytes)\n", opts.Output, dl.written)
	return nil
}
