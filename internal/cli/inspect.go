package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/flywave/meshview/internal/scene"
	"github.com/flywave/meshview/internal/viewer"
)

// NewInspectCommand creates the inspect command.
func NewInspectCommand() *cobra.Command {
	var mtl string

	cmd := &cobra.Command{
		Use:   "inspect <file>",
		Short: "Print the meshes, materials and animations of a model",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := loadHeadless(cmd.Context(), GetLogger(cmd.Context()), nil, args[0], mtl)
			if err != nil {
				return err
			}
			return renderInspect(cmd.OutOrStdout(), args[0], c)
		},
	}
	cmd.Flags().StringVar(&mtl, "mtl", "", "MTL file for an OBJ input")
	return cmd
}

func newTable(w io.Writer, title string) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.SetTitle(title)
	return t
}

func renderInspect(w io.Writer, path string, c *viewer.Controller) error {
	st := c.State()
	model := st.Model
	if model == nil {
		return viewer.ErrNoModel
	}

	box := scene.ComputeBox(model)
	size := scene.BoxSize(&box)
	scale := float64(model.Scale[0])

	summary := newTable(w, path)
	summary.AppendRows([]table.Row{
		{"meshes", model.MeshCount()},
		{"animations", len(st.Clips)},
		{"size", fmt.Sprintf("%.3f x %.3f x %.3f", size[0]/scale, size[1]/scale, size[2]/scale)},
		{"scale", fmt.Sprintf("%.4f", scale)},
	})
	summary.Render()

	meshes := newTable(w, "meshes")
	meshes.AppendHeader(table.Row{"Name", "Vertices", "Triangles", "Groups", "Materials"})
	var materials []*scene.Material
	seen := make(map[*scene.Material]bool)
	model.Traverse(func(n *scene.Node) {
		if !n.IsMesh() {
			return
		}
		names := make([]string, 0, len(n.Materials))
		for _, m := range n.Materials {
			names = append(names, m.Name)
			if !seen[m] {
				seen[m] = true
				materials = append(materials, m)
			}
		}
		meshes.AppendRow(table.Row{n.Name, len(n.Geometry.Positions), n.Geometry.TriangleCount(), len(n.Geometry.Groups), strings.Join(names, ", ")})
	})
	meshes.Render()

	mats := newTable(w, "materials")
	mats.AppendHeader(table.Row{"Name", "Kind", "Color", "Opacity", "Texture"})
	for _, m := range materials {
		texture := m.MapName
		if texture == "" && m.HasTexture() {
			texture = "(embedded)"
		}
		mats.AppendRow(table.Row{m.Name, m.Kind.String(), m.ColorHex(), m.Opacity, texture})
	}
	mats.Render()

	if len(st.Clips) > 0 {
		clips := newTable(w, "animations")
		clips.AppendHeader(table.Row{"Name", "Duration", "Tracks", "Playing"})
		for i, clip := range st.Clips {
			clips.AppendRow(table.Row{clip.Name, fmt.Sprintf("%.3fs", clip.Duration), clip.Tracks, i == 0})
		}
		clips.Render()
	}
	return nil
}
