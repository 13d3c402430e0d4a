// Package gui holds the floating control panels bound to material colors.
// Panels are plain data; the browser page renders them.
package gui

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/lucasb-eyer/go-colorful"
)

var (
	ErrDestroyed      = errors.New("gui destroyed")
	ErrUnknownControl = errors.New("unknown control")
)

// ColorController is a color picker bound to a setter.
type ColorController struct {
	ID       string `json:"id"`
	Label    string `json:"label"`
	Value    string `json:"value"`
	onChange func(colorful.Color)
}

// Folder groups the controllers of one material.
type Folder struct {
	Name        string             `json:"name"`
	Open        bool               `json:"open"`
	Controllers []*ColorController `json:"controllers"`
	gui         *GUI
}

// GUI is the panel set of the loaded model.
type GUI struct {
	mu        sync.Mutex
	folders   []*Folder
	index     map[string]*ColorController
	destroyed bool
}

func New() *GUI {
	return &GUI{index: make(map[string]*ColorController)}
}

func (g *GUI) AddFolder(name string) *Folder {
	g.mu.Lock()
	defer g.mu.Unlock()
	f := &Folder{Name: name, gui: g}
	g.folders = append(g.folders, f)
	return f
}

// AddColor adds a picker initialised with hex; onChange receives every
// accepted value.
func (f *Folder) AddColor(label, hex string, onChange func(colorful.Color)) *ColorController {
	c := &ColorController{ID: uuid.NewString(), Label: label, Value: hex, onChange: onChange}
	f.gui.mu.Lock()
	f.Controllers = append(f.Controllers, c)
	f.gui.index[c.ID] = c
	f.gui.mu.Unlock()
	return c
}

func (f *Folder) Expand() *Folder {
	f.Open = true
	return f
}

// Folders returns a snapshot of the folders.
func (g *GUI) Folders() []*Folder {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]*Folder, len(g.folders))
	copy(out, g.folders)
	return out
}

// Snapshot deep-copies the folders so they can be encoded off the owning
// goroutine.
func (g *GUI) Snapshot() []Folder {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]Folder, 0, len(g.folders))
	for _, f := range g.folders {
		cp := Folder{Name: f.Name, Open: f.Open, Controllers: make([]*ColorController, len(f.Controllers))}
		for i, c := range f.Controllers {
			cc := *c
			cc.onChange = nil
			cp.Controllers[i] = &cc
		}
		out = append(out, cp)
	}
	return out
}

func (g *GUI) Controller(id string) (*ColorController, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	c, ok := g.index[id]
	return c, ok
}

// SetValue parses hex, stores it and invokes the bound setter.
func (g *GUI) SetValue(id, hex string) error {
	g.mu.Lock()
	if g.destroyed {
		g.mu.Unlock()
		return ErrDestroyed
	}
	c, ok := g.index[id]
	if !ok {
		g.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownControl, id)
	}
	col, err := colorful.Hex(hex)
	if err != nil {
		g.mu.Unlock()
		return fmt.Errorf("invalid color %q: %w", hex, err)
	}
	c.Value = col.Hex()
	onChange := c.onChange
	g.mu.Unlock()

	if onChange != nil {
		onChange(col)
	}
	return nil
}

// Destroy removes every folder. The GUI cannot be reused afterwards.
func (g *GUI) Destroy() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.folders = nil
	g.index = make(map[string]*ColorController)
	g.destroyed = true
}

func (g *GUI) Destroyed() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.destroyed
}
