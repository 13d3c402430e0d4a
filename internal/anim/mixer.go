// Package anim drives animation clips attached to a loaded model.
package anim

import (
	"math"

	"github.com/flywave/meshview/internal/scene"
)

// Clip is a named, time-based animation. Tracks counts the animated channels.
type Clip struct {
	Name     string
	Duration float64
	Tracks   int
}

// Action plays one clip on a mixer.
type Action struct {
	clip    *Clip
	time    float64
	running bool
}

func (a *Action) Clip() *Clip { return a.clip }

// Time is the local playback position in seconds.
func (a *Action) Time() float64 { return a.time }

func (a *Action) IsRunning() bool { return a.running }

func (a *Action) Play() *Action {
	a.running = true
	return a
}

// Stop halts playback and rewinds.
func (a *Action) Stop() *Action {
	a.running = false
	a.time = 0
	return a
}

// Mixer advances the actions bound to one root node.
type Mixer struct {
	root    *scene.Node
	actions []*Action
	time    float64
}

func NewMixer(root *scene.Node) *Mixer {
	return &Mixer{root: root}
}

func (m *Mixer) Root() *scene.Node { return m.root }

// Time is the accumulated mixer time in seconds.
func (m *Mixer) Time() float64 { return m.time }

// ClipAction returns the action for clip, creating it on first use.
func (m *Mixer) ClipAction(clip *Clip) *Action {
	for _, a := range m.actions {
		if a.clip == clip {
			return a
		}
	}
	a := &Action{clip: clip}
	m.actions = append(m.actions, a)
	return a
}

func (m *Mixer) Actions() []*Action {
	return m.actions
}

// Running returns the actions currently playing.
func (m *Mixer) Running() []*Action {
	var out []*Action
	for _, a := range m.actions {
		if a.running {
			out = append(out, a)
		}
	}
	return out
}

// Update advances every running action by dt seconds, wrapping at the clip
// duration.
func (m *Mixer) Update(dt float64) {
	m.time += dt
	for _, a := range m.actions {
		if !a.running {
			continue
		}
		a.time += dt
		if d := a.clip.Duration; d > 0 && a.time >= d {
			a.time = math.Mod(a.time, d)
		}
	}
}

func (m *Mixer) StopAllAction() {
	for _, a := range m.actions {
		a.Stop()
	}
}
