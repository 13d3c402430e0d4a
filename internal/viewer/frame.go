package viewer

// Tick is the per-frame callback. The mixer always advances by the fixed
// frame step, not by the wall time since the last frame.
func (c *Controller) Tick() {
	if c.state.Mixer != nil {
		c.state.Mixer.Update(c.frameStep)
	}
	c.controls.Update()
	c.renderer.Render(c.scene, c.camera)
}

// Resize updates the camera aspect ratio and the renderer viewport.
func (c *Controller) Resize(width, height int) {
	if width <= 0 || height <= 0 {
		return
	}
	c.camera.SetAspect(float32(width) / float32(height))
	c.renderer.SetSize(width, height)
}
