package viewer

import (
	"context"

	"github.com/flywave/meshview/internal/gltfio"
)

// ExportGLB encodes the loaded model and offers it as ExportFilename. The
// download handle is revoked, and the status hidden, after the release
// delay.
func (c *Controller) ExportGLB(ctx context.Context) error {
	if c.state.Model == nil {
		c.notifier.Notify(NoticeNotReady)
		return ErrNoModel
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	c.status.Show(statusExporting)
	data, err := gltfio.EncodeGLB(c.state.Model)
	if err != nil {
		c.logger.Error("export failed", "error", err)
		c.status.Hide()
		c.notifier.Notify("导出失败: " + err.Error())
		return err
	}

	handle := ""
	if c.downloader != nil {
		handle = c.downloader.Offer(ExportFilename, ExportMimeType, data)
	}
	c.logger.Info("model exported", "file", ExportFilename, "bytes", len(data))

	c.scheduler.After(c.releaseDelay, func() {
		if c.downloader != nil {
			c.downloader.Revoke(handle)
		}
		c.status.Hide()
	})
	return nil
}
