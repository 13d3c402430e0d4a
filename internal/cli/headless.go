package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/flywave/meshview/internal/loader"
	"github.com/flywave/meshview/internal/viewer"
)

// noticeLog turns viewer notices into warnings.
type noticeLog struct {
	logger  *slog.Logger
	notices []string
}

func (n *noticeLog) Notify(msg string) {
	n.notices = append(n.notices, msg)
	n.logger.Warn(msg)
}

// inlineScheduler runs callbacks immediately. Headless commands have no
// page that needs the download to stay alive.
type inlineScheduler struct{}

func (inlineScheduler) After(_ time.Duration, fn func()) { fn() }

// fileDownloader writes offered payloads to path.
type fileDownloader struct {
	path    string
	written int
	err     error
}

func (d *fileDownloader) Offer(_, _ string, data []byte) string {
	d.err = os.WriteFile(d.path, data, 0644)
	if d.err == nil {
		d.written = len(data)
	}
	return d.path
}

func (d *fileDownloader) Revoke(string) {}

// loadHeadless loads path, preceded by its MTL companion when mtl is set,
// into a controller that is driven from the calling goroutine.
func loadHeadless(ctx context.Context, logger *slog.Logger, dl viewer.Downloader, path, mtl string) (*viewer.Controller, error) {
	notices := &noticeLog{logger: logger}
	c := viewer.New(viewer.Options{
		Notifier:   notices,
		Downloader: dl,
		Scheduler:  inlineScheduler{},
		Logger:     logger,
	})

	if mtl != "" {
		if loader.FormatOf(mtl) != loader.FormatMTL {
			return nil, fmt.Errorf("%s: --mtl expects a .mtl file", mtl)
		}
		if loader.FormatOf(path) != loader.FormatOBJ {
			return nil, fmt.Errorf("%s: --mtl only applies to .obj files", path)
		}
		if err := c.LoadModelFromFile(ctx, loader.NewPathFile(mtl)); err != nil {
			return nil, err
		}
	}
	if loader.FormatOf(path) == loader.FormatMTL {
		return nil, fmt.Errorf("%s: pass the .obj file and use --mtl for its materials", path)
	}
	if err := c.LoadModelFromFile(ctx, loader.NewPathFile(path)); err != nil {
		var le *viewer.LoadError
		if errors.As(err, &le) {
			return nil, errors.New(le.Notice())
		}
		return nil, err
	}
	return c, nil
}
