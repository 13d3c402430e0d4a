package server

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/flywave/meshview/internal/gltfio"
	"github.com/flywave/meshview/internal/gui"
	"github.com/flywave/meshview/internal/loader"
	"github.com/flywave/meshview/internal/viewer"
)

//go:embed static
var staticFS embed.FS

const uploadField = "file"

type errorResponse struct {
	Error  string `json:"error"`
	Notice string `json:"notice,omitempty"`
}

type uploadResponse struct {
	File    string `json:"file"`
	Format  string `json:"format"`
	Loaded  bool   `json:"loaded"`
	Pending bool   `json:"pending"`
}

type colorRequest struct {
	Value string `json:"value"`
}

type sizeRequest struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

type modelInfo struct {
	Name   string `json:"name"`
	Meshes int    `json:"meshes"`
}

type stateResponse struct {
	Model      *modelInfo   `json:"model"`
	Pending    string       `json:"pending,omitempty"`
	Status     statusEvent  `json:"status"`
	Panels     []gui.Folder `json:"panels"`
	Animations []string     `json:"animations"`
	Scene      sceneEvent   `json:"scene"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error, notice string) {
	writeJSON(w, status, errorResponse{Error: err.Error(), Notice: notice})
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	page, err := fs.ReadFile(staticFS, "static/index.html")
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(page)
}

// handleUpload loads the multipart field "file" into the viewer.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	file, header, err := r.FormFile(uploadField)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("read upload: %w", err), "")
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("read upload: %w", err), "")
		return
	}

	f := loader.NewMemFile(header.Filename, data)
	resp := uploadResponse{File: header.Filename, Format: loader.FormatOf(header.Filename).String()}
	var loadErr error
	var panels []gui.Folder
	err = s.Do(r.Context(), func(c *viewer.Controller) {
		loadErr = c.LoadModelFromFile(r.Context(), f)
		st := c.State()
		resp.Loaded = st.Model != nil
		resp.Pending = st.Pending != nil
		panels = folders(st.Panels)
	})
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err, "")
		return
	}
	s.hub.Broadcast(Event{Type: EventPanels, Data: panels})

	var le *viewer.LoadError
	switch {
	case errors.Is(loadErr, loader.ErrUnsupportedFormat):
		writeError(w, http.StatusUnsupportedMediaType, loadErr, viewer.NoticeUnsupported)
	case errors.As(loadErr, &le):
		writeError(w, http.StatusUnprocessableEntity, loadErr, le.Notice())
	case loadErr != nil:
		writeError(w, http.StatusInternalServerError, loadErr, "")
	default:
		writeJSON(w, http.StatusOK, resp)
	}
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	var exportErr error
	if err := s.Do(r.Context(), func(c *viewer.Controller) {
		exportErr = c.ExportGLB(r.Context())
	}); err != nil {
		writeError(w, http.StatusServiceUnavailable, err, "")
		return
	}
	switch {
	case errors.Is(exportErr, viewer.ErrNoModel):
		writeError(w, http.StatusConflict, exportErr, viewer.NoticeNotReady)
	case exportErr != nil:
		writeError(w, http.StatusInternalServerError, exportErr, "")
	default:
		w.WriteHeader(http.StatusAccepted)
	}
}

func (s *Server) handleBlob(w http.ResponseWriter, r *http.Request) {
	b, ok := s.blobs.Get(chi.URLParam(r, "id"))
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", b.MimeType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", b.Name))
	w.Header().Set("Content-Length", strconv.Itoa(len(b.Data)))
	_, _ = w.Write(b.Data)
}

// handleSceneGLB serves the current model for the page to draw.
func (s *Server) handleSceneGLB(w http.ResponseWriter, r *http.Request) {
	var data []byte
	var encErr error
	if err := s.Do(r.Context(), func(c *viewer.Controller) {
		if m := c.State().Model; m != nil {
			data, encErr = gltfio.EncodeGLB(m)
		}
	}); err != nil {
		writeError(w, http.StatusServiceUnavailable, err, "")
		return
	}
	if encErr != nil {
		writeError(w, http.StatusInternalServerError, encErr, "")
		return
	}
	if data == nil {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "model/gltf-binary")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(data)
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	var resp stateResponse
	if err := s.Do(r.Context(), func(c *viewer.Controller) {
		resp = snapshot(c)
	}); err != nil {
		writeError(w, http.StatusServiceUnavailable, err, "")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handlePanel(w http.ResponseWriter, r *http.Request) {
	var req colorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err), "")
		return
	}
	id := chi.URLParam(r, "id")

	var setErr error
	var panels []gui.Folder
	if err := s.Do(r.Context(), func(c *viewer.Controller) {
		p := c.State().Panels
		if p == nil {
			setErr = fmt.Errorf("%w: %s", gui.ErrUnknownControl, id)
			return
		}
		setErr = p.SetValue(id, req.Value)
		panels = folders(p)
	}); err != nil {
		writeError(w, http.StatusServiceUnavailable, err, "")
		return
	}
	switch {
	case errors.Is(setErr, gui.ErrUnknownControl), errors.Is(setErr, gui.ErrDestroyed):
		writeError(w, http.StatusNotFound, setErr, "")
	case setErr != nil:
		writeError(w, http.StatusBadRequest, setErr, "")
	default:
		s.hub.Broadcast(Event{Type: EventPanels, Data: panels})
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) handleResize(w http.ResponseWriter, r *http.Request) {
	var req sizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err), "")
		return
	}
	if err := s.Do(r.Context(), func(c *viewer.Controller) {
		c.Resize(req.Width, req.Height)
	}); err != nil {
		writeError(w, http.StatusServiceUnavailable, err, "")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// hello is sent to every page on connect.
func (s *Server) hello(ctx context.Context) []Event {
	var st stateResponse
	if err := s.loop.Do(ctx, func() { st = snapshot(s.ctrl) }); err != nil {
		return nil
	}
	return []Event{
		{Type: EventStatus, Data: st.Status},
		{Type: EventPanels, Data: st.Panels},
		{Type: EventScene, Data: st.Scene},
	}
}

func snapshot(c *viewer.Controller) stateResponse {
	st := c.State()
	resp := stateResponse{
		Status: statusEvent{Visible: c.Status().Visible(), Text: c.Status().Text()},
		Panels: folders(st.Panels),
		Scene:  newSceneEvent(c.Scene(), c.Camera()),
	}
	if st.Model != nil {
		resp.Model = &modelInfo{Name: st.Model.Name, Meshes: st.Model.MeshCount()}
	}
	if st.Pending != nil {
		resp.Pending = st.Pending.Name()
	}
	if st.Mixer != nil {
		for _, a := range st.Mixer.Running() {
			resp.Animations = append(resp.Animations, a.Clip().Name)
		}
	}
	return resp
}

func folders(g *gui.GUI) []gui.Folder {
	if g == nil {
		return []gui.Folder{}
	}
	return g.Snapshot()
}
