package server

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flywave/meshview/internal/gltfio"
	"github.com/flywave/meshview/internal/logging"
	"github.com/flywave/meshview/internal/viewer"
)

const cubeOBJ = `o Cube
v -1 -1 -1
v 1 -1 -1
v 1 1 -1
v -1 1 -1
v -1 -1 1
v 1 -1 1
v 1 1 1
v -1 1 1
f 1 3 2
f 1 4 3
f 5 6 7
f 5 7 8
f 1 2 6
f 1 6 5
f 4 8 7
f 4 7 3
`

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	s := New(Config{
		FPS:          100,
		ReleaseDelay: 20 * time.Millisecond,
		// websocket handlers may still log after the test returns
		Logger: logging.Discard(),
	})
	ctx, cancel := context.WithCancel(context.Background())
	go s.loop.Run(ctx)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		s.hub.Close()
		ts.Close()
		cancel()
	})
	return s, ts
}

func upload(t *testing.T, ts *httptest.Server, name string, data []byte) *http.Response {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile(uploadField, name)
	require.NoError(t, err)
	_, err = fw.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	resp, err := http.Post(ts.URL+"/api/files", mw.FormDataContentType(), &body)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func getState(t *testing.T, ts *httptest.Server) stateResponse {
	t.Helper()
	resp, err := http.Get(ts.URL + "/api/state")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var st stateResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&st))
	return st
}

func postJSON(t *testing.T, url string, v interface{}) *http.Response {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestIndex(t *testing.T) {
	_, ts := newTestServer(t)
	resp, err := http.Get(ts.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/html")
}

func TestUploadAndState(t *testing.T) {
	_, ts := newTestServer(t)

	resp := upload(t, ts, "cube.obj", []byte(cubeOBJ))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var ur uploadResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&ur))
	assert.True(t, ur.Loaded)
	assert.Equal(t, "OBJ", ur.Format)

	st := getState(t, ts)
	require.NotNil(t, st.Model)
	assert.Equal(t, 1, st.Model.Meshes)
	require.Len(t, st.Panels, 1)
	assert.Equal(t, "Cube", st.Panels[0].Name)
	assert.False(t, st.Status.Visible)
	assert.True(t, st.Scene.HasModel)

	glb, err := http.Get(ts.URL + "/api/scene.glb")
	require.NoError(t, err)
	defer glb.Body.Close()
	assert.Equal(t, http.StatusOK, glb.StatusCode)
	assert.Equal(t, "model/gltf-binary", glb.Header.Get("Content-Type"))
}

func TestUploadMTLIsPending(t *testing.T) {
	_, ts := newTestServer(t)
	resp := upload(t, ts, "cube.mtl", []byte("newmtl red\nKd 1 0 0\n"))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var ur uploadResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&ur))
	assert.False(t, ur.Loaded)
	assert.True(t, ur.Pending)
	assert.Equal(t, "cube.mtl", getState(t, ts).Pending)
}

func TestUploadErrors(t *testing.T) {
	_, ts := newTestServer(t)

	resp := upload(t, ts, "notes.txt", []byte("hello"))
	assert.Equal(t, http.StatusUnsupportedMediaType, resp.StatusCode)
	var er errorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&er))
	assert.Equal(t, viewer.NoticeUnsupported, er.Notice)

	resp = upload(t, ts, "broken.fbx", []byte("not fbx"))
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&er))
	assert.True(t, strings.HasPrefix(er.Notice, "FBX解析错误: "), er.Notice)

	bad, err := http.Post(ts.URL+"/api/files", "text/plain", strings.NewReader("x"))
	require.NoError(t, err)
	defer bad.Body.Close()
	assert.Equal(t, http.StatusBadRequest, bad.StatusCode)
}

func TestSceneGLBEmpty(t *testing.T) {
	_, ts := newTestServer(t)
	resp, err := http.Get(ts.URL + "/api/scene.glb")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestExport(t *testing.T) {
	s, ts := newTestServer(t)

	resp := postJSON(t, ts.URL+"/api/export", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Empty(t, s.blobs.IDs())

	require.Equal(t, http.StatusOK, upload(t, ts, "cube.obj", []byte(cubeOBJ)).StatusCode)
	resp = postJSON(t, ts.URL+"/api/export", nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	ids := s.blobs.IDs()
	require.Len(t, ids, 1)
	blob, err := http.Get(ts.URL + blobURL(ids[0]))
	require.NoError(t, err)
	defer blob.Body.Close()
	assert.Equal(t, http.StatusOK, blob.StatusCode)
	assert.Equal(t, `attachment; filename="exported_model.glb"`, blob.Header.Get("Content-Disposition"))
	var data bytes.Buffer
	_, err = data.ReadFrom(blob.Body)
	require.NoError(t, err)
	assert.True(t, gltfio.IsBinary(data.Bytes()))

	// 释放延迟过后句柄失效
	assert.Eventually(t, func() bool { return len(s.blobs.IDs()) == 0 }, time.Second, 5*time.Millisecond)
	gone, err := http.Get(ts.URL + blobURL(ids[0]))
	require.NoError(t, err)
	defer gone.Body.Close()
	assert.Equal(t, http.StatusNotFound, gone.StatusCode)
}

func TestPanelEdit(t *testing.T) {
	_, ts := newTestServer(t)

	resp := postJSON(t, ts.URL+"/api/panels/missing", colorRequest{Value: "#ff0000"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	require.Equal(t, http.StatusOK, upload(t, ts, "cube.obj", []byte(cubeOBJ)).StatusCode)
	st := getState(t, ts)
	id := st.Panels[0].Controllers[0].ID

	resp = postJSON(t, ts.URL+"/api/panels/"+id, colorRequest{Value: "#FF0000"})
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "#ff0000", getState(t, ts).Panels[0].Controllers[0].Value)
	assert.Greater(t, getState(t, ts).Scene.Revision, st.Scene.Revision)

	resp = postJSON(t, ts.URL+"/api/panels/"+id, colorRequest{Value: "red"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestResize(t *testing.T) {
	s, ts := newTestServer(t)
	resp := postJSON(t, ts.URL+"/api/resize", sizeRequest{Width: 800, Height: 400})
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	var aspect float32
	require.NoError(t, s.Do(context.Background(), func(c *viewer.Controller) { aspect = c.Camera().Aspect }))
	assert.Equal(t, float32(2), aspect)
}

func readEvent(t *testing.T, conn *websocket.Conn) Event {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var e Event
	require.NoError(t, conn.ReadJSON(&e))
	return e
}

func waitEvent(t *testing.T, conn *websocket.Conn, typ string) Event {
	t.Helper()
	for {
		if e := readEvent(t, conn); e.Type == typ {
			return e
		}
	}
}

func TestWebSocketEvents(t *testing.T) {
	s, ts := newTestServer(t)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	assert.Equal(t, EventStatus, readEvent(t, conn).Type)
	assert.Equal(t, EventPanels, readEvent(t, conn).Type)
	assert.Equal(t, EventScene, readEvent(t, conn).Type)
	assert.Eventually(t, func() bool { return s.hub.Len() == 1 }, time.Second, 5*time.Millisecond)

	upload(t, ts, "notes.txt", []byte("hello"))
	e := waitEvent(t, conn, EventNotice)
	data, _ := e.Data.(map[string]interface{})
	assert.Equal(t, viewer.NoticeUnsupported, data["message"])

	upload(t, ts, "cube.obj", []byte(cubeOBJ))
	for {
		e = waitEvent(t, conn, EventScene)
		data, _ = e.Data.(map[string]interface{})
		if data["hasModel"] == true {
			break
		}
	}
	cam, _ := data["camera"].(map[string]interface{})
	assert.Equal(t, []interface{}{0.0, 2.0, 3.0}, cam["position"])
}

func TestServeShutdown(t *testing.T) {
	s := New(Config{Logger: logging.NewTestLogger(t)})
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.serve(ctx, ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/api/state")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not return")
	}
}

func TestBlobStore(t *testing.T) {
	b := NewBlobStore()
	id := b.Put(Blob{Name: "a.glb", MimeType: "model/gltf-binary", Data: []byte{1}})
	got, ok := b.Get(id)
	require.True(t, ok)
	assert.Equal(t, "a.glb", got.Name)
	assert.True(t, b.Delete(id))
	assert.False(t, b.Delete(id))
	_, ok = b.Get(id)
	assert.False(t, ok)
}
