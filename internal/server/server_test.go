package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toolq/toolq/internal/action"
	"github.com/toolq/toolq/internal/approval"
	"github.com/toolq/toolq/internal/diff"
	"github.com/toolq/toolq/internal/executor"
	"github.com/toolq/toolq/internal/queue"
	"github.com/toolq/toolq/internal/workspace"
)

type recordShell struct {
	commands []string
}

func (r *recordShell) Run(command string) error {
	r.commands = append(r.commands, command)
	return nil
}

type recordOpener struct {
	urls []string
}

func (r *recordOpener) Open(rawURL string) error {
	r.urls = append(r.urls, rawURL)
	return nil
}

type serverRig struct {
	srv    *Server
	root   string
	shell  *recordShell
	opener *recordOpener
}

func newServerRig(t *testing.T) *serverRig {
	t.Helper()
	gin.SetMode(gin.TestMode)

	root := t.TempDir()
	ws := workspace.New(root, nil)
	metrics := executor.MustNewMetrics(prometheus.NewRegistry())
	shell := &recordShell{}
	opener := &recordOpener{}
	exec := executor.New(ws, shell, opener, nil, metrics)
	ctrl := approval.NewController(queue.NewStore(), exec, action.NewParser(), ws, diff.NewGenerator(3, false), nil, metrics)

	cfg := DefaultConfig()
	cfg.Version = "1.2.3"
	cfg.EnableCORS = false
	srv := New(ctrl, ws, nil, nil, cfg)

	return &serverRig{srv: srv, root: root, shell: shell, opener: opener}
}

func (rig *serverRig) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	rig.srv.Engine().ServeHTTP(w, req)
	return w
}

type testResponse struct {
	Success bool           `json:"success"`
	Data    map[string]any `json:"data"`
	Error   string         `json:"error"`
}

func decode(t *testing.T, w *httptest.ResponseRecorder) testResponse {
	t.Helper()
	var resp testResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func parseBody(text string) string {
	raw, _ := json.Marshal(map[string]string{"text": text})
	return string(raw)
}

func queuedIDs(t *testing.T, resp testResponse) []string {
	t.Helper()
	raw, ok := resp.Data["actions"].([]any)
	require.True(t, ok, "actions missing from response")
	ids := make([]string, 0, len(raw))
	for _, entry := range raw {
		act, ok := entry.(map[string]any)
		require.True(t, ok)
		ids = append(ids, act["id"].(string))
	}
	return ids
}

func TestServerHealth(t *testing.T) {
	rig := newServerRig(t)

	w := rig.do(t, http.MethodGet, "/api/health", "")

	require.Equal(t, http.StatusOK, w.Code)
	resp := decode(t, w)
	assert.True(t, resp.Success)
	assert.Equal(t, "ok", resp.Data["status"])
	assert.Equal(t, "1.2.3", resp.Data["version"])
	assert.Equal(t, rig.root, resp.Data["workspace"])
	assert.Equal(t, float64(0), resp.Data["queue_depth"])
}

func TestServerParseQueuesActions(t *testing.T) {
	rig := newServerRig(t)

	text := "{{TOOL_CALL:CREATE}}\nFILE: a.txt\nCONTENT:\n```\nhello\n```\n" +
		"{{TOOL_CALL:SHELL}}\nCOMMAND: make test\n"
	w := rig.do(t, http.MethodPost, "/api/parse", parseBody(text))

	require.Equal(t, http.StatusOK, w.Code)
	resp := decode(t, w)
	assert.True(t, resp.Success)
	assert.Equal(t, float64(2), resp.Data["count"])

	w = rig.do(t, http.MethodGet, "/api/queue", "")
	require.Equal(t, http.StatusOK, w.Code)
	resp = decode(t, w)
	assert.Equal(t, float64(2), resp.Data["count"])
	assert.Equal(t, true, resp.Data["has_approvable"])
}

func TestServerParseNoActions(t *testing.T) {
	rig := newServerRig(t)

	w := rig.do(t, http.MethodPost, "/api/parse", parseBody("just prose, no markers"))

	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	resp := decode(t, w)
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "no actions")
}

func TestServerParseMissingText(t *testing.T) {
	rig := newServerRig(t)

	w := rig.do(t, http.MethodPost, "/api/parse", "{}")

	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestServerApproveExecutesAction(t *testing.T) {
	rig := newServerRig(t)

	text := "{{TOOL_CALL:CREATE}}\nFILE: out.txt\nCONTENT:\n```\ncreated\n```\n"
	resp := decode(t, rig.do(t, http.MethodPost, "/api/parse", parseBody(text)))
	ids := queuedIDs(t, resp)
	require.Len(t, ids, 1)

	w := rig.do(t, http.MethodPost, "/api/actions/"+ids[0]+"/approve", "")

	require.Equal(t, http.StatusOK, w.Code)
	resp = decode(t, w)
	assert.True(t, resp.Success)

	data, err := os.ReadFile(filepath.Join(rig.root, "out.txt"))
	require.NoError(t, err)
	assert.Equal(t, "created", string(data))

	resp = decode(t, rig.do(t, http.MethodGet, "/api/queue", ""))
	assert.Equal(t, float64(0), resp.Data["count"])
}

func TestServerApproveUnknownAction(t *testing.T) {
	rig := newServerRig(t)

	w := rig.do(t, http.MethodPost, "/api/actions/act-missing/approve", "")

	require.Equal(t, http.StatusNotFound, w.Code)
	resp := decode(t, w)
	assert.False(t, resp.Success)
}

func TestServerApproveFailureIsProcessed(t *testing.T) {
	rig := newServerRig(t)

	text := "{{TOOL_CALL:MODIFY}}\nFILE: missing.txt\n" +
		"BEFORE:\n```\nold\n```\nAFTER:\n```\nnew\n```\n"
	resp := decode(t, rig.do(t, http.MethodPost, "/api/parse", parseBody(text)))
	ids := queuedIDs(t, resp)
	require.Len(t, ids, 1)

	w := rig.do(t, http.MethodPost, "/api/actions/"+ids[0]+"/approve", "")

	// The approval was processed; the execution failure rides in the body.
	require.Equal(t, http.StatusOK, w.Code)
	resp = decode(t, w)
	assert.False(t, resp.Success)
	assert.NotEmpty(t, resp.Error)

	// Consumed despite the failure.
	w = rig.do(t, http.MethodPost, "/api/actions/"+ids[0]+"/approve", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestServerApproveAllSkipsShell(t *testing.T) {
	rig := newServerRig(t)

	text := "{{TOOL_CALL:CREATE}}\nFILE: one.txt\nCONTENT:\n```\n1\n```\n" +
		"{{TOOL_CALL:SHELL}}\nCOMMAND: make deploy\n" +
		"{{TOOL_CALL:CREATE}}\nFILE: two.txt\nCONTENT:\n```\n2\n```\n"
	rig.do(t, http.MethodPost, "/api/parse", parseBody(text))

	w := rig.do(t, http.MethodPost, "/api/approve-all", "")

	require.Equal(t, http.StatusOK, w.Code)
	resp := decode(t, w)
	assert.True(t, resp.Success)
	assert.Contains(t, resp.Data["summary"], "1 skipped")

	report, ok := resp.Data["report"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(1), report["skipped"])

	assert.FileExists(t, filepath.Join(rig.root, "one.txt"))
	assert.FileExists(t, filepath.Join(rig.root, "two.txt"))
	assert.Empty(t, rig.shell.commands)

	// The shell action is still pending, but bulk has nothing left to run.
	resp = decode(t, rig.do(t, http.MethodGet, "/api/queue", ""))
	assert.Equal(t, float64(1), resp.Data["count"])
	assert.Equal(t, false, resp.Data["has_approvable"])
}

func TestServerPreviewModify(t *testing.T) {
	rig := newServerRig(t)
	require.NoError(t, os.WriteFile(filepath.Join(rig.root, "a.txt"), []byte("alpha\nbeta\n"), 0o644))

	text := "{{TOOL_CALL:MODIFY}}\nFILE: a.txt\n" +
		"BEFORE:\n```\nbeta\n```\nAFTER:\n```\nBETA\n```\n"
	resp := decode(t, rig.do(t, http.MethodPost, "/api/parse", parseBody(text)))
	ids := queuedIDs(t, resp)

	w := rig.do(t, http.MethodGet, "/api/actions/"+ids[0]+"/preview", "")

	require.Equal(t, http.StatusOK, w.Code)
	resp = decode(t, w)
	diffText, _ := resp.Data["diff"].(string)
	assert.Contains(t, diffText, "-beta")
	assert.Contains(t, diffText, "+BETA")

	// Previewing must not touch the file.
	data, err := os.ReadFile(filepath.Join(rig.root, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "alpha\nbeta\n", string(data))
}

func TestServerPreviewShellHasNoDiff(t *testing.T) {
	rig := newServerRig(t)

	text := "{{TOOL_CALL:SHELL}}\nCOMMAND: ls\n"
	resp := decode(t, rig.do(t, http.MethodPost, "/api/parse", parseBody(text)))
	ids := queuedIDs(t, resp)

	w := rig.do(t, http.MethodGet, "/api/actions/"+ids[0]+"/preview", "")

	require.Equal(t, http.StatusOK, w.Code)
	resp = decode(t, w)
	assert.Equal(t, "", resp.Data["diff"])
	assert.Contains(t, resp.Data["summary"], "ls")
}

func TestServerPreviewUnknownAction(t *testing.T) {
	rig := newServerRig(t)

	w := rig.do(t, http.MethodGet, "/api/actions/act-missing/preview", "")

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestServerFiles(t *testing.T) {
	rig := newServerRig(t)
	require.NoError(t, os.WriteFile(filepath.Join(rig.root, "main.go"), []byte("package main\n"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(rig.root, "vendor"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(rig.root, "vendor", "dep.go"), []byte("package dep\n"), 0o644))

	w := rig.do(t, http.MethodGet, "/api/files?exclude=vendor", "")

	require.Equal(t, http.StatusOK, w.Code)
	resp := decode(t, w)
	files, ok := resp.Data["files"].([]any)
	require.True(t, ok)
	assert.Contains(t, files, "main.go")
	assert.NotContains(t, files, "vendor/dep.go")
}

func TestServerDocuments(t *testing.T) {
	rig := newServerRig(t)

	text := "{{TOOL_CALL:CREATE}}\nFILE: doc.txt\nCONTENT:\n```\nx\n```\n"
	resp := decode(t, rig.do(t, http.MethodPost, "/api/parse", parseBody(text)))
	ids := queuedIDs(t, resp)
	rig.do(t, http.MethodPost, "/api/actions/"+ids[0]+"/approve", "")

	w := rig.do(t, http.MethodGet, "/api/documents", "")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "doc.txt")
}

func TestServerMetricsEndpoint(t *testing.T) {
	rig := newServerRig(t)

	w := rig.do(t, http.MethodGet, "/api/metrics", "")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}

func dialWS(t *testing.T, rig *serverRig) (*websocket.Conn, func()) {
	t.Helper()
	ts := httptest.NewServer(rig.srv.Engine())
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	return conn, func() {
		conn.Close()
		ts.Close()
	}
}

// readWSUntil reads frames until one with the wanted type arrives, skipping
// queue broadcasts interleaved with direct replies.
func readWSUntil(t *testing.T, conn *websocket.Conn, wantType string) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for i := 0; i < 10; i++ {
		var msg wsMessage
		require.NoError(t, conn.ReadJSON(&msg))
		if msg.Type != wantType {
			continue
		}
		var data map[string]any
		require.NoError(t, json.Unmarshal(msg.Data, &data))
		return data
	}
	t.Fatalf("no %q message received", wantType)
	return nil
}

func sendWS(t *testing.T, conn *websocket.Conn, msgType string, payload any) {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(wsMessage{Type: msgType, Data: raw}))
}

func TestWebSocketParseAndApprove(t *testing.T) {
	rig := newServerRig(t)
	conn, done := dialWS(t, rig)
	defer done()

	text := "{{TOOL_CALL:CREATE}}\nFILE: ws.txt\nCONTENT:\n```\nvia ws\n```\n"
	sendWS(t, conn, wsMsgParse, wsParseRequest{Text: text})

	queued := readWSUntil(t, conn, wsMsgQueued)
	assert.Equal(t, float64(1), queued["count"])
	acts := queued["actions"].([]any)
	actID := acts[0].(map[string]any)["id"].(string)

	sendWS(t, conn, wsMsgApprove, wsApproveRequest{ID: actID})

	result := readWSUntil(t, conn, wsMsgResult)
	res := result["result"].(map[string]any)
	assert.Equal(t, executor.StatusApplied, res["status"])

	data, err := os.ReadFile(filepath.Join(rig.root, "ws.txt"))
	require.NoError(t, err)
	assert.Equal(t, "via ws", string(data))
}

func TestWebSocketList(t *testing.T) {
	rig := newServerRig(t)
	text := "{{TOOL_CALL:DELETE}}\nFILE: gone.txt\n"
	rig.do(t, http.MethodPost, "/api/parse", parseBody(text))

	conn, done := dialWS(t, rig)
	defer done()

	sendWS(t, conn, wsMsgList, struct{}{})

	state := readWSUntil(t, conn, wsMsgQueue)
	assert.Equal(t, float64(1), state["count"])
}

func TestWebSocketApproveAll(t *testing.T) {
	rig := newServerRig(t)
	conn, done := dialWS(t, rig)
	defer done()

	text := "{{TOOL_CALL:CREATE}}\nFILE: bulk.txt\nCONTENT:\n```\nb\n```\n" +
		"{{TOOL_CALL:SHELL}}\nCOMMAND: make all\n"
	sendWS(t, conn, wsMsgParse, wsParseRequest{Text: text})
	readWSUntil(t, conn, wsMsgQueued)

	sendWS(t, conn, wsMsgApproveAll, struct{}{})

	bulk := readWSUntil(t, conn, wsMsgBulk)
	assert.Contains(t, bulk["summary"], "1 skipped")
	assert.FileExists(t, filepath.Join(rig.root, "bulk.txt"))
	assert.Empty(t, rig.shell.commands)
}

func TestWebSocketRejectsGarbage(t *testing.T) {
	rig := newServerRig(t)
	conn, done := dialWS(t, rig)
	defer done()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))

	errData := readWSUntil(t, conn, wsMsgError)
	assert.Contains(t, errData["message"], "invalid message")
}

func TestWebSocketUnknownType(t *testing.T) {
	rig := newServerRig(t)
	conn, done := dialWS(t, rig)
	defer done()

	sendWS(t, conn, "bogus", struct{}{})

	errData := readWSUntil(t, conn, wsMsgError)
	assert.Contains(t, errData["message"], "unknown message type")
}
