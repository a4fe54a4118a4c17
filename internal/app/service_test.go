package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"editorbridge/internal/aichat"
	"editorbridge/internal/config"
	"editorbridge/internal/handoff"
	"editorbridge/internal/threads"
)

func testConfig() config.Config {
	return config.Config{
		CORSOrigin: "*",
		Bridge: config.BridgeConfig{
			DefaultDocumentID: "fv-doc-default",
			SyncDelay:         10 * time.Millisecond,
			InitialSyncDelay:  10 * time.Millisecond,
			ReadyTimeout:      2 * time.Second,
		},
		User: config.UserConfig{ID: "user-1", Name: "Demo User 1"},
		AI: config.AIConfig{
			PanelTimeout:     100 * time.Millisecond,
			PollInterval:     5 * time.Millisecond,
			SendSettle:       50 * time.Millisecond,
			ApplySettleDelay: 20 * time.Millisecond,
			MaxContextChars:  8000,
		},
	}
}

func newTestServer(t *testing.T, cfg config.Config, handoffs HandoffStore, panels PanelOpener) (*Service, http.Handler) {
	t.Helper()
	svc := New(cfg, handoffs, panels)
	t.Cleanup(svc.Close)
	return svc, NewHTTPServer(svc, cfg.CORSOrigin).Handler()
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

type threadResponse struct {
	Thread threads.Thread `json:"thread"`
}

func decodeThread(t *testing.T, rr *httptest.ResponseRecorder) threads.Thread {
	t.Helper()
	var out threadResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out), rr.Body.String())
	return out.Thread
}

func decodeView(t *testing.T, rr *httptest.ResponseRecorder) DocumentView {
	t.Helper()
	var view DocumentView
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &view), rr.Body.String())
	return view
}

func errorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out), rr.Body.String())
	code, _ := out["code"].(string)
	return code
}

// recordingPanel is always open and ready to send.
type recordingPanel struct {
	mu     sync.Mutex
	prompt string
	sent   []string
}

func (p *recordingPanel) Visible(context.Context) (bool, error) { return true, nil }
func (p *recordingPanel) Open(context.Context) error            { return nil }
func (p *recordingPanel) SendEnabled(context.Context) (bool, error) {
	return true, nil
}

func (p *recordingPanel) SetPrompt(_ context.Context, text string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prompt = text
	return nil
}

func (p *recordingPanel) Prompt(context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.prompt, nil
}

func (p *recordingPanel) Send(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, p.prompt)
	return nil
}

func (p *recordingPanel) sentPrompts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.sent...)
}

func staticPanels(panel aichat.Panel) PanelOpener {
	return func(context.Context, string, func(aichat.Click)) (aichat.Panel, func(), error) {
		return panel, func() {}, nil
	}
}

func TestThreadLifecycleOverHTTP(t *testing.T) {
	_, h := newTestServer(t, testConfig(), nil, nil)
	base := "/api/documents/doc-1"

	rr := doJSON(t, h, http.MethodPut, base+"/content", map[string]any{"html": "<p>fix this sentence please</p>"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	view := decodeView(t, rr)
	assert.True(t, view.Ready)
	assert.Equal(t, "<p>fix this sentence please</p>", view.HTML)

	rr = doJSON(t, h, http.MethodPost, base+"/threads", map[string]any{
		"threadId":   "t1",
		"anchorText": "this sentence",
		"content":    "Too long",
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	created := decodeThread(t, rr)
	assert.Equal(t, "t1", created.ThreadID)
	assert.Equal(t, "this sentence", created.AnchorText)
	require.Len(t, created.Comments, 1)
	assert.Equal(t, "Too long", created.Comments[0].Content)
	assert.Equal(t, "user-1", created.Comments[0].AuthorID)
	assert.Equal(t, "Demo User 1", created.Comments[0].AuthorName)

	view = decodeView(t, doJSON(t, h, http.MethodGet, base, nil))
	assert.Contains(t, view.HTML, `<comment-start name="t1">`)

	rr = doJSON(t, h, http.MethodPost, base+"/threads/t1/comments", map[string]any{"content": "Agreed"})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	thread := decodeThread(t, rr)
	require.Len(t, thread.Comments, 2)
	reply := thread.Comments[1].ID
	assert.True(t, strings.HasPrefix(reply, "comment_"))

	rr = doJSON(t, h, http.MethodPut, base+"/threads/t1/comments/"+reply, map[string]any{"content": "Agreed, shorten it"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, "Agreed, shorten it", decodeThread(t, rr).Comments[1].Content)

	rr = doJSON(t, h, http.MethodDelete, base+"/threads/t1/comments/"+reply, nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Len(t, decodeThread(t, rr).Comments, 1)

	rr = doJSON(t, h, http.MethodPatch, base+"/threads/t1", map[string]any{"attributes": map[string]any{"priority": "high"}})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, "high", decodeThread(t, rr).Attributes["priority"])

	rr = doJSON(t, h, http.MethodPost, base+"/threads/t1/resolve", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	thread = decodeThread(t, rr)
	assert.True(t, thread.IsResolved)
	require.NotNil(t, thread.ResolvedBy)
	assert.Equal(t, "user-1", *thread.ResolvedBy)

	rr = doJSON(t, h, http.MethodPost, base+"/threads/t1/reopen", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.False(t, decodeThread(t, rr).IsResolved)

	rr = doJSON(t, h, http.MethodDelete, base+"/threads/t1", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	view = decodeView(t, doJSON(t, h, http.MethodGet, base, nil))
	assert.Equal(t, "<p>fix this sentence please</p>", view.HTML)
	assert.Empty(t, view.CommentsData)
}

func TestCreateThreadGeneratesSuffixedID(t *testing.T) {
	_, h := newTestServer(t, testConfig(), nil, nil)
	doJSON(t, h, http.MethodPut, "/api/documents/doc-2/content", map[string]any{"html": "<p>alpha beta</p>"})

	rr := doJSON(t, h, http.MethodPost, "/api/documents/doc-2/threads", map[string]any{"anchorText": "beta", "content": "why?"})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	thread := decodeThread(t, rr)
	assert.True(t, strings.HasPrefix(thread.ThreadID, "thread-"))
	assert.Contains(t, thread.ThreadID, ":")

	// The base id reaches the same thread.
	base := threads.BaseID(thread.ThreadID)
	rr = doJSON(t, h, http.MethodPost, "/api/documents/doc-2/threads/"+base+"/resolve", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, thread.ThreadID, decodeThread(t, rr).ThreadID)
}

func TestThreadRouteErrors(t *testing.T) {
	_, h := newTestServer(t, testConfig(), nil, nil)
	base := "/api/documents/doc-3"
	doJSON(t, h, http.MethodPut, base+"/content", map[string]any{"html": "<p>text</p>"})

	rr := doJSON(t, h, http.MethodPost, base+"/threads", map[string]any{"anchorText": "missing", "content": "x"})
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	assert.Equal(t, "ANCHOR_NOT_FOUND", errorCode(t, rr))

	rr = doJSON(t, h, http.MethodPost, base+"/threads", map[string]any{"anchorText": "text"})
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	assert.Equal(t, "VALIDATION_ERROR", errorCode(t, rr))

	rr = doJSON(t, h, http.MethodPost, base+"/threads/nope/resolve", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "THREAD_NOT_FOUND", errorCode(t, rr))

	rr = doJSON(t, h, http.MethodPost, base+"/threads", map[string]any{"threadId": "t1", "anchorText": "text", "content": "x"})
	require.Equal(t, http.StatusCreated, rr.Code)
	rr = doJSON(t, h, http.MethodPost, base+"/threads", map[string]any{"threadId": "t1", "anchorText": "text", "content": "x"})
	assert.Equal(t, http.StatusConflict, rr.Code)

	rr = doJSON(t, h, http.MethodPut, base+"/threads/t1/comments/nope", map[string]any{"content": "y"})
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "COMMENT_NOT_FOUND", errorCode(t, rr))

	req := httptest.NewRequest(http.MethodPost, base+"/threads", strings.NewReader("{"))
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "INVALID_BODY", errorCode(t, rr))
}

func TestHandoffIsLoadedWhenSessionBoots(t *testing.T) {
	s := miniredis.RunT(t)
	store, err := handoff.NewRedisStore("redis://"+s.Addr(), time.Minute)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	_, h := newTestServer(t, testConfig(), store, nil)

	rr := doJSON(t, h, http.MethodPost, "/api/documents/doc-next/handoff", map[string]any{
		"html": `<p><comment-start name="t9"></comment-start>staged<comment-end name="t9"></comment-end></p>`,
		"commentsData": []map[string]any{{
			"threadId": "t9",
			"comments": []map[string]any{{"id": "c1", "content": "carry me over"}},
		}},
	})
	require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())
	assert.True(t, s.Exists("handoff:doc-next"))

	// Editor routes wait for the session to boot, which consumes the hand-off.
	rr = doJSON(t, h, http.MethodPost, "/api/documents/doc-next/threads/t9/comments", map[string]any{"content": "second"})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	assert.Len(t, decodeThread(t, rr).Comments, 2)

	view := decodeView(t, doJSON(t, h, http.MethodGet, "/api/documents/doc-next", nil))
	assert.Contains(t, view.HTML, "staged")
	assert.False(t, s.Exists("handoff:doc-next"))
}

func TestHandoffDisabled(t *testing.T) {
	_, h := newTestServer(t, testConfig(), nil, nil)
	rr := doJSON(t, h, http.MethodPost, "/api/documents/doc-1/handoff", map[string]any{"html": "x"})
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Equal(t, "HANDOFF_DISABLED", errorCode(t, rr))
}

func TestAIRoutesWithoutPanel(t *testing.T) {
	_, h := newTestServer(t, testConfig(), nil, nil)
	rr := doJSON(t, h, http.MethodPost, "/api/documents/doc-1/ai/solve-all", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Equal(t, "AI_UNAVAILABLE", errorCode(t, rr))

	// Click reports still drive the apply watcher.
	rr = doJSON(t, h, http.MethodPost, "/api/documents/doc-1/ai/clicks", map[string]any{"text": "Cancel"})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"apply":false}`, rr.Body.String())
}

func TestFixWithAIThenApplyResolvesThread(t *testing.T) {
	panel := &recordingPanel{}
	_, h := newTestServer(t, testConfig(), nil, staticPanels(panel))
	base := "/api/documents/doc-ai"

	doJSON(t, h, http.MethodPut, base+"/content", map[string]any{"html": "<p>make this shorter now</p>"})
	rr := doJSON(t, h, http.MethodPost, base+"/threads", map[string]any{"threadId": "t1", "anchorText": "this shorter", "content": "<b>Too</b> wordy"})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	rr = doJSON(t, h, http.MethodPost, base+"/ai/fix/t1", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var fixed map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &fixed))
	assert.Contains(t, fixed["prompt"], "Too wordy")
	assert.Contains(t, fixed["prompt"], "this shorter")
	assert.Equal(t, []string{fixed["prompt"]}, panel.sentPrompts())

	rr = doJSON(t, h, http.MethodPost, base+"/ai/clicks", map[string]any{"text": "Apply all"})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"apply":true}`, rr.Body.String())

	require.Eventually(t, func() bool {
		view := decodeView(t, doJSON(t, h, http.MethodGet, base, nil))
		return len(view.CommentsData) == 1 && view.CommentsData[0].IsResolved
	}, time.Second, 10*time.Millisecond)

	rr = doJSON(t, h, http.MethodPost, base+"/ai/solve-all", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"notice":"No open comments found to solve."}`, rr.Body.String())
}

func TestPromptRouteInjectsComments(t *testing.T) {
	panel := &recordingPanel{}
	_, h := newTestServer(t, testConfig(), nil, staticPanels(panel))
	base := "/api/documents/doc-prompt"

	doJSON(t, h, http.MethodPut, base+"/content", map[string]any{"html": "<p>one two</p>"})
	doJSON(t, h, http.MethodPost, base+"/threads", map[string]any{"threadId": "t1", "anchorText": "two", "content": "rename"})

	rr := doJSON(t, h, http.MethodPost, base+"/ai/prompt", map[string]any{"text": "Address the comments"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	sent := panel.sentPrompts()
	require.Len(t, sent, 1)
	assert.True(t, strings.HasPrefix(sent[0], "<!--FV_COMMENTS_CONTEXT_START-->"))
	assert.Contains(t, sent[0], "[Thread: t1]")
	assert.True(t, strings.HasSuffix(sent[0], "Address the comments"))

	rr = doJSON(t, h, http.MethodPost, base+"/ai/prompt", map[string]any{"text": "  "})
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
}

func TestServiceReusesSessions(t *testing.T) {
	svc, _ := newTestServer(t, testConfig(), nil, nil)
	a, err := svc.Open("doc-1")
	require.NoError(t, err)
	b, err := svc.Open("doc-1")
	require.NoError(t, err)
	assert.Same(t, a, b)
	assert.Equal(t, 1, svc.SessionCount())

	svc.Close()
	_, err = svc.Open("doc-2")
	assert.Error(t, err)
}

func waitBooted(t *testing.T, ds *DocumentSession) {
	t.Helper()
	select {
	case <-ds.booted:
	case <-time.After(2 * time.Second):
		t.Fatalf("session %s did not boot", ds.ID())
	}
}

func TestIdleSessionsAreSwept(t *testing.T) {
	cfg := testConfig()
	cfg.Bridge.IdleTTL = time.Hour
	svc, h := newTestServer(t, cfg, nil, nil)
	now := time.Date(2024, 5, 6, 7, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	for i := 0; i < 50; i++ {
		rr := doJSON(t, h, http.MethodGet, fmt.Sprintf("/api/documents/doc-%d", i), nil)
		require.Equal(t, http.StatusOK, rr.Code)
	}
	require.Equal(t, 50, svc.SessionCount())
	for i := 0; i < 50; i++ {
		ds, err := svc.Open(fmt.Sprintf("doc-%d", i))
		require.NoError(t, err)
		waitBooted(t, ds)
	}

	now = now.Add(30 * time.Minute)
	assert.Zero(t, svc.Sweep())
	assert.Equal(t, 50, svc.SessionCount())

	now = now.Add(time.Hour)
	assert.Equal(t, 50, svc.Sweep())
	assert.Zero(t, svc.SessionCount())

	fresh, err := svc.Open("doc-0")
	require.NoError(t, err)
	assert.Empty(t, fresh.Bridge().Store().All())
}

func TestHeldSessionIsNotSwept(t *testing.T) {
	cfg := testConfig()
	cfg.Bridge.IdleTTL = time.Hour
	svc, _ := newTestServer(t, cfg, nil, nil)
	now := time.Date(2024, 5, 6, 7, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	ds, release, err := svc.Acquire("doc-held")
	require.NoError(t, err)
	waitBooted(t, ds)

	now = now.Add(2 * time.Hour)
	assert.Zero(t, svc.Sweep())

	release()
	release()
	assert.Zero(t, svc.Sweep(), "release counts as use")

	now = now.Add(2 * time.Hour)
	assert.Equal(t, 1, svc.Sweep())
	assert.Zero(t, svc.SessionCount())
}

func TestSweepDisabledWithoutIdleTTL(t *testing.T) {
	svc, _ := newTestServer(t, testConfig(), nil, nil)
	now := time.Date(2024, 5, 6, 7, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }
	ds, err := svc.Open("doc-1")
	require.NoError(t, err)
	waitBooted(t, ds)

	now = now.Add(24 * time.Hour)
	assert.Zero(t, svc.Sweep())
	assert.Equal(t, 1, svc.SessionCount())
}

func TestEditorPageURL(t *testing.T) {
	got, err := editorPageURL("http://localhost:8080/editor?theme=dark", "doc 1")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080/editor?docId=doc+1&theme=dark", got)
	assert.Nil(t, BrowserPanels(config.AIConfig{}))
}
