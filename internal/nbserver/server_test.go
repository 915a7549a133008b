package nbserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/inkwell-ai/inkwell/internal/api"
	"github.com/inkwell-ai/inkwell/pkg/model"
	"github.com/inkwell-ai/inkwell/pkg/protocol"
)

func setupServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	s, err := New(Config{DBPath: ":memory:"})
	require.NoError(t, err)
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		srv.Close()
		require.NoError(t, s.store.close())
	})
	return s, srv
}

func doJSON(t *testing.T, method, url string, in, out interface{}) *http.Response {
	t.Helper()
	var body bytes.Buffer
	if in != nil {
		require.NoError(t, json.NewEncoder(&body).Encode(in))
	}
	req, err := http.NewRequest(method, url, &body)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	if out != nil && resp.StatusCode < 300 {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp
}

func createTestNotebook(t *testing.T, srv *httptest.Server, name string) *model.Notebook {
	t.Helper()
	var nb model.Notebook
	resp := doJSON(t, http.MethodPost, srv.URL+"/api/v1/notebooks",
		map[string]string{"name": name}, &nb)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotEmpty(t, nb.ID)
	return &nb
}

func TestNotebookCRUD(t *testing.T) {
	_, srv := setupServer(t)
	nb := createTestNotebook(t, srv, "demo")

	var fetched model.Notebook
	resp := doJSON(t, http.MethodGet, srv.URL+"/api/v1/notebooks/"+string(nb.ID), nil, &fetched)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "demo", fetched.Name)

	payload := api.SavePayload{
		Name: "renamed",
		Cells: []model.Cell{
			{ID: "c1", Code: &model.CodeCell{Source: "1"}},
		},
	}
	var saved model.Notebook
	resp = doJSON(t, http.MethodPut, srv.URL+"/api/v1/notebooks/"+string(nb.ID), payload, &saved)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "renamed", saved.Name)
	require.Len(t, saved.Cells, 1)
	require.NotNil(t, saved.Cells[0].Code)

	var listed []model.Notebook
	resp = doJSON(t, http.MethodGet, srv.URL+"/api/v1/notebooks", nil, &listed)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, listed, 1)

	resp = doJSON(t, http.MethodDelete, srv.URL+"/api/v1/notebooks/"+string(nb.ID), nil, nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp = doJSON(t, http.MethodGet, srv.URL+"/api/v1/notebooks/"+string(nb.ID), nil, nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSaveRejectsDuplicateCellIDs(t *testing.T) {
	_, srv := setupServer(t)
	nb := createTestNotebook(t, srv, "demo")

	payload := api.SavePayload{
		Name: "demo",
		Cells: []model.Cell{
			{ID: "c1", Code: &model.CodeCell{Source: "1"}},
			{ID: "c1", Markdown: &model.MarkdownCell{Source: "dup"}},
		},
	}
	resp := doJSON(t, http.MethodPut, srv.URL+"/api/v1/notebooks/"+string(nb.ID), payload, nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSessionLifecycle(t *testing.T) {
	_, srv := setupServer(t)
	nb := createTestNotebook(t, srv, "demo")

	var created map[string]model.SessionID
	resp := doJSON(t, http.MethodPost,
		srv.URL+"/api/v1/notebooks/"+string(nb.ID)+"/sessions", nil, &created)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	sessionID := created["sessionId"]
	require.NotEmpty(t, sessionID)

	resp = doJSON(t, http.MethodDelete, srv.URL+"/api/v1/sessions/"+string(sessionID), nil, nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp = doJSON(t, http.MethodDelete, srv.URL+"/api/v1/sessions/"+string(sessionID), nil, nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = doJSON(t, http.MethodPost,
		srv.URL+"/api/v1/notebooks/missing/sessions", nil, nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestKernelStubSpeaksFullSequence(t *testing.T) {
	_, srv := setupServer(t)
	nb := createTestNotebook(t, srv, "demo")

	var created map[string]model.SessionID
	doJSON(t, http.MethodPost, srv.URL+"/api/v1/notebooks/"+string(nb.ID)+"/sessions", nil, &created)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") +
		"/api/v1/sessions/" + string(created["sessionId"]) + "/channel"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	t.Cleanup(func() { _ = conn.Close() })

	read := func() protocol.KernelMessage {
		var msg protocol.KernelMessage
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
		require.NoError(t, conn.ReadJSON(&msg))
		return msg
	}

	require.NotNil(t, read().Hello)

	require.NoError(t, conn.WriteJSON(protocol.KernelRequest{
		Execute: &protocol.ExecuteRequest{CellID: "c1", Code: "print(1)"},
	}))

	msg := read()
	require.NotNil(t, msg.Status)
	require.Equal(t, protocol.KernelBusy, msg.Status.State)

	msg = read()
	require.NotNil(t, msg.Stream)
	require.Equal(t, "print(1)", msg.Stream.Text)

	msg = read()
	require.NotNil(t, msg.ExecuteReply)
	require.Equal(t, model.CellID("c1"), msg.ExecuteReply.CellID)

	msg = read()
	require.NotNil(t, msg.Status)
	require.Equal(t, protocol.KernelIdle, msg.Status.State)
}

func dialCollab(t *testing.T, srv *httptest.Server, id model.NotebookID) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") +
		"/api/v1/notebooks/" + string(id) + "/collab"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readCollab(t *testing.T, conn *websocket.Conn) protocol.CollabFrame {
	t.Helper()
	var frame protocol.CollabFrame
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	require.NoError(t, conn.ReadJSON(&frame))
	return frame
}

func TestCollabHubStateAndFanout(t *testing.T) {
	_, srv := setupServer(t)
	nb := createTestNotebook(t, srv, "demo")

	alice := dialCollab(t, srv, nb.ID)
	bob := dialCollab(t, srv, nb.ID)

	// request-state answers with the durable snapshot.
	require.NoError(t, alice.WriteJSON(protocol.CollabFrame{
		RequestState: &protocol.RequestState{},
	}))
	frame := readCollab(t, alice)
	require.NotNil(t, frame.State)
	require.Equal(t, nb.ID, frame.State.Notebook.ID)

	// Updates fan out to everyone, echo to the sender included.
	update := protocol.CollabFrame{Update: &protocol.Update{
		ActorID:  "alice",
		Notebook: &model.Notebook{ID: nb.ID, Name: "edited"},
	}}
	require.NoError(t, alice.WriteJSON(update))

	got := readCollab(t, bob)
	require.NotNil(t, got.Update)
	require.Equal(t, model.ActorID("alice"), got.Update.ActorID)
	require.Equal(t, "edited", got.Update.Notebook.Name)

	echo := readCollab(t, alice)
	require.NotNil(t, echo.Update)
	require.Equal(t, model.ActorID("alice"), echo.Update.ActorID)

	// A later request-state reflects the live edit, not just the durable copy.
	require.NoError(t, bob.WriteJSON(protocol.CollabFrame{
		RequestState: &protocol.RequestState{},
	}))
	frame = readCollab(t, bob)
	require.NotNil(t, frame.State)
	require.Equal(t, "edited", frame.State.Notebook.Name)

	// Presence goes to peers only.
	require.NoError(t, bob.WriteJSON(protocol.CollabFrame{
		Presence: &protocol.Presence{ActorID: "bob"},
	}))
	presence := readCollab(t, alice)
	require.NotNil(t, presence.Presence)
	require.Equal(t, model.ActorID("bob"), presence.Presence.ActorID)
}

func TestHTTPCellExecution(t *testing.T) {
	_, srv := setupServer(t)
	nb := createTestNotebook(t, srv, "demo")

	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "inkwell-test", r.Header.Get("X-Client"))
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusTeapot)
		fmt.Fprint(w, "short and stout")
	}))
	t.Cleanup(target.Close)

	var out model.HTTPResponse
	resp := doJSON(t, http.MethodPost,
		srv.URL+"/api/v1/notebooks/"+string(nb.ID)+"/cells/c1/http",
		model.HTTPRequest{
			Method:  http.MethodGet,
			URL:     target.URL,
			Headers: map[string]string{"X-Client": "inkwell-test"},
		}, &out)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, http.StatusTeapot, out.Status)
	require.Equal(t, "short and stout", out.Body)
	require.Equal(t, "text/plain", out.Headers["Content-Type"])
}

func TestSQLCellExecution(t *testing.T) {
	s, srv := setupServer(t)
	nb := createTestNotebook(t, srv, "demo")

	// Attach a connection directly through storage; the save payload does not
	// carry connections.
	ctx := context.Background()
	stored, err := s.store.get(ctx, nb.ID)
	require.NoError(t, err)
	stored.SQLConnections = []model.SQLConnection{
		{ID: "conn1", Name: "scratch", Driver: "sqlite", DSN: ":memory:"},
	}
	require.NoError(t, s.store.put(ctx, stored))

	var result model.SQLResult
	resp := doJSON(t, http.MethodPost,
		srv.URL+"/api/v1/notebooks/"+string(nb.ID)+"/cells/c1/sql",
		api.SQLRunRequest{ConnectionID: "conn1", Query: "select 1 as one, 'a' as letter"},
		&result)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, []string{"one", "letter"}, result.Columns)
	require.Equal(t, 1, result.RowCount)
	require.Len(t, result.Rows, 1)

	// Unknown connections are rejected before any I/O.
	resp = doJSON(t, http.MethodPost,
		srv.URL+"/api/v1/notebooks/"+string(nb.ID)+"/cells/c1/sql",
		api.SQLRunRequest{ConnectionID: "nope", Query: "select 1"}, nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
