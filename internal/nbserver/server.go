// Package nbserver is a reference notebook service: sqlite-backed document
// storage, session lifecycle, a stub kernel behind the kernel channel, a
// collaboration fanout hub, and one-shot http/sql cell execution. It exists so
// the engine can be run and tested end to end without a production deployment.
package nbserver

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/inkwell-ai/inkwell/internal/api"
	"github.com/inkwell-ai/inkwell/pkg/check"
	"github.com/inkwell-ai/inkwell/pkg/model"
)

// Config locates the server and its database.
type Config struct {
	Host string `json:"host"`
	Port int    `json:"port"`
	// DBPath is the sqlite file, or ":memory:" for an ephemeral store.
	DBPath string `json:"db_path"`
}

// Server is the reference notebook service.
type Server struct {
	log  *logrus.Entry
	echo *echo.Echo

	store *storage
	hub   *hub

	mu       sync.Mutex
	sessions map[model.SessionID]model.NotebookID

	upgrader websocket.Upgrader
	// outbound issues http cell requests; swappable for tests.
	outbound *http.Client
}

// New builds a server and registers its routes.
func New(conf Config) (*Server, error) {
	store, err := openStorage(conf.DBPath)
	if err != nil {
		return nil, err
	}

	s := &Server{
		log:      logrus.WithField("component", "nbserver"),
		echo:     echo.New(),
		store:    store,
		hub:      newHub(),
		sessions: map[model.SessionID]model.NotebookID{},
		upgrader: websocket.Upgrader{},
		outbound: &http.Client{Timeout: 30 * time.Second},
	}
	s.echo.HideBanner = true
	s.echo.HidePort = true

	s.echo.POST("/api/v1/notebooks", s.createNotebook)
	s.echo.GET("/api/v1/notebooks", s.listNotebooks)
	s.echo.GET("/api/v1/notebooks/:id", s.getNotebook)
	s.echo.PUT("/api/v1/notebooks/:id", s.saveNotebook)
	s.echo.DELETE("/api/v1/notebooks/:id", s.deleteNotebook)
	s.echo.POST("/api/v1/notebooks/:id/sessions", s.createSession)
	s.echo.DELETE("/api/v1/sessions/:id", s.deleteSession)
	s.echo.GET("/api/v1/sessions/:id/channel", s.kernelChannel)
	s.echo.GET("/api/v1/notebooks/:id/collab", s.collabChannel)
	s.echo.POST("/api/v1/notebooks/:id/cells/:cellId/http", s.runHTTPCell)
	s.echo.POST("/api/v1/notebooks/:id/cells/:cellId/sql", s.runSQLCell)
	return s, nil
}

// Run serves until the listener fails.
func (s *Server) Run(conf Config) error {
	addr := fmt.Sprintf("%s:%d", conf.Host, conf.Port)
	s.log.Infof("listening on %s", addr)
	return s.echo.Start(addr)
}

// Handler exposes the route tree; tests mount it on httptest servers.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Close shuts the listener and storage down.
func (s *Server) Close() error {
	if err := s.echo.Shutdown(context.Background()); err != nil {
		s.log.WithError(err).Warn("shutting down listener")
	}
	return s.store.close()
}

func (s *Server) createNotebook(c echo.Context) error {
	var body struct {
		Name string `json:"name"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	now := time.Now().UTC()
	nb := &model.Notebook{
		ID:        model.NotebookID(uuid.NewString()),
		Name:      body.Name,
		Cells:     []model.Cell{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.create(c.Request().Context(), nb); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, nb)
}

func (s *Server) listNotebooks(c echo.Context) error {
	nbs, err := s.store.list(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, nbs)
}

func (s *Server) getNotebook(c echo.Context) error {
	nb, err := s.store.get(c.Request().Context(), model.NotebookID(c.Param("id")))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return c.JSON(http.StatusOK, nb)
}

func (s *Server) saveNotebook(c echo.Context) error {
	id := model.NotebookID(c.Param("id"))
	var payload api.SavePayload
	if err := c.Bind(&payload); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	ctx := c.Request().Context()
	nb, err := s.store.get(ctx, id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}

	nb.Name = payload.Name
	nb.Environment = payload.Environment
	nb.Cells = payload.Cells
	nb.UpdatedAt = time.Now().UTC()
	if err := check.Validate(nb); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := s.store.put(ctx, nb); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, nb)
}

func (s *Server) deleteNotebook(c echo.Context) error {
	if err := s.store.delete(c.Request().Context(), model.NotebookID(c.Param("id"))); err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) createSession(c echo.Context) error {
	id := model.NotebookID(c.Param("id"))
	if _, err := s.store.get(c.Request().Context(), id); err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}

	sessionID := model.SessionID(uuid.NewString())
	s.mu.Lock()
	s.sessions[sessionID] = id
	s.mu.Unlock()

	return c.JSON(http.StatusOK, map[string]model.SessionID{"sessionId": sessionID})
}

func (s *Server) deleteSession(c echo.Context) error {
	sessionID := model.SessionID(c.Param("id"))
	s.mu.Lock()
	_, ok := s.sessions[sessionID]
	delete(s.sessions, sessionID)
	s.mu.Unlock()
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "session not found")
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) kernelChannel(c echo.Context) error {
	sessionID := model.SessionID(c.Param("id"))
	s.mu.Lock()
	_, ok := s.sessions[sessionID]
	s.mu.Unlock()
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "session not found")
	}

	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return errors.Wrap(err, "upgrading kernel channel")
	}
	defer func() {
		_ = conn.Close()
	}()
	serveKernel(conn, s.log.WithField("session", sessionID))
	return nil
}

func (s *Server) collabChannel(c echo.Context) error {
	id := model.NotebookID(c.Param("id"))
	if _, err := s.store.get(c.Request().Context(), id); err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}

	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return errors.Wrap(err, "upgrading collaboration channel")
	}
	defer func() {
		_ = conn.Close()
	}()
	s.hub.serve(id, conn, func() (*model.Notebook, error) {
		return s.store.get(context.Background(), id)
	})
	return nil
}

func (s *Server) runHTTPCell(c echo.Context) error {
	var req model.HTTPRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.URL == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "http cell request has no url")
	}
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	out, err := http.NewRequestWithContext(
		c.Request().Context(), method, req.URL, strings.NewReader(req.Body))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	for k, v := range req.Headers {
		out.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := s.outbound.Do(out)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	headers := map[string]string{}
	for k := range resp.Header {
		headers[k] = resp.Header.Get(k)
	}
	return c.JSON(http.StatusOK, model.HTTPResponse{
		Status:     resp.StatusCode,
		Headers:    headers,
		Body:       string(body),
		DurationMs: time.Since(start).Milliseconds(),
	})
}

func (s *Server) runSQLCell(c echo.Context) error {
	id := model.NotebookID(c.Param("id"))
	var req api.SQLRunRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	ctx := c.Request().Context()
	nb, err := s.store.get(ctx, id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	conn := nb.Connection(req.ConnectionID)
	if conn == nil {
		return echo.NewHTTPError(http.StatusBadRequest,
			fmt.Sprintf("notebook has no connection %s", req.ConnectionID))
	}
	if conn.Driver != "sqlite" {
		return echo.NewHTTPError(http.StatusBadRequest,
			fmt.Sprintf("unsupported sql driver %s", conn.Driver))
	}

	result, err := runQuery(ctx, conn.DSN, req.Query)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, result)
}

// runQuery executes one query against the connection's own database and
// flattens the rows for JSON transport.
func runQuery(ctx context.Context, dsn, query string) (*model.SQLResult, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "opening sql connection")
	}
	defer func() {
		_ = db.Close()
	}()

	start := time.Now()
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, "executing query")
	}
	defer func() {
		_ = rows.Close()
	}()

	columns, err := rows.Columns()
	if err != nil {
		return nil, errors.Wrap(err, "reading result columns")
	}

	result := &model.SQLResult{Columns: columns, Rows: [][]interface{}{}}
	for rows.Next() {
		values := make([]interface{}, len(columns))
		scans := make([]interface{}, len(columns))
		for i := range values {
			scans[i] = &values[i]
		}
		if err := rows.Scan(scans...); err != nil {
			return nil, errors.Wrap(err, "scanning result row")
		}
		for i, v := range values {
			if bs, ok := v.([]byte); ok {
				values[i] = string(bs)
			}
		}
		result.Rows = append(result.Rows, values)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterating result rows")
	}
	result.RowCount = len(result.Rows)
	result.DurationMs = time.Since(start).Milliseconds()
	return result, nil
}
