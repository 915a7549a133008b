// Package api is the client for the notebook service: session lifecycle,
// document persistence, one-shot cell execution, and the factories that dial
// the kernel and collaboration channels.
package api

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/inkwell-ai/inkwell/pkg/model"
	"github.com/inkwell-ai/inkwell/pkg/protocol"
	"github.com/inkwell-ai/inkwell/pkg/ws"
)

const (
	httpInsecureScheme = "http"
	httpSecureScheme   = "https"
	wsInsecureScheme   = "ws"
	wsSecureScheme     = "wss"
)

// TLSOptions configures how the client trusts the notebook service.
type TLSOptions struct {
	Enabled    bool   `json:"enabled"`
	SkipVerify bool   `json:"skip_verify"`
	CertFile   string `json:"cert_file"`
	CertName   string `json:"cert_name"`
}

// Options locates the notebook service.
type Options struct {
	Host string     `json:"host"`
	Port int        `json:"port"`
	TLS  TLSOptions `json:"tls"`
}

// Client talks to the notebook service over HTTP and dials its websockets.
type Client struct {
	log *logrus.Entry

	httpProto string
	wsProto   string
	hostport  string
	client    *http.Client
	dialer    *websocket.Dialer
}

// NewClient builds a client from the given options.
func NewClient(opts Options) (*Client, error) {
	tlsConfig, err := tlsConfigFromOptions(opts.TLS)
	if err != nil {
		return nil, errors.Wrap(err, "failed to construct TLS config")
	}

	c := &Client{
		log:       logrus.WithField("component", "api-client"),
		httpProto: httpInsecureScheme,
		wsProto:   wsInsecureScheme,
		hostport:  fmt.Sprintf("%s:%d", opts.Host, opts.Port),
		client: &http.Client{
			Transport: &http.Transport{
				Proxy:           http.DefaultTransport.(*http.Transport).Proxy,
				TLSClientConfig: tlsConfig,
			},
		},
		dialer: &websocket.Dialer{
			Proxy:            websocket.DefaultDialer.Proxy,
			HandshakeTimeout: websocket.DefaultDialer.HandshakeTimeout,
			TLSClientConfig:  tlsConfig,
		},
	}
	if tlsConfig != nil {
		c.httpProto = httpSecureScheme
		c.wsProto = wsSecureScheme
	}
	return c, nil
}

func tlsConfigFromOptions(opts TLSOptions) (*tls.Config, error) {
	if !opts.Enabled {
		return nil, nil
	}

	var pool *x509.CertPool
	if opts.CertFile != "" {
		certData, err := os.ReadFile(opts.CertFile) //nolint:gosec
		if err != nil {
			return nil, errors.Wrap(err, "failed to read certificate file")
		}
		pool = x509.NewCertPool()
		if !pool.AppendCertsFromPEM(certData) {
			return nil, errors.New("certificate file contains no certificates")
		}
	}

	return &tls.Config{
		InsecureSkipVerify: opts.SkipVerify, //nolint:gosec
		MinVersion:         tls.VersionTLS12,
		RootCAs:            pool,
		ServerName:         opts.CertName,
	}, nil
}

func (c *Client) url(format string, args ...interface{}) string {
	return fmt.Sprintf("%s://%s%s", c.httpProto, c.hostport, fmt.Sprintf(format, args...))
}

func (c *Client) wsURL(format string, args ...interface{}) string {
	return fmt.Sprintf("%s://%s%s", c.wsProto, c.hostport, fmt.Sprintf(format, args...))
}

// do issues one JSON round trip and decodes the response into out, if non-nil.
func (c *Client) do(ctx context.Context, method, url string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		bs, err := json.Marshal(in)
		if err != nil {
			return errors.Wrap(err, "marshaling request body")
		}
		body = bytes.NewReader(bs)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return errors.Wrap(err, "building request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s %s", method, url)
	}
	defer func() {
		if cErr := resp.Body.Close(); cErr != nil {
			c.log.WithError(cErr).Warn("closing response body")
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		bs, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return errors.Errorf("%s %s: %s: %s", method, url, resp.Status, bytes.TrimSpace(bs))
	}
	if out == nil {
		return nil
	}
	return errors.Wrap(json.NewDecoder(resp.Body).Decode(out), "decoding response body")
}

type sessionResponse struct {
	SessionID model.SessionID `json:"sessionId"`
}

// CreateSession opens a new kernel session for the notebook.
func (c *Client) CreateSession(
	ctx context.Context, notebookID model.NotebookID,
) (model.SessionID, error) {
	var resp sessionResponse
	err := c.do(ctx, http.MethodPost,
		c.url("/api/v1/notebooks/%s/sessions", notebookID), nil, &resp)
	if err != nil {
		return "", errors.Wrap(err, "creating session")
	}
	return resp.SessionID, nil
}

// DeleteSession discards a kernel session and its kernel-side state.
func (c *Client) DeleteSession(ctx context.Context, sessionID model.SessionID) error {
	return errors.Wrap(
		c.do(ctx, http.MethodDelete, c.url("/api/v1/sessions/%s", sessionID), nil, nil),
		"deleting session")
}

// SavePayload is the durable subset of a notebook sent on save.
type SavePayload struct {
	Name        string            `json:"name"`
	Environment model.Environment `json:"environment"`
	Cells       []model.Cell      `json:"cells"`
}

// SaveNotebook persists the document and returns the saved copy. Callers
// inspect the returned cell list to confirm pending cells became durable.
func (c *Client) SaveNotebook(
	ctx context.Context, id model.NotebookID, payload SavePayload,
) (*model.Notebook, error) {
	var saved model.Notebook
	err := c.do(ctx, http.MethodPut, c.url("/api/v1/notebooks/%s", id), payload, &saved)
	if err != nil {
		return nil, errors.Wrap(err, "saving notebook")
	}
	return &saved, nil
}

// FetchNotebook loads the current persisted document.
func (c *Client) FetchNotebook(
	ctx context.Context, id model.NotebookID,
) (*model.Notebook, error) {
	var nb model.Notebook
	err := c.do(ctx, http.MethodGet, c.url("/api/v1/notebooks/%s", id), nil, &nb)
	if err != nil {
		return nil, errors.Wrap(err, "fetching notebook")
	}
	return &nb, nil
}

// CreateNotebook provisions a new document.
func (c *Client) CreateNotebook(
	ctx context.Context, name string,
) (*model.Notebook, error) {
	var nb model.Notebook
	err := c.do(ctx, http.MethodPost, c.url("/api/v1/notebooks"),
		map[string]string{"name": name}, &nb)
	if err != nil {
		return nil, errors.Wrap(err, "creating notebook")
	}
	return &nb, nil
}

// RunHTTP executes an http cell's request on the service and returns the
// structured response.
func (c *Client) RunHTTP(
	ctx context.Context, notebookID model.NotebookID, cellID model.CellID,
	req model.HTTPRequest,
) (*model.HTTPResponse, error) {
	var resp model.HTTPResponse
	err := c.do(ctx, http.MethodPost,
		c.url("/api/v1/notebooks/%s/cells/%s/http", notebookID, cellID), req, &resp)
	if err != nil {
		return nil, errors.Wrap(err, "running http cell")
	}
	return &resp, nil
}

// SQLRunRequest is the body of a one-shot sql execution.
type SQLRunRequest struct {
	ConnectionID   string `json:"connectionId"`
	Query          string `json:"query"`
	AssignVariable string `json:"assignVariable,omitempty"`
}

// RunSQL executes a sql cell's query on the service and returns the result.
func (c *Client) RunSQL(
	ctx context.Context, notebookID model.NotebookID, cellID model.CellID,
	req SQLRunRequest,
) (*model.SQLResult, error) {
	var result model.SQLResult
	err := c.do(ctx, http.MethodPost,
		c.url("/api/v1/notebooks/%s/cells/%s/sql", notebookID, cellID), req, &result)
	if err != nil {
		return nil, errors.Wrap(err, "running sql cell")
	}
	return &result, nil
}

// OpenKernelChannel dials the duplex kernel channel bound to the session.
func (c *Client) OpenKernelChannel(
	sessionID model.SessionID,
) (*ws.Websocket[protocol.KernelMessage, protocol.KernelRequest], error) {
	addr := c.wsURL("/api/v1/sessions/%s/channel", sessionID)
	c.log.Infof("connecting kernel channel at: %s", addr)
	conn, resp, err := c.dialer.Dial(addr, nil)
	if err != nil {
		return nil, errors.Wrap(err, "error dialing kernel channel")
	} else if err = resp.Body.Close(); err != nil {
		return nil, errors.Wrap(err, "failed to read response on connection")
	}
	return ws.Wrap[protocol.KernelMessage, protocol.KernelRequest]("kernel", conn), nil
}

// OpenCollabChannel dials the duplex collaboration channel for the notebook.
// It is a separate socket from the kernel channel with an independent
// lifecycle; closing one never closes the other.
func (c *Client) OpenCollabChannel(
	notebookID model.NotebookID,
) (*ws.Websocket[protocol.CollabFrame, protocol.CollabFrame], error) {
	addr := c.wsURL("/api/v1/notebooks/%s/collab", notebookID)
	c.log.Infof("connecting collaboration channel at: %s", addr)
	conn, resp, err := c.dialer.Dial(addr, nil)
	if err != nil {
		return nil, errors.Wrap(err, "error dialing collaboration channel")
	} else if err = resp.Body.Close(); err != nil {
		return nil, errors.Wrap(err, "failed to read response on connection")
	}
	return ws.Wrap[protocol.CollabFrame, protocol.CollabFrame]("collab", conn), nil
}
