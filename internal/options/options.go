// Package options holds the configurable options for the inkwell client and
// the reference server, resolved from defaults, config file, environment, and
// flags.
package options

import (
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/inkwell-ai/inkwell/internal/api"
	"github.com/inkwell-ai/inkwell/pkg/check"
)

// Options stores all the configurable options for the inkwell client.
type Options struct {
	ConfigFile string `json:"config_file"`

	ServiceHost string         `json:"service_host"`
	ServicePort int            `json:"service_port"`
	TLS         api.TLSOptions `json:"tls"`

	NotebookID   string `json:"notebook_id"`
	NotebookName string `json:"notebook_name"`
	ActorID      string `json:"actor_id"`

	ReadOnly bool `json:"read_only"`
	// RunAll executes every code cell in document order after opening.
	RunAll bool `json:"run_all"`

	ExecTimeoutMs      int64 `json:"exec_timeout_ms"`
	AutosaveIntervalMs int   `json:"autosave_interval_ms"`

	// Debug forces the debug log level.
	Debug bool `json:"debug"`
}

// DefaultOptions returns the default client options.
func DefaultOptions() *Options {
	return &Options{
		ServiceHost:        "localhost",
		AutosaveIntervalMs: 300,
	}
}

// Validate implements the check.Validatable interface.
func (o Options) Validate() []error {
	errs := []error{
		check.NotEmpty(o.ServiceHost, "service host must be provided"),
		check.GreaterThan(o.ServicePort, 0, "service port must be positive"),
	}
	if o.NotebookID == "" && o.NotebookName == "" {
		errs = append(errs, errors.New("either a notebook id or a notebook name must be provided"))
	}
	return errs
}

// Resolve fills dynamic defaults.
func (o *Options) Resolve() {
	if o.ServicePort == 0 {
		if o.TLS.Enabled {
			o.ServicePort = 443
		} else {
			o.ServicePort = 8080
		}
	}
}

// ClientOptions converts to the api client's option set.
func (o Options) ClientOptions() api.Options {
	return api.Options{
		Host: o.ServiceHost,
		Port: o.ServicePort,
		TLS:  o.TLS,
	}
}

// Printable returns a printable string.
func (o Options) Printable() ([]byte, error) {
	optJSON, err := json.Marshal(o)
	if err != nil {
		return nil, errors.Wrap(err, "unable to convert config to JSON")
	}
	return optJSON, nil
}

// ServeOptions stores the configurable options for the reference server.
type ServeOptions struct {
	ConfigFile string `json:"config_file"`

	BindIP   string `json:"bind_ip"`
	BindPort int    `json:"bind_port"`
	DBPath   string `json:"db_path"`
}

// DefaultServeOptions returns the default server options.
func DefaultServeOptions() *ServeOptions {
	return &ServeOptions{
		BindIP:   "0.0.0.0",
		BindPort: 8080,
		DBPath:   "inkwell.db",
	}
}

// Validate implements the check.Validatable interface.
func (o ServeOptions) Validate() []error {
	return []error{
		check.NotEmpty(o.BindIP, "bind ip must be provided"),
		check.GreaterThan(o.BindPort, 0, "bind port must be positive"),
		check.NotEmpty(o.DBPath, "db path must be provided"),
	}
}
