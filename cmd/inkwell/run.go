package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/ghodss/yaml"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/inkwell-ai/inkwell/internal/app"
	"github.com/inkwell-ai/inkwell/internal/options"
	"github.com/inkwell-ai/inkwell/pkg/check"
)

const defaultConfigPath = "/etc/inkwell/inkwell.yaml"

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "run the inkwell notebook client",
		Args:  cobra.NoArgs,
	}
	v := bindRunFlags(cmd)

	cmd.RunE = func(*cobra.Command, []string) error {
		opts, err := resolveOptions(v)
		if err != nil {
			return err
		}
		if opts.Debug {
			log.SetLevel(log.DebugLevel)
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		if err := app.Run(ctx, version, *opts); err != nil && !errors.Is(err, context.Canceled) {
			log.Fatal(err)
		}
		return nil
	}

	return cmd
}

// bindRunFlags registers the run command's flags and binds them into a fresh
// viper instance keyed by the option names.
func bindRunFlags(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	defaults := options.DefaultOptions()
	cmd.Flags().String("config-file", "", "path to the configuration file")
	cmd.Flags().String("service-host", defaults.ServiceHost, "hostname of the notebook service")
	cmd.Flags().Int("service-port", 0, "port of the notebook service")
	cmd.Flags().String("notebook-id", "", "id of the notebook to open")
	cmd.Flags().String("notebook-name", "", "name for a notebook to create when no id is given")
	cmd.Flags().String("actor-id", "", "collaboration identity; generated when empty")
	cmd.Flags().Bool("read-only", false, "open the notebook without a kernel session")
	cmd.Flags().Bool("run-all", false, "execute every code cell in order, then exit")
	cmd.Flags().Int64("exec-timeout-ms", 0, "per-cell execution timeout enforced by the kernel")
	cmd.Flags().Int("autosave-interval-ms", defaults.AutosaveIntervalMs,
		"debounce window between an edit and its save")
	cmd.Flags().Bool("tls", false, "connect to the notebook service over TLS")
	cmd.Flags().Bool("tls-skip-verify", false, "skip verification of the service certificate")
	cmd.Flags().String("tls-cert-file", "", "certificate file to trust for the service")
	cmd.Flags().String("tls-cert-name", "", "expected name on the service certificate")
	cmd.Flags().Bool("debug", false, "log at the debug level")

	bindings := map[string]string{
		"config_file":          "config-file",
		"service_host":         "service-host",
		"service_port":         "service-port",
		"notebook_id":          "notebook-id",
		"notebook_name":        "notebook-name",
		"actor_id":             "actor-id",
		"read_only":            "read-only",
		"run_all":              "run-all",
		"exec_timeout_ms":      "exec-timeout-ms",
		"autosave_interval_ms": "autosave-interval-ms",
		"tls.enabled":          "tls",
		"tls.skip_verify":      "tls-skip-verify",
		"tls.cert_file":        "tls-cert-file",
		"tls.cert_name":        "tls-cert-name",
		"debug":                "debug",
	}
	for key, flag := range bindings {
		if err := v.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
			panic(err)
		}
	}
	return v
}

// resolveOptions layers defaults, the config file, and flags, with the
// precedence flag > config > default.
func resolveOptions(v *viper.Viper) (*options.Options, error) {
	opts, err := optionsFromViper(v)
	if err != nil {
		return nil, err
	}

	bs, err := readConfigFile(opts.ConfigFile)
	if err != nil {
		return nil, err
	}
	if bs != nil {
		var configMap map[string]interface{}
		if err := yaml.Unmarshal(bs, &configMap); err != nil {
			return nil, errors.Wrap(err, "cannot unmarshal yaml configuration file")
		}
		if err := v.MergeConfigMap(configMap); err != nil {
			return nil, errors.Wrap(err, "cannot merge configuration into viper")
		}
		if opts, err = optionsFromViper(v); err != nil {
			return nil, err
		}
	}

	opts.Resolve()
	if err := check.Validate(*opts); err != nil {
		return nil, errors.Wrap(err, "command-line arguments specify illegal configuration")
	}
	return opts, nil
}

func optionsFromViper(v *viper.Viper) (*options.Options, error) {
	bs, err := json.Marshal(v.AllSettings())
	if err != nil {
		return nil, errors.Wrap(err, "cannot marshal configuration map into json bytes")
	}
	opts := options.DefaultOptions()
	if err = yaml.Unmarshal(bs, opts, yaml.DisallowUnknownFields); err != nil {
		return nil, errors.Wrap(err, "cannot unmarshal configuration")
	}
	return opts, nil
}

func readConfigFile(configPath string) ([]byte, error) {
	isDefault := configPath == ""
	if isDefault {
		configPath = defaultConfigPath
	}

	var err error
	if _, err = os.Stat(configPath); err != nil {
		if isDefault && os.IsNotExist(err) {
			log.Debugf("no configuration file at %s, skipping", configPath)
			return nil, nil
		}
		return nil, errors.Wrap(err, "error finding configuration file")
	}
	bs, err := os.ReadFile(configPath) // #nosec G304
	if err != nil {
		return nil, errors.Wrap(err, "error reading configuration file")
	}
	return bs, nil
}
