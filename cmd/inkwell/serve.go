package main

import (
	"encoding/json"

	"github.com/ghodss/yaml"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/inkwell-ai/inkwell/internal/nbserver"
	"github.com/inkwell-ai/inkwell/internal/options"
	"github.com/inkwell-ai/inkwell/pkg/check"
)

func newServeCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "run the reference notebook service",
		Args:  cobra.NoArgs,
	}

	defaults := options.DefaultServeOptions()
	cmd.Flags().String("config-file", "", "path to the configuration file")
	cmd.Flags().String("bind-ip", defaults.BindIP, "ip address to listen on")
	cmd.Flags().Int("bind-port", defaults.BindPort, "port to listen on")
	cmd.Flags().String("db-path", defaults.DBPath,
		"sqlite database file, or :memory: for an ephemeral store")

	bindings := map[string]string{
		"config_file": "config-file",
		"bind_ip":     "bind-ip",
		"bind_port":   "bind-port",
		"db_path":     "db-path",
	}
	for key, flag := range bindings {
		if err := v.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
			panic(err)
		}
	}

	cmd.RunE = func(*cobra.Command, []string) error {
		opts, err := serveOptionsFromViper(v)
		if err != nil {
			return err
		}

		bs, err := readConfigFile(opts.ConfigFile)
		if err != nil {
			return err
		}
		if bs != nil {
			var configMap map[string]interface{}
			if err := yaml.Unmarshal(bs, &configMap); err != nil {
				return errors.Wrap(err, "cannot unmarshal yaml configuration file")
			}
			if err := v.MergeConfigMap(configMap); err != nil {
				return errors.Wrap(err, "cannot merge configuration into viper")
			}
			if opts, err = serveOptionsFromViper(v); err != nil {
				return err
			}
		}

		if err := check.Validate(*opts); err != nil {
			return errors.Wrap(err, "command-line arguments specify illegal configuration")
		}

		conf := nbserver.Config{Host: opts.BindIP, Port: opts.BindPort, DBPath: opts.DBPath}
		srv, err := nbserver.New(conf)
		if err != nil {
			return err
		}
		if err := srv.Run(conf); err != nil {
			log.Fatal(err)
		}
		return nil
	}

	return cmd
}

func serveOptionsFromViper(v *viper.Viper) (*options.ServeOptions, error) {
	bs, err := json.Marshal(v.AllSettings())
	if err != nil {
		return nil, errors.Wrap(err, "cannot marshal configuration map into json bytes")
	}
	opts := options.DefaultServeOptions()
	if err = yaml.Unmarshal(bs, opts, yaml.DisallowUnknownFields); err != nil {
		return nil, errors.Wrap(err, "cannot unmarshal configuration")
	}
	return opts, nil
}
