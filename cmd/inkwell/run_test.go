package main

import (
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
)

func TestRunFlagsResolveIntoOptions(t *testing.T) {
	cmd := &cobra.Command{}
	v := bindRunFlags(cmd)
	require.NoError(t, cmd.Flags().Parse([]string{
		"--notebook-id", "nb1",
		"--debug",
		"--tls",
	}))

	opts, err := resolveOptions(v)
	require.NoError(t, err)
	require.Equal(t, "nb1", opts.NotebookID)
	require.True(t, opts.Debug)
	require.True(t, opts.TLS.Enabled)
	require.Equal(t, 443, opts.ServicePort)
}

func TestRunFlagsDefaults(t *testing.T) {
	cmd := &cobra.Command{}
	v := bindRunFlags(cmd)
	require.NoError(t, cmd.Flags().Parse([]string{"--notebook-name", "scratch"}))

	opts, err := resolveOptions(v)
	require.NoError(t, err)
	require.False(t, opts.Debug)
	require.Equal(t, "localhost", opts.ServiceHost)
	require.Equal(t, 8080, opts.ServicePort)
}
