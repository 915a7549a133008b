package options

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/inkwell-ai/inkwell/pkg/check"
)

func TestDefaultOptionsValidateAfterResolve(t *testing.T) {
	opts := DefaultOptions()
	opts.NotebookName = "scratch"
	require.Error(t, check.Validate(*opts))

	opts.Resolve()
	require.Equal(t, 8080, opts.ServicePort)
	require.NoError(t, check.Validate(*opts))
}

func TestResolvePicksTLSPort(t *testing.T) {
	opts := DefaultOptions()
	opts.TLS.Enabled = true
	opts.Resolve()
	require.Equal(t, 443, opts.ServicePort)

	// An explicit port wins over the scheme default.
	opts = DefaultOptions()
	opts.ServicePort = 9999
	opts.Resolve()
	require.Equal(t, 9999, opts.ServicePort)
}

func TestValidateRequiresNotebookIdentity(t *testing.T) {
	opts := DefaultOptions()
	opts.Resolve()
	err := check.Validate(*opts)
	require.Error(t, err)
	require.Contains(t, err.Error(), "notebook")

	opts.NotebookID = "nb1"
	require.NoError(t, check.Validate(*opts))
}

func TestServeOptionsValidate(t *testing.T) {
	opts := DefaultServeOptions()
	require.NoError(t, check.Validate(*opts))

	opts.DBPath = ""
	require.Error(t, check.Validate(*opts))
}
