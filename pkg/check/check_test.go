package check

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type inner struct {
	Port int
}

func (i inner) Validate() []error {
	return []error{GreaterThan(i.Port, 0, "port must be positive")}
}

type outer struct {
	Name  string
	Inner inner
	More  []inner
}

func TestValidateWalksNestedFields(t *testing.T) {
	require.NoError(t, Validate(outer{Inner: inner{Port: 1}}))

	err := Validate(outer{
		Inner: inner{Port: 0},
		More:  []inner{{Port: 2}, {Port: -1}},
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "2 errors found")
	require.Contains(t, err.Error(), "root.Inner")
	require.Contains(t, err.Error(), "root.More[1]")
}

func TestHelpers(t *testing.T) {
	require.NoError(t, True(true))
	require.Error(t, True(false, "custom message"))
	require.EqualError(t, True(false, "custom message"), "custom message")

	require.NoError(t, NotEmpty("x"))
	require.Error(t, NotEmpty(""))

	require.NoError(t, In("a", []string{"a", "b"}))
	require.Error(t, In("c", []string{"a", "b"}))

	require.NoError(t, Identifier("df_result"))
	require.Error(t, Identifier("1badname"))
	require.Error(t, Identifier("has-dash"))
}
