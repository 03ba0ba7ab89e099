package display

import (
	"bytes"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/subman/errors"
)

func newCmd(t *testing.T, args ...string) *cobra.Command {
	t.Helper()
	root := &cobra.Command{Use: "subman"}
	root.PersistentFlags().Bool("json", false, "")
	root.PersistentFlags().StringP("output", "o", "table", "")
	child := &cobra.Command{Use: "add", RunE: func(*cobra.Command, []string) error { return nil }}
	root.AddCommand(child)
	root.SetArgs(append([]string{"add"}, args...))
	require.NoError(t, root.Execute())
	return child
}

func TestOutputFormat(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		want    Format
		wantErr bool
	}{
		{"default", nil, FormatTable, false},
		{"json flag", []string{"--json"}, FormatJSON, false},
		{"output yaml", []string{"-o", "yaml"}, FormatYAML, false},
		{"json wins", []string{"--json", "--output", "yaml"}, FormatJSON, false},
		{"unknown", []string{"--output", "xml"}, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := OutputFormat(newCmd(t, tt.args...))
			if tt.wantErr {
				assert.True(t, errors.Is(err, errors.ErrInvalidRequest))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	got, err := OutputFormat(nil)
	require.NoError(t, err)
	assert.Equal(t, FormatTable, got)
}

func TestOutput(t *testing.T) {
	v := struct {
		Pallet     string `json:"pallet" yaml:"pallet"`
		Constraint string `json:"constraint" yaml:"constraint"`
	}{"pallet-balances", ">=4.0.0, <5.0.0"}

	var buf bytes.Buffer
	require.NoError(t, Output(&buf, FormatJSON, v))
	assert.Equal(t, "{\n  \"pallet\": \"pallet-balances\",\n  \"constraint\": \">=4.0.0, <5.0.0\"\n}\n", buf.String())

	buf.Reset()
	require.NoError(t, Output(&buf, FormatYAML, v))
	assert.Equal(t, "pallet: pallet-balances\nconstraint: '>=4.0.0, <5.0.0'\n", buf.String())

	assert.Error(t, Output(&buf, FormatTable, v))
}
