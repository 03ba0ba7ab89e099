// Package display decides how commands print their results and renders
// the machine-readable forms.
package display

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/teranos/subman/errors"
)

// Format is a result rendering
type Format string

const (
	FormatTable Format = "table"
	FormatJSON  Format = "json"
	FormatYAML  Format = "yaml"
)

// OutputFormat reads --json and --output from cmd or its root.
// --json wins over --output.
func OutputFormat(cmd *cobra.Command) (Format, error) {
	if cmd == nil {
		return FormatTable, nil
	}
	if jsonFlag, err := cmd.Flags().GetBool("json"); err == nil && jsonFlag {
		return FormatJSON, nil
	}

	out, err := cmd.Flags().GetString("output")
	if err != nil {
		return FormatTable, nil
	}
	switch f := Format(out); f {
	case "", FormatTable:
		return FormatTable, nil
	case FormatJSON, FormatYAML:
		return f, nil
	default:
		return "", errors.NewInvalidRequestError("unsupported output format %q (supported: table, json, yaml)", out)
	}
}

// Output writes v to w as JSON or YAML
func Output(w io.Writer, format Format, v interface{}) error {
	var data []byte
	var err error
	switch format {
	case FormatJSON:
		data, err = MarshalJSON(v)
	case FormatYAML:
		data, err = MarshalYAML(v)
	default:
		return errors.AssertionFailedf("format %q has no machine-readable rendering", format)
	}
	if err != nil {
		return errors.Wrapf(err, "failed to marshal %s", format)
	}
	_, err = fmt.Fprint(w, string(data))
	return err
}
