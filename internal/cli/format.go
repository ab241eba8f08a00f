package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// outputFormat is a pflag.Value restricted to the supported encodings.
type outputFormat string

const (
	formatYAML outputFormat = "yaml"
	formatJSON outputFormat = "json"
)

var _ pflag.Value = (*outputFormat)(nil)

func (f *outputFormat) String() string { return string(*f) }

func (f *outputFormat) Set(value string) error {
	switch outputFormat(value) {
	case formatYAML, formatJSON:
		*f = outputFormat(value)
		return nil
	}
	return fmt.Errorf("must be one of yaml, json")
}

func (f *outputFormat) Type() string { return "format" }

func (f outputFormat) write(w io.Writer, v any) error {
	if f == formatJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}
