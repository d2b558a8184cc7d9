package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

// printResult writes v in the format selected on the root command.
func printResult(out io.Writer, cmd *cli.Command, v interface{}) error {
	switch cmd.String(formatFlag.Name) {
	case formatYAML, "yml":
		b, err := toYAML(v)
		if err != nil {
			return err
		}
		_, err = out.Write(b)
		return err
	default:
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("error encoding result: %w", err)
		}
		return nil
	}
}

// toYAML renders v through its JSON form so field names and big integers are
// identical in both formats.
func toYAML(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("error encoding result: %w", err)
	}

	var doc yaml.Node
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("error converting result: %w", err)
	}
	plain(&doc)

	b, err := yaml.Marshal(&doc)
	if err != nil {
		return nil, fmt.Errorf("error encoding result: %w", err)
	}
	return b, nil
}

// plain drops the flow and quoting styles inherited from JSON.
func plain(n *yaml.Node) {
	n.Style = 0
	for _, c := range n.Content {
		plain(c)
	}
}
