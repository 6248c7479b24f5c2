package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
)

type exchangesFile struct {
	Exchanges []string `toml:"exchanges"`
}

// LoadExchanges reads the relay's exchange list. The file is TOML:
//
//	exchanges = ["alpha", "beta"]
//
// A plain file whose first line is a comma separated list is accepted too.
// Names are trimmed and empty names dropped; the result may be empty.
func LoadExchanges(path string) ([]string, error) {
	// #nosec G304 - path comes from the operator
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read exchanges file: %w", err)
	}

	var file exchangesFile
	md, err := toml.Decode(string(data), &file)
	if err == nil && md.IsDefined("exchanges") {
		return cleanNames(file.Exchanges), nil
	}

	line, _, _ := strings.Cut(string(data), "\n")
	return cleanNames(strings.Split(line, ",")), nil
}

func cleanNames(names []string) []string {
	out := make([]string, 0, len(names))
	for _, name := range names {
		if name = strings.TrimSpace(name); name != "" {
			out = append(out, name)
		}
	}
	return out
}
