// Package relays reads the relay list the engine talks to.
package relays

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// Loader handles loading and parsing of relays.yaml
type Loader struct {
	filePath string
}

// NewLoader creates a new relay list loader
func NewLoader(filePath string) *Loader {
	return &Loader{
		filePath: filePath,
	}
}

// Load reads and parses the relays.yaml file
func (l *Loader) Load() (Config, error) {
	data, err := os.ReadFile(l.filePath)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read relays file: %w", err)
	}

	data = expandVariables(data)

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return Config{}, fmt.Errorf("failed to parse relays yaml: %w", err)
	}

	return config, nil
}

var variablePattern = regexp.MustCompile(`\{\{([A-Z0-9_]+)\}\}`)

// expandVariables replaces {{NAME}} with the NAME environment variable.
// Unset variables expand to an empty string.
func expandVariables(data []byte) []byte {
	return variablePattern.ReplaceAllFunc(data, func(m []byte) []byte {
		name := variablePattern.FindSubmatch(m)[1]
		return []byte(os.Getenv(string(name)))
	})
}
