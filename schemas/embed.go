// Package schemas holds the JSON Schemas for the engine's configuration file and run report.
package schemas

import (
	"embed"
	"fmt"
)

const (
	RunReport = "run_report.schema.json"
	Config    = "config.schema.json"
)

//go:embed *.schema.json
var files embed.FS

// Load returns the named schema document.
func Load(name string) ([]byte, error) {
	data, err := files.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("schema %s not found: %w", name, err)
	}
	return data, nil
}

// Names lists the embedded schemas.
func Names() []string {
	return []string{Config, RunReport}
}
