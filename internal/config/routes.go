package config

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Routes is the optional routes file.
//
//	api:
//	  - /api/
//	  - 'backend\.example:3000'
//	assets:
//	  - tile
//	  - 'fonts\.gstatic\.com'
//	core_assets:
//	  - /index.html
//	  - /favicon.ico
//	shell: /index.html
//
// Empty fields keep the gateway defaults.
type Routes struct {
	API        []string `yaml:"api"`
	Assets     []string `yaml:"assets"`
	CoreAssets []string `yaml:"core_assets"`
	Shell      string   `yaml:"shell"`
}

// LoadRoutes reads the routes file at path. Unknown keys are rejected.
func LoadRoutes(path string) (Routes, error) {
	f, err := os.Open(path)
	if err != nil {
		return Routes{}, fmt.Errorf("open routes file: %w", err)
	}
	defer f.Close()
	return DecodeRoutes(f)
}

// DecodeRoutes decodes a routes document from r. An empty document yields
// zero Routes.
func DecodeRoutes(r io.Reader) (Routes, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var routes Routes
	if err := dec.Decode(&routes); err != nil && !errors.Is(err, io.EOF) {
		return Routes{}, fmt.Errorf("decode routes: %w", err)
	}
	return routes, nil
}
