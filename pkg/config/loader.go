package config

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	settingsFileName = "agentcore.yaml"
	localFileName    = "agentcore.local.yaml"
)

// Loaded is the outcome of one load: the merged settings plus a hash of the
// source bytes so watchers can skip no-op reloads.
type Loaded struct {
	Settings   *Settings
	SourceHash string
}

// Loader composes settings using the layered precedence model. Order
// (low to high): defaults < project file < local file < runtime overrides.
// Higher layers override lower ones while preserving unspecified fields.
type Loader struct {
	root      string
	overrides *Settings
}

// NewLoader creates a loader rooted at dir.
func NewLoader(dir string, overrides *Settings) (*Loader, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("config: root directory is required")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("config: resolve root: %w", err)
	}
	return &Loader{root: abs, overrides: overrides}, nil
}

// Root returns the directory the loader reads from.
func (l *Loader) Root() string { return l.root }

// Load resolves and merges settings across all layers, validating the result.
func (l *Loader) Load() (*Loaded, error) {
	merged := DefaultSettings()
	hasher := sha256.New()

	layers := []struct {
		name string
		path string
	}{
		{name: "project", path: filepath.Join(l.root, settingsFileName)},
		{name: "local", path: filepath.Join(l.root, localFileName)},
	}

	for _, layer := range layers {
		cfg, raw, err := loadYAMLFile(layer.path)
		if err != nil {
			return nil, fmt.Errorf("config: load %s layer: %w", layer.name, err)
		}
		if cfg == nil {
			continue
		}
		hasher.Write(raw)
		if next := Merge(&merged, cfg); next != nil {
			merged = *next
		}
	}

	if l.overrides != nil {
		log.Printf("config: applying runtime overrides")
		if next := Merge(&merged, l.overrides); next != nil {
			merged = *next
		}
	}

	if err := merged.Validate(); err != nil {
		return nil, fmt.Errorf("config: invalid settings: %w", err)
	}

	return &Loaded{
		Settings:   &merged,
		SourceHash: hex.EncodeToString(hasher.Sum(nil)),
	}, nil
}

// loadYAMLFile decodes a settings YAML file. Missing files return nil.
func loadYAMLFile(path string) (*Settings, []byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil, nil
		}
		return nil, nil, err
	}
	var s Settings
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return &s, data, nil
}
