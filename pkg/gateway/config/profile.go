package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-yaml"

	"github.com/vango-go/vai-voice/pkg/core/types"
)

// LoadProfile reads an agent profile from a YAML or JSON file. An empty path
// returns the built-in profile. Fields the file leaves out keep their
// defaults.
func LoadProfile(path string) (types.AgentProfile, error) {
	if strings.TrimSpace(path) == "" {
		return types.DefaultAgentProfile(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return types.AgentProfile{}, fmt.Errorf("read agent profile: %w", err)
	}

	var p types.AgentProfile
	if filepath.Ext(path) == ".json" {
		if err := json.Unmarshal(data, &p); err != nil {
			return types.AgentProfile{}, fmt.Errorf("parse json agent profile: %w", err)
		}
	} else if err := yaml.UnmarshalWithOptions(data, &p, yaml.Strict()); err != nil {
		return types.AgentProfile{}, fmt.Errorf("parse yaml agent profile: %w", err)
	}
	return p.WithDefaults(), nil
}
