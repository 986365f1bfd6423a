// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"os"
	"path/filepath"
	"strings"
)

// EnvConfig names the environment variable that overrides the config path.
const EnvConfig = "STAGEHAND_CONFIG"

// ConfigDir returns the XDG config directory for stagehand
// (~/.config/stagehand unless XDG_CONFIG_HOME is set).
func ConfigDir() (string, error) {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "stagehand"), nil
}

// ConfigPath returns the config file path, honouring STAGEHAND_CONFIG.
func ConfigPath() (string, error) {
	if p := os.Getenv(EnvConfig); p != "" {
		return expandHome(p), nil
	}
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "stagehand.yaml"), nil
}

func defaultStorePath() string {
	dir, err := ConfigDir()
	if err != nil {
		return "stagehand.db"
	}
	return filepath.Join(dir, "stagehand.db")
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}
