// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package secrets loads credentials from a directory of plain-text files,
// one secret per file: the file name is the key and the trimmed contents
// are the value.
//
// Recognized keys: anthropic-api-key, openalex-email, smtp-password.
package secrets

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pdiddy/deep-research/pkg/types"
)

// Key file names.
const (
	AnthropicAPIKey = "anthropic-api-key"
	OpenAlexEmail   = "openalex-email"
	SMTPPassword    = "smtp-password"
)

// Secrets maps key names to values.
type Secrets map[string]string

// Load reads every regular, non-hidden file in dir. A missing directory is
// not an error. Files that cannot be read are skipped, and files readable by
// other users are loaded; both produce a warning.
func Load(dir string) (Secrets, []string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return Secrets{}, nil, nil
		}
		return nil, nil, fmt.Errorf("reading secrets directory %s: %w", dir, err)
	}

	s := make(Secrets)
	var warnings []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") {
			continue
		}
		path := filepath.Join(dir, name)

		data, err := os.ReadFile(path)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("could not read secret %s: %v", name, err))
			continue
		}
		if info, err := entry.Info(); err == nil && info.Mode().Perm()&0o077 != 0 {
			warnings = append(warnings, fmt.Sprintf("secret %s is readable by other users (mode %v); consider chmod 600", name, info.Mode().Perm()))
		}

		if value := strings.TrimSpace(string(data)); value != "" {
			s[name] = value
		}
	}
	return s, warnings, nil
}

// Keys returns the loaded key names, sorted.
func (s Secrets) Keys() []string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Apply copies secrets into cfg where the configuration leaves the field
// empty, so values from the config file or environment win. It returns the
// keys it applied.
func (s Secrets) Apply(cfg *types.Config) []string {
	var applied []string
	set := func(dst *string, key string) {
		if v, ok := s[key]; ok && *dst == "" {
			*dst = v
			applied = append(applied, key)
		}
	}
	set(&cfg.Reasoning.APIKey, AnthropicAPIKey)
	set(&cfg.Search.OpenAlexEmail, OpenAlexEmail)
	set(&cfg.Email.Password, SMTPPassword)
	return applied
}
