// Copyright 2024 Alexandre Mahdhaoui
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
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Keys the test flow reads from the secrets file.
const (
	KeyOnboardingFile    = "ONBOARDING_FILE"
	KeyManagedConfigFile = "MANAGED_CONFIG_FILE"
	KeyOffboardingFile   = "OFFBOARDING_FILE"

	DefaultOffboardingFile = "mdatp_offboard.json"
)

var (
	ErrSecretsNotFound    = errors.New("secrets file not found")
	ErrMissingSecret      = errors.New("missing required secret")
	ErrSecretFileNotFound = errors.New("secret file not found")
)

// Secrets are the KEY=value pairs passed to every VM's provisioning
// environment.
type Secrets map[string]string

// LoadSecrets reads a .env style file.
func LoadSecrets(path string) (Secrets, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrSecretsNotFound, path)
	}
	if err != nil {
		return nil, fmt.Errorf("opening secrets file %s: %w", path, err)
	}
	defer f.Close()

	s, err := ParseSecrets(f)
	if err != nil {
		return nil, fmt.Errorf("reading secrets file %s: %w", path, err)
	}
	return s, nil
}

// ParseSecrets parses KEY=value lines. Blank lines and lines starting with
// '#' are skipped, lines without '=' are ignored and surrounding quotes are
// stripped from values.
func ParseSecrets(r io.Reader) (Secrets, error) {
	s := make(Secrets)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		s[strings.TrimSpace(key)] = strings.Trim(strings.TrimSpace(value), `'"`)
	}
	return s, scanner.Err()
}

// OffboardingFile returns the offboarding file name, or its default.
func (s Secrets) OffboardingFile() string {
	if v := s[KeyOffboardingFile]; v != "" {
		return v
	}
	return DefaultOffboardingFile
}

// ValidateFiles checks that the onboarding and managed config files are set
// and exist under baseDir. A missing offboarding file is only a warning.
// offboardingFile is the name the run resolved; empty means OffboardingFile().
func (s Secrets) ValidateFiles(baseDir, offboardingFile string) (warnings []string, err error) {
	var errs []error
	for _, key := range []string{KeyOnboardingFile, KeyManagedConfigFile} {
		name, ok := s[key]
		if !ok || name == "" {
			errs = append(errs, fmt.Errorf("%w: %s", ErrMissingSecret, key))
			continue
		}
		p := filepath.Join(baseDir, name)
		if _, statErr := os.Stat(p); statErr != nil {
			errs = append(errs, fmt.Errorf("%w: %s=%s", ErrSecretFileNotFound, key, p))
		}
	}

	if offboardingFile == "" {
		offboardingFile = s.OffboardingFile()
	}
	offboard := filepath.Join(baseDir, offboardingFile)
	if _, statErr := os.Stat(offboard); statErr != nil {
		warnings = append(warnings, fmt.Sprintf("offboarding file %s not found, offboarding will fail", offboard))
	}

	return warnings, errors.Join(errs...)
}
