package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

const (
	maxConfigSize = 1 << 20
	maxEnvVarLen  = 4096
)

var configExtensions = map[string]bool{".yaml": true, ".yml": true, ".json": true}

// readConfigFile opens path once and reads at most maxConfigSize bytes.
// Relative paths must stay under the working directory.
func readConfigFile(path string) ([]byte, error) {
	if !configExtensions[strings.ToLower(filepath.Ext(path))] {
		return nil, fmt.Errorf("%s: only .yaml, .yml and .json files are accepted", path)
	}
	if !filepath.IsAbs(path) && !filepath.IsLocal(path) {
		return nil, fmt.Errorf("%s: relative path leaves the working directory", path)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%s: not a regular file", path)
	}

	data, err := io.ReadAll(io.LimitReader(f, maxConfigSize+1))
	if err != nil {
		return nil, err
	}
	if len(data) > maxConfigSize {
		return nil, fmt.Errorf("%s: larger than %d bytes", path, maxConfigSize)
	}
	return data, nil
}

func checkEnvValue(key, value string) error {
	switch {
	case len(value) > maxEnvVarLen:
		return fmt.Errorf("%s is %d bytes, limit %d", key, len(value), maxEnvVarLen)
	case strings.ContainsRune(value, 0):
		return fmt.Errorf("%s contains a NUL byte", key)
	}
	return nil
}
