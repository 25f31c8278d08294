// Package assetignore loads the patterns that keep files out of an asset
// root's index. Patterns are relative to the asset root.
package assetignore

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// ErrNoIgnoreFile reports an asset root carrying no ignore file.
var ErrNoIgnoreFile = errors.New("no ignore file found")

const (
	_assetIgnore = ".assetignore"
	_gitIgnore   = ".gitignore"
)

// Load returns the exclude patterns for the asset root dir. A .assetignore
// wins over a .gitignore; when the root has neither, the error is
// ErrNoIgnoreFile.
func Load(dir string) ([]string, error) {
	patterns, err := readPatternFile(filepath.Join(dir, _assetIgnore))
	if err == nil {
		return patterns, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("reading %s: %w", _assetIgnore, err)
	}

	patterns, err = readPatternFile(filepath.Join(dir, _gitIgnore))
	if err == nil {
		return patterns, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNoIgnoreFile
	}
	return nil, fmt.Errorf("reading %s: %w", _gitIgnore, err)
}

// LoadOptional is Load for roots where ignore files are optional.
func LoadOptional(dir string) ([]string, error) {
	patterns, err := Load(dir)
	if errors.Is(err, ErrNoIgnoreFile) {
		return nil, nil
	}
	return patterns, err
}

// readPatternFile returns one pattern per line, minus blanks and # comments.
// A leading "/" is dropped since every pattern already matches from the
// asset root; "!" negations pass through to the matcher.
func readPatternFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	patterns := []string{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		patterns = append(patterns, strings.TrimPrefix(line, "/"))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scanning ignore file: %w", err)
	}
	return patterns, nil
}
