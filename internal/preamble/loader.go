package preamble

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"unicode/utf8"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/conneroisu/glimpse/internal/logging"
)

// FileName is the preamble file inside the config directory.
const FileName = "preamble.tex"

// AppDirName is the directory under the platform config root.
const AppDirName = "glimpse"

// ResolveConfigDir returns override if set, otherwise the platform config
// directory joined with AppDirName.
func ResolveConfigDir(override string) (string, error) {
	if override != "" {
		return filepath.Clean(override), nil
	}
	root, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolving user config dir: %w", err)
	}
	return filepath.Join(root, AppDirName), nil
}

// Path returns the preamble file path inside configDir.
func Path(configDir string) string {
	return filepath.Join(configDir, FileName)
}

// Load reads <configDir>/preamble.tex. Any failure falls back to
// DefaultPreamble; a missing file is logged at debug level, other read errors
// as warnings.
func Load(ctx context.Context, configDir string, logger logging.Logger) string {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if configDir == "" {
		logger.Debug(ctx, "No config directory, using default preamble")
		return DefaultPreamble
	}

	path := Path(configDir)
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Debug(ctx, "No user preamble, using default", "path", path)
		} else {
			logger.Warn(ctx, err, "Error reading preamble file, using default", "path", path)
		}
		return DefaultPreamble
	}

	if !utf8.Valid(raw) {
		logger.Warn(ctx, nil, "Preamble file is not valid UTF-8, using default", "path", path)
		return DefaultPreamble
	}

	content, err := stripBOM(raw)
	if err != nil {
		logger.Warn(ctx, err, "Error decoding preamble file, using default", "path", path)
		return DefaultPreamble
	}
	return content
}

// stripBOM removes a leading UTF-8 byte order mark, the way many Windows
// editors save files.
func stripBOM(raw []byte) (string, error) {
	decoder := unicode.BOMOverride(unicode.UTF8.NewDecoder())
	out, _, err := transform.Bytes(decoder, raw)
	if err != nil {
		return "", err
	}
	return string(out), nil
}
