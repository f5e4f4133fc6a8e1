// ABOUTME: Parser for agent bundle .env files with the platform-reserved keys filtered out.
// ABOUTME: A missing file yields an empty map; malformed lines are skipped.

package envfile

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
)

// ReservedPrefix marks variables owned by the agent runtime.
const ReservedPrefix = "GOOGLE_CLOUD_AGENT_ENGINE"

// reservedKeys are set by the hosting platform and must not be shipped.
var reservedKeys = map[string]struct{}{
	"GOOGLE_CLOUD_PROJECT":           {},
	"GOOGLE_CLOUD_QUOTA_PROJECT":     {},
	"GOOGLE_CLOUD_LOCATION":          {},
	"PORT":                           {},
	"K_SERVICE":                      {},
	"K_REVISION":                     {},
	"K_CONFIGURATION":                {},
	"GOOGLE_APPLICATION_CREDENTIALS": {},
}

// IsReserved reports whether key is owned by the hosting platform.
func IsReserved(key string) bool {
	if _, ok := reservedKeys[key]; ok {
		return true
	}
	return strings.HasPrefix(key, ReservedPrefix)
}

// Load reads and parses the env file at path. A file that does not exist is
// not an error and produces an empty map.
func Load(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("opening env file: %w", err)
	}
	defer f.Close()

	vars, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("reading env file %s: %w", path, err)
	}
	return vars, nil
}

// Parse reads KEY=VALUE lines from r.
//
// Everything after the first "#" in a value is treated as a comment, so
// values cannot contain a literal "#", even inside quotes.
func Parse(r io.Reader) (map[string]string, error) {
	vars := make(map[string]string)

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		key, value, ok := parseLine(scanner.Text())
		if !ok {
			continue
		}
		vars[key] = value
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return vars, nil
}

func parseLine(raw string) (string, string, bool) {
	line := strings.TrimSpace(raw)
	if line == "" || strings.HasPrefix(line, "#") {
		return "", "", false
	}

	key, value, found := strings.Cut(line, "=")
	if !found {
		return "", "", false
	}

	key = strings.TrimSpace(key)
	if rest, ok := strings.CutPrefix(key, "export "); ok {
		key = strings.TrimSpace(rest)
	}
	if key == "" || IsReserved(key) {
		return "", "", false
	}

	if i := strings.Index(value, "#"); i >= 0 {
		value = value[:i]
	}
	value = strings.TrimSpace(value)
	value = unquote(value)

	return key, value, true
}

// unquote strips one pair of matching surrounding quotes.
func unquote(v string) string {
	if len(v) < 2 {
		return v
	}
	first, last := v[0], v[len(v)-1]
	if first == last && (first == '"' || first == '\'') {
		return v[1 : len(v)-1]
	}
	return v
}
