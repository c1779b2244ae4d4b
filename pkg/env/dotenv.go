package env

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
)

// Prefix marks the variables the server reads. Only these are imported from
// a .env file, since every other variable would leak into executed commands.
const Prefix = "SHELLMCP_"

// LoadFromDir imports SHELLMCP_* settings from dir/.env.
func LoadFromDir(dir string) (int, error) {
	return Load(filepath.Join(dir, ".env"), Prefix)
}

// Load sets each KEY=value in path whose key starts with prefix, unless the
// variable is already set. A missing file is not an error. It returns the
// number of variables set.
func Load(path, prefix string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	defer f.Close()

	set := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		key, val, ok := parseLine(scanner.Text())
		if !ok || !strings.HasPrefix(key, prefix) {
			continue
		}
		if _, exists := os.LookupEnv(key); exists {
			continue
		}
		if err := os.Setenv(key, val); err != nil {
			return set, err
		}
		set++
	}
	return set, scanner.Err()
}

func parseLine(line string) (string, string, bool) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return "", "", false
	}
	line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
	key, val, ok := strings.Cut(line, "=")
	if !ok {
		return "", "", false
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return "", "", false
	}
	return key, strings.Trim(strings.TrimSpace(val), `"'`), true
}
