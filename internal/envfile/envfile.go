// Package envfile loads KEY=VALUE pairs from a .env file into the process
// environment without overriding variables that are already set.
//
// The engine reads its provider credentials (FORGEBENCH_API_KEY,
// OPENROUTER_API_KEY, OPENROUTER_BASE_URL), FORGEBENCH_MODEL, the fake
// switches and FORGEBENCH_DATA_DIR from the environment, so a .env file is
// the usual way to configure a development checkout.
package envfile

import (
	"bufio"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const (
	EnvPath  = "FORGEBENCH_ENV_PATH"
	FileName = ".env"
)

// recognizedPrefixes are the variable families the engine reads.
var recognizedPrefixes = []string{"FORGEBENCH_", "OPENROUTER_"}

type Result struct {
	Path   string
	Loaded bool
	// Keys lists the variables this load set, sorted.
	Keys []string
	Err  error
}

// Recognized returns the loaded keys the engine reads.
func (r Result) Recognized() []string {
	var out []string
	for _, key := range r.Keys {
		for _, prefix := range recognizedPrefixes {
			if strings.HasPrefix(key, prefix) {
				out = append(out, key)
				break
			}
		}
	}
	return out
}

// Load reads FORGEBENCH_ENV_PATH when set. Otherwise it uses the nearest
// .env at or above the working directory and falls back to a .env in each
// of dirs, typically the data directory. Only the first file found is read.
func Load(dirs ...string) Result {
	if override := strings.TrimSpace(os.Getenv(EnvPath)); override != "" {
		return LoadPath(override)
	}
	cwd, err := os.Getwd()
	if err != nil {
		return Result{Err: err}
	}
	if path := findUpwards(cwd, FileName); path != "" {
		return LoadPath(path)
	}
	for _, dir := range dirs {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		candidate := filepath.Join(dir, FileName)
		if _, err := os.Stat(candidate); err == nil {
			return LoadPath(candidate)
		}
	}
	return Result{}
}

func LoadPath(path string) Result {
	res := Result{Path: path}
	file, err := os.Open(path)
	if err != nil {
		res.Err = err
		return res
	}
	defer file.Close()
	res.Loaded = true
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasPrefix(line, "export ") {
			line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		}
		key, value, ok := splitLine(line)
		if !ok {
			continue
		}
		if _, exists := os.LookupEnv(key); exists {
			continue
		}
		if err := os.Setenv(key, value); err != nil {
			res.Err = err
			return res
		}
		res.Keys = append(res.Keys, key)
	}
	if err := scanner.Err(); err != nil {
		res.Err = err
	}
	sort.Strings(res.Keys)
	return res
}

func splitLine(line string) (string, string, bool) {
	idx := strings.Index(line, "=")
	if idx <= 0 {
		return "", "", false
	}
	key := strings.TrimSpace(line[:idx])
	if key == "" {
		return "", "", false
	}
	value := strings.TrimSpace(line[idx+1:])
	value = stripQuotes(value)
	return key, value, true
}

func stripQuotes(value string) string {
	if len(value) < 2 {
		return value
	}
	first := value[0]
	last := value[len(value)-1]
	if (first == '"' && last == '"') || (first == '\'' && last == '\'') {
		return value[1 : len(value)-1]
	}
	return value
}

func findUpwards(start, filename string) string {
	dir := start
	for {
		candidate := filepath.Join(dir, filename)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}
