package pathutil

import (
	"errors"
	"os"
	"os/user"
	"path/filepath"
	"strings"
)

var errNoHome = errors.New("home directory is not resolvable")

// Expand resolves ${env:NAME} references, $NAME variables and a leading "~"
// into a clean path. Blank input yields "".
func Expand(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", nil
	}

	path = os.ExpandEnv(ExpandEnvRefs(path))
	rest, tilde := strings.CutPrefix(path, "~")
	if tilde && (rest == "" || rest[0] == '/') {
		home, err := homeDir()
		if err != nil {
			return "", err
		}
		path = home + rest
	}
	return filepath.Clean(path), nil
}

// homeDir tries the OS lookup, the user database and $HOME in that order,
// skipping any candidate that is itself an unexpanded "~" path.
func homeDir() (string, error) {
	var candidates []string
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, home)
	}
	if current, err := user.Current(); err == nil {
		candidates = append(candidates, current.HomeDir)
	}
	candidates = append(candidates, os.Getenv("HOME"))

	for _, candidate := range candidates {
		candidate = strings.TrimSpace(candidate)
		if candidate != "" && !strings.HasPrefix(candidate, "~") {
			return candidate, nil
		}
	}
	return "", errNoHome
}
