package pathutil

import (
	"os"
	"regexp"
)

var envRefPattern = regexp.MustCompile(`\$\{env:([A-Za-z_][A-Za-z0-9_]*)\}`)

// ExpandEnvRefs replaces every ${env:NAME} reference with the value of NAME.
// Unset variables expand to the empty string.
func ExpandEnvRefs(value string) string {
	return ExpandEnvRefsWith(value, os.Getenv)
}

// ExpandEnvRefsWith is ExpandEnvRefs with a custom lookup.
func ExpandEnvRefsWith(value string, lookup func(string) string) string {
	return envRefPattern.ReplaceAllStringFunc(value, func(ref string) string {
		name := envRefPattern.FindStringSubmatch(ref)[1]
		return lookup(name)
	})
}
