package tools

import (
	"fmt"
	"path/filepath"

	"github.com/Jazzman94/agentai/internal/pathguard"
)

// RequireString extracts a required string param. Empty strings are allowed
// when allowEmpty is set (e.g. file content).
func RequireString(params map[string]any, key string, allowEmpty bool) (string, error) {
	v, ok := params[key]
	if !ok || v == nil {
		return "", fmt.Errorf("missing required parameter: %s", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("parameter %s must be a string, got %T", key, v)
	}
	if s == "" && !allowEmpty {
		return "", fmt.Errorf("parameter %s must not be empty", key)
	}
	return s, nil
}

// OptionalString extracts an optional string param, returning def when absent.
func OptionalString(params map[string]any, key, def string) (string, error) {
	v, ok := params[key]
	if !ok || v == nil {
		return def, nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("parameter %s must be a string, got %T", key, v)
	}
	if s == "" {
		return def, nil
	}
	return s, nil
}

// Root returns the injected working root. A missing or relative root is a
// programming error in the caller, reported as KindInternal.
func Root(params map[string]any) (string, error) {
	v, _ := params[RootParam].(string)
	if v == "" || !filepath.IsAbs(v) {
		return "", NewError(KindInternal, nil, "Error: working directory was not injected")
	}
	return v, nil
}

// Contain resolves rel against root through the path guard. A path outside
// root becomes a KindContainment error naming only rel, phrased with verb
// ("read", "list", "write to", "execute").
func Contain(root, rel, verb string) (string, error) {
	resolved, err := pathguard.Resolve(root, rel)
	if err == nil {
		return resolved, nil
	}
	if pathguard.IsContainment(err) {
		return "", NewError(KindContainment, nil,
			"Error: Cannot %s \"%s\" as it is outside the permitted working directory", verb, rel)
	}
	// pathguard already names rel in err.
	return "", NewError(KindIO, err, "Error")
}
