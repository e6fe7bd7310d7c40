package manifest

import (
	"sort"
	"strconv"
	"strings"
)

// hostAllowList names the host variables hook commands inherit. Anything
// else a hook needs comes from env: settings or run(env=...).
var hostAllowList = map[string]bool{
	"PATH":      true,
	"HOME":      true,
	"USER":      true,
	"LOGNAME":   true,
	"SHELL":     true,
	"TERM":      true,
	"LANG":      true,
	"LANGUAGE":  true,
	"TZ":        true,
	"TMPDIR":    true,
	"MAKEFLAGS": true,
}

// isAllowedHostVar reports whether a host variable may reach a hook command.
func isAllowedHostVar(key string) bool {
	if isSensitiveEnvVar(key) {
		return false
	}
	return hostAllowList[key] || strings.HasPrefix(key, "LC_")
}

// sensitiveVars are substrings of host variables never passed to hooks.
var sensitiveVars = []string{
	"AWS_SECRET_ACCESS_KEY",
	"AWS_SESSION_TOKEN",
	"GITHUB_TOKEN",
	"GITLAB_TOKEN",
	"SSH_AUTH_SOCK",
	"SSH_PRIVATE_KEY",
	"API_KEY",
	"SECRET",
	"TOKEN",
	"PASSWORD",
}

// isSensitiveEnvVar checks if an environment variable is sensitive.
func isSensitiveEnvVar(key string) bool {
	upperKey := strings.ToUpper(key)
	for _, sensitive := range sensitiveVars {
		if strings.Contains(upperKey, sensitive) {
			return true
		}
	}
	return false
}

// buildEnv merges layers of KEY=VALUE pairs, later layers winning.
// Only allow-listed, non-sensitive variables are taken from the host layer.
func buildEnv(host []string, layers ...map[string]string) []string {
	merged := make(map[string]string)
	for _, kv := range host {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || !isAllowedHostVar(key) {
			continue
		}
		merged[key] = value
	}
	for _, layer := range layers {
		for key, value := range layer {
			merged[key] = value
		}
	}

	env := make([]string, 0, len(merged))
	for key, value := range merged {
		env = append(env, key+"="+value)
	}
	sort.Strings(env)
	return env
}

// packageVars are the variables every hook command sees.
func packageVars(hc *HookContext) map[string]string {
	return map[string]string{
		"NAME":     hc.Name,
		"VERSION":  hc.Version,
		"PKGDIR":   hc.PkgDir,
		"SRCDIR":   hc.SrcDir,
		"BUILDDIR": hc.BuildDir,
		"NPROC":    strconv.Itoa(hc.NProc),
	}
}
