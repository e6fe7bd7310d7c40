package manifest

import (
	"errors"
	"fmt"
	"sort"

	"github.com/go-playground/validator/v10"
	"go.starlark.net/starlark"
)

// Hook names a manifest may define.
const (
	HookPrepare     = "prepare"
	HookBuild       = "build"
	HookInstall     = "do_install"
	HookPostInstall = "postinst"
	HookDetect      = "detect"
)

// HookNames lists every recognised hook in lifecycle order.
var HookNames = []string{HookPrepare, HookBuild, HookInstall, HookPostInstall, HookDetect}

// ErrInvalidManifest is returned for manifests that fail evaluation or validation.
var ErrInvalidManifest = errors.New("invalid manifest")

// Manifest is an evaluated PACKAGE file.
type Manifest struct {
	Name            string   `json:"name" validate:"required"`
	Version         string   `json:"version" validate:"required"`
	AbsoluteVersion int64    `json:"absolute_version" validate:"gte=0"`
	URL             string   `json:"url"`
	Patches         []string `json:"patches"`
	Depends         []string `json:"depends"`
	Metapackage     bool     `json:"metapackage"`

	// Path is where the manifest was read from.
	Path string `json:"-"`

	// Source is the raw manifest text shown during inspection.
	Source []byte `json:"-"`

	hooks map[string]*starlark.Function
}

var manifestValidator = validator.New()

// IsGit reports whether the package is acquired by clone-or-pull.
func (m *Manifest) IsGit() bool {
	return m.Version == GitVersion
}

// HasHook reports whether the manifest defines hook.
func (m *Manifest) HasHook(hook string) bool {
	_, ok := m.hooks[hook]
	return ok
}

// Hooks returns the defined hook names, sorted.
func (m *Manifest) Hooks() []string {
	names := make([]string, 0, len(m.hooks))
	for name := range m.hooks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ParsedVersion returns the ordered version. It fails for git packages.
func (m *Manifest) ParsedVersion() (Version, error) {
	return ParseVersion(m.Version)
}

// Validate checks field constraints and that NAME matches the requested package.
func (m *Manifest) Validate(requested string) error {
	if err := manifestValidator.Struct(m); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidManifest, err)
	}
	if m.Name != requested {
		return fmt.Errorf("%w: NAME %q does not match requested package %q", ErrInvalidManifest, m.Name, requested)
	}
	if !m.IsGit() {
		if _, err := ParseVersion(m.Version); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidManifest, err)
		}
	}
	if !m.Metapackage && m.URL == "" {
		return fmt.Errorf("%w: URL is required unless METAPACKAGE is set", ErrInvalidManifest)
	}
	return nil
}

func fromGlobals(requested, path string, src []byte, g starlark.StringDict) (*Manifest, error) {
	m := &Manifest{
		Path:   path,
		Source: src,
		hooks:  make(map[string]*starlark.Function),
	}

	var err error
	if m.Name, err = stringGlobal(g, "NAME"); err != nil {
		return nil, err
	}
	if m.Version, err = stringGlobal(g, "VERSION"); err != nil {
		return nil, err
	}
	if m.URL, err = stringGlobal(g, "URL"); err != nil {
		return nil, err
	}
	if m.AbsoluteVersion, err = intGlobal(g, "ABSOLUTE_VERSION"); err != nil {
		return nil, err
	}
	if m.Patches, err = listGlobal(g, "PATCHES"); err != nil {
		return nil, err
	}
	if m.Depends, err = listGlobal(g, "DEPENDS"); err != nil {
		return nil, err
	}
	if v, ok := g["METAPACKAGE"]; ok {
		m.Metapackage = bool(v.Truth())
	}

	for _, name := range HookNames {
		v, ok := g[name]
		if !ok {
			continue
		}
		fn, ok := v.(*starlark.Function)
		if !ok {
			return nil, fmt.Errorf("%w: %s must be a function, got %s", ErrInvalidManifest, name, v.Type())
		}
		m.hooks[name] = fn
	}

	if err := m.Validate(requested); err != nil {
		return nil, err
	}
	return m, nil
}

func stringGlobal(g starlark.StringDict, key string) (string, error) {
	v, ok := g[key]
	if !ok || v == starlark.None {
		return "", nil
	}
	str, ok := starlark.AsString(v)
	if !ok {
		return "", fmt.Errorf("%w: %s must be a string, got %s", ErrInvalidManifest, key, v.Type())
	}
	return str, nil
}

func intGlobal(g starlark.StringDict, key string) (int64, error) {
	v, ok := g[key]
	if !ok || v == starlark.None {
		return 0, nil
	}
	var n int64
	if err := starlark.AsInt(v, &n); err != nil {
		return 0, fmt.Errorf("%w: %s must be an integer: %v", ErrInvalidManifest, key, err)
	}
	return n, nil
}

func listGlobal(g starlark.StringDict, key string) ([]string, error) {
	v, ok := g[key]
	if !ok || v == starlark.None {
		return nil, nil
	}
	iterable, ok := v.(starlark.Indexable)
	if !ok {
		return nil, fmt.Errorf("%w: %s must be a list, got %s", ErrInvalidManifest, key, v.Type())
	}
	if _, isString := v.(starlark.String); isString {
		return nil, fmt.Errorf("%w: %s must be a list, got string", ErrInvalidManifest, key)
	}

	out := make([]string, iterable.Len())
	for i := 0; i < iterable.Len(); i++ {
		str, ok := starlark.AsString(iterable.Index(i))
		if !ok {
			return nil, fmt.Errorf("%w: %s[%d] must be a string", ErrInvalidManifest, key, i)
		}
		out[i] = str
	}
	return out, nil
}
