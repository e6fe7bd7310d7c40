package policy

import "github.com/scratchlinux/slpkg/pkg/manifest"

// NewInput builds the policy input for m. Slices are never nil so Rego
// sees empty arrays rather than null.
func NewInput(m *manifest.Manifest, c Context) *Input {
	nonNil := func(s []string) []string {
		if s == nil {
			return []string{}
		}
		return s
	}
	return &Input{
		Package: ManifestInput{
			Name:            m.Name,
			Version:         m.Version,
			AbsoluteVersion: m.AbsoluteVersion,
			URL:             m.URL,
			Patches:         nonNil(m.Patches),
			Depends:         nonNil(m.Depends),
			Metapackage:     m.Metapackage,
			Git:             m.IsGit(),
			Hooks:           nonNil(m.Hooks()),
		},
		Context: c,
	}
}
