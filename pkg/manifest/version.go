package manifest

import (
	"fmt"
	"regexp"
	"strconv"
)

// GitVersion is the VERSION sentinel selecting clone-or-pull acquisition.
const GitVersion = "git"

var versionPattern = regexp.MustCompile(`^[0-9][0-9a-z]*([.-][0-9a-z]+)*$`)

// Version is an ordered package version.
//
// Comparison splits the version into fields on '.' and '-', with every
// lowercase letter becoming its own field holding the letter's code point.
// Fields compare numerically and the shorter version is padded with zeros,
// so 1.2 == 1.2.0 < 1.2a (1.2.97) < 1.3.
type Version struct {
	raw    string
	fields []uint64
}

// ParseVersion parses s. It must start with a digit, contain only digits,
// lowercase letters, dots and dashes, and have no consecutive delimiters.
func ParseVersion(s string) (Version, error) {
	if !versionPattern.MatchString(s) {
		return Version{}, fmt.Errorf("invalid version %q", s)
	}

	var fields []uint64
	digits := ""
	flush := func() error {
		if digits == "" {
			return nil
		}
		n, err := strconv.ParseUint(digits, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid version %q: %w", s, err)
		}
		fields = append(fields, n)
		digits = ""
		return nil
	}

	for _, c := range s {
		switch {
		case c >= '0' && c <= '9':
			digits += string(c)
		case c >= 'a' && c <= 'z':
			if err := flush(); err != nil {
				return Version{}, err
			}
			fields = append(fields, uint64(c))
		default:
			if err := flush(); err != nil {
				return Version{}, err
			}
		}
	}
	if err := flush(); err != nil {
		return Version{}, err
	}

	return Version{raw: s, fields: fields}, nil
}

// MustParseVersion is like ParseVersion but panics on error.
func MustParseVersion(s string) Version {
	v, err := ParseVersion(s)
	if err != nil {
		panic(err)
	}
	return v
}

// String returns the version as written.
func (v Version) String() string {
	return v.raw
}

// Compare returns -1, 0 or +1.
func (v Version) Compare(o Version) int {
	n := max(len(v.fields), len(o.fields))
	for i := 0; i < n; i++ {
		a, b := field(v.fields, i), field(o.fields, i)
		switch {
		case a < b:
			return -1
		case a > b:
			return 1
		}
	}
	return 0
}

// Less reports whether v sorts before o.
func (v Version) Less(o Version) bool {
	return v.Compare(o) < 0
}

// Equal reports whether v and o compare equal.
func (v Version) Equal(o Version) bool {
	return v.Compare(o) == 0
}

func field(fields []uint64, i int) uint64 {
	if i < len(fields) {
		return fields[i]
	}
	return 0
}
