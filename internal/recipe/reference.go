package recipe

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/Masterminds/semver"
)

// Reference identifies a dependency by exact version and distribution channel,
// e.g. "doctest/2.3.4@bincrafters/stable".
type Reference struct {
	Name    string
	Version string
	User    string
	Channel string
}

var (
	refRe     = regexp.MustCompile(`^([^/@\s]+)/([^/@\s]+)@([^/@\s]+)/([^/@\s]+)$`)
	nameRe    = regexp.MustCompile(`^[A-Za-z0-9_][A-Za-z0-9_+.-]*$`)
	rangeChrs = "[]<>=~^*|, "
)

// ParseReference parses a pinned reference. Version ranges are rejected so that
// a recipe always resolves to the same dependency.
func ParseReference(s string) (Reference, error) {
	matches := refRe.FindStringSubmatch(strings.TrimSpace(s))
	if matches == nil {
		return Reference{}, fmt.Errorf("%w: %q is not of the form name/version@user/channel", ErrInvalidReference, s)
	}

	ref := Reference{
		Name:    matches[1],
		Version: matches[2],
		User:    matches[3],
		Channel: matches[4],
	}
	if err := ref.Validate(); err != nil {
		return Reference{}, err
	}
	return ref, nil
}

// Validate checks that every field is present and the version is an exact semantic version.
func (r Reference) Validate() error {
	fields := []struct{ name, value string }{
		{"name", r.Name},
		{"user", r.User},
		{"channel", r.Channel},
	}
	for _, f := range fields {
		if !nameRe.MatchString(f.value) {
			return fmt.Errorf("%w: bad %s %q in %s", ErrInvalidReference, f.name, f.value, r)
		}
	}
	if strings.ContainsAny(r.Version, rangeChrs) {
		return fmt.Errorf("%w: version range %q not allowed in %s, pin an exact version", ErrInvalidReference, r.Version, r)
	}
	if _, err := semver.NewVersion(r.Version); err != nil {
		return fmt.Errorf("%w: version %q in %s: %v", ErrInvalidReference, r.Version, r, err)
	}
	return nil
}

func (r Reference) String() string {
	return fmt.Sprintf("%s/%s@%s/%s", r.Name, r.Version, r.User, r.Channel)
}

// MarshalText implements encoding.TextMarshaler.
func (r Reference) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *Reference) UnmarshalText(text []byte) error {
	ref, err := ParseReference(string(text))
	if err != nil {
		return err
	}
	*r = ref
	return nil
}
