package validation

import (
	"errors"
	"fmt"
	"strings"
)

// ArtifactExtension is the only accepted artifact filename suffix.
const ArtifactExtension = ".tar.gz"

const (
	maxNameLength    = 64
	maxVersionLength = 32
)

// ErrInvalidFilename is wrapped by every ParseArtifactFilename failure.
var ErrInvalidFilename = errors.New("invalid artifact filename")

// ArtifactIdentity is the namespace/name/version triple an artifact declares
// through its filename.
type ArtifactIdentity struct {
	Namespace string
	Name      string
	Version   string
}

// Filename renders the identity back to its canonical artifact filename.
func (a ArtifactIdentity) Filename() string {
	return fmt.Sprintf("%s-%s-%s%s", a.Namespace, a.Name, a.Version, ArtifactExtension)
}

// ParseArtifactFilename splits "namespace-name-version.tar.gz" into its parts.
// Namespace and name cannot contain '-', so the first two dashes are the
// separators and anything after them (including prerelease dashes) is the
// version.
func ParseArtifactFilename(filename string) (ArtifactIdentity, error) {
	if strings.ContainsAny(filename, `/\`) {
		return ArtifactIdentity{}, fmt.Errorf("%w: %q must not contain path separators", ErrInvalidFilename, filename)
	}
	if !strings.HasSuffix(filename, ArtifactExtension) {
		return ArtifactIdentity{}, fmt.Errorf("%w: %q must end with %s", ErrInvalidFilename, filename, ArtifactExtension)
	}

	base := strings.TrimSuffix(filename, ArtifactExtension)
	parts := strings.SplitN(base, "-", 3)
	if len(parts) != 3 {
		return ArtifactIdentity{}, fmt.Errorf("%w: %q must be of the form namespace-name-version%s",
			ErrInvalidFilename, filename, ArtifactExtension)
	}

	id := ArtifactIdentity{Namespace: parts[0], Name: parts[1], Version: parts[2]}

	if err := ValidateName(id.Namespace); err != nil {
		return ArtifactIdentity{}, fmt.Errorf("%w: namespace: %v", ErrInvalidFilename, err)
	}
	if err := ValidateName(id.Name); err != nil {
		return ArtifactIdentity{}, fmt.Errorf("%w: name: %v", ErrInvalidFilename, err)
	}
	if len(id.Version) > maxVersionLength {
		return ArtifactIdentity{}, fmt.Errorf("%w: version longer than %d characters", ErrInvalidFilename, maxVersionLength)
	}
	if err := ValidateSemver(id.Version); err != nil {
		return ArtifactIdentity{}, fmt.Errorf("%w: %v", ErrInvalidFilename, err)
	}

	return id, nil
}

// ValidateName checks a namespace or collection name: lowercase letters,
// digits and single underscores, starting with a letter, at most 64 characters.
func ValidateName(name string) error {
	if name == "" {
		return errors.New("must not be empty")
	}
	if len(name) > maxNameLength {
		return fmt.Errorf("must be at most %d characters", maxNameLength)
	}
	if name[0] < 'a' || name[0] > 'z' {
		return fmt.Errorf("%q must start with a lowercase letter", name)
	}
	if strings.Contains(name, "__") {
		return fmt.Errorf("%q must not contain consecutive underscores", name)
	}
	for _, c := range name {
		if !(c >= 'a' && c <= 'z') && !(c >= '0' && c <= '9') && c != '_' {
			return fmt.Errorf("%q may only contain lowercase letters, digits and underscores", name)
		}
	}
	return nil
}
