// semver.go provides strict semantic version validation for collection versions.
package validation

import (
	"fmt"
	"regexp"

	"github.com/hashicorp/go-version"
)

// semverCore requires exactly MAJOR.MINOR.PATCH; go-version alone accepts "1.0".
var semverCore = regexp.MustCompile(`^(0|[1-9]\d*)\.(0|[1-9]\d*)\.(0|[1-9]\d*)(?:[-+].*)?$`)

// ValidateSemver validates that a version string is a full semantic version
func ValidateSemver(versionStr string) error {
	if !semverCore.MatchString(versionStr) {
		return fmt.Errorf("invalid semantic version: %q must be MAJOR.MINOR.PATCH", versionStr)
	}
	if _, err := version.NewSemver(versionStr); err != nil {
		return fmt.Errorf("invalid semantic version: %w", err)
	}
	return nil
}
