package fetcher

import (
	"fmt"
	"regexp"
	"strings"

	appErr "github.com/xxxsen/repoqa/internal/pkg/errors"
)

var refRegex = regexp.MustCompile(`^[A-Za-z0-9._/-]+$`)

// ValidateRef accepts branch, tag and commit names. A ref reaches git and the
// hosted API as an argument, so a leading dash or path tricks are refused.
func ValidateRef(ref string) error {
	switch {
	case ref == "":
		return fmt.Errorf("%w: empty ref", appErr.ErrInvalid)
	case strings.HasPrefix(ref, "-"):
		return fmt.Errorf("%w: ref %q starts with a dash", appErr.ErrInvalid, ref)
	case !refRegex.MatchString(ref):
		return fmt.Errorf("%w: ref %q has unsupported characters", appErr.ErrInvalid, ref)
	case strings.Contains(ref, ".."), strings.HasPrefix(ref, "/"), strings.HasSuffix(ref, "/"):
		return fmt.Errorf("%w: ref %q is malformed", appErr.ErrInvalid, ref)
	}
	return nil
}
