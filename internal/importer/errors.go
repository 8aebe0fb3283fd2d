package importer

import (
	"errors"
	"fmt"
	"strings"
)

// FormatDetectionError: the payload shape matched no registered format.
// The message enumerates what is registered so the caller can tell which
// exports are supported right now.
type FormatDetectionError struct {
	Registered []string
}

func (e *FormatDetectionError) Error() string {
	return fmt.Sprintf("unable to detect import format; registered formats: %s",
		strings.Join(e.Registered, ", "))
}

// ImporterNotAvailableError: a format was detected but is not registered
// for extraction — a system configuration issue, not a payload issue.
type ImporterNotAvailableError struct {
	Format string
}

func (e *ImporterNotAvailableError) Error() string {
	return fmt.Sprintf("no importer available for detected format %q", e.Format)
}

// LicenseRequiredError: the detected format needs a capability the
// current license does not grant.
type LicenseRequiredError struct {
	Format  string
	Feature string
}

func (e *LicenseRequiredError) Error() string {
	return fmt.Sprintf("importing %s exports requires an upgraded license (feature %q)", e.Format, e.Feature)
}

// Translate renders any import error as a user-facing message. All
// user-visible error text funnels through here.
func Translate(err error) string {
	if err == nil {
		return ""
	}
	var detection *FormatDetectionError
	if errors.As(err, &detection) {
		return fmt.Sprintf("Could not recognize this export. Supported formats: %s.",
			strings.Join(detection.Registered, ", "))
	}
	var notAvailable *ImporterNotAvailableError
	if errors.As(err, &notAvailable) {
		return fmt.Sprintf("The %s importer is not configured on this installation.", notAvailable.Format)
	}
	var lic *LicenseRequiredError
	if errors.As(err, &lic) {
		return fmt.Sprintf("Importing %s exports is a licensed feature. Add a license key to enable it.", lic.Format)
	}
	return "Import failed: " + err.Error()
}
