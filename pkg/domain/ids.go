package domain

import (
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	dErrors "logbook/pkg/domain-errors"
)

// TenantID identifies an isolation boundary. Every stored document carries one
// and no read or write may cross it.
type TenantID int

// maxTenantID bounds tenant numbers so index names stay short and predictable.
const maxTenantID = 1<<31 - 1

// maxIdentifierLength bounds process and object identifiers.
const maxIdentifierLength = 256

// ParseTenantID validates a tenant number received at a trust boundary
// (header, path parameter, config).
func ParseTenantID(s string) (TenantID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, dErrors.New(dErrors.CodeInvalidInput, "tenant is required")
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, dErrors.New(dErrors.CodeInvalidInput, "tenant must be an integer")
	}
	if n < 0 || n > maxTenantID {
		return 0, dErrors.New(dErrors.CodeInvalidInput, "tenant out of range")
	}
	return TenantID(n), nil
}

// String returns the decimal form used in index names and logs.
func (t TenantID) String() string {
	return strconv.Itoa(int(t))
}

// ValidateIdentifier checks a process or object identifier.
// Identifiers are opaque but must be printable, valid UTF-8 and bounded.
func ValidateIdentifier(field, value string) error {
	if value == "" {
		return dErrors.Newf(dErrors.CodeInvalidInput, "%s is required", field)
	}
	if len(value) > maxIdentifierLength {
		return dErrors.Newf(dErrors.CodeInvalidInput, "%s exceeds %d bytes", field, maxIdentifierLength)
	}
	if !utf8.ValidString(value) {
		return dErrors.Newf(dErrors.CodeInvalidInput, "%s must be valid UTF-8", field)
	}
	for _, r := range value {
		if unicode.IsControl(r) || unicode.IsSpace(r) || r == '​' {
			return dErrors.Newf(dErrors.CodeInvalidInput, "%s contains forbidden characters", field)
		}
	}
	return nil
}
