// Package phone turns free-form phone input into canonical E.164 identifiers.
//
// Normalization is pure: it never touches the network or any store, so every
// caller can normalize before doing anything with side effects.
package phone

import (
	"errors"
	"regexp"
	"strings"

	"github.com/nyaruka/phonenumbers"
)

const DefaultRegion = "AU"

// ErrInvalidPhoneNumber is matched by every *Error via errors.Is.
var ErrInvalidPhoneNumber = errors.New("invalid phone number")

// Error carries a reason that is safe to show to the person who typed the number.
type Error struct {
	Reason string
}

func (e *Error) Error() string { return e.Reason }

func (e *Error) Is(target error) bool { return target == ErrInvalidPhoneNumber }

// Reasons returned in Error.Reason.
const (
	ReasonMissing      = "Please enter your phone number"
	ReasonTooShort     = "Phone number is too short. Please enter a valid mobile number (e.g., 0412 345 678)"
	ReasonTooLong      = "Phone number is too long. Please check and try again"
	ReasonInvalidChars = "Phone number contains invalid characters. Please use only numbers"
	ReasonUnparsable   = "Please enter a valid mobile number (e.g., 0412 345 678 or +61 412 345 678)"
)

const (
	minRawLength = 10
	maxRawLength = 15
)

var allowedChars = regexp.MustCompile(`^[0-9+\s()\-]+$`)

// Normalizer normalizes numbers against a fixed default region.
type Normalizer struct {
	Region string
}

func NewNormalizer(region string) *Normalizer {
	if strings.TrimSpace(region) == "" {
		region = DefaultRegion
	}
	return &Normalizer{Region: strings.ToUpper(region)}
}

func (n *Normalizer) Normalize(input string) (string, error) {
	return Normalize(input, n.Region)
}

// Normalize parses input using region for numbers without a country code and
// returns the E.164 form, e.g. "+61412345678".
func Normalize(input, region string) (string, error) {
	raw := strings.TrimSpace(input)
	if raw == "" {
		return "", &Error{Reason: ReasonMissing}
	}
	if region == "" {
		region = DefaultRegion
	}

	num, err := phonenumbers.Parse(raw, region)
	if err == nil && phonenumbers.IsValidNumber(num) {
		return phonenumbers.Format(num, phonenumbers.E164), nil
	}
	return "", &Error{Reason: reasonFor(raw)}
}

func reasonFor(raw string) string {
	switch {
	case len(raw) < minRawLength:
		return ReasonTooShort
	case len(raw) > maxRawLength:
		return ReasonTooLong
	case !allowedChars.MatchString(raw):
		return ReasonInvalidChars
	default:
		return ReasonUnparsable
	}
}
