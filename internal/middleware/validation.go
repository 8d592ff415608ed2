package middleware

import (
	"errors"
)

// ValidateParticipantID validates a channel participant ID. Participant ids
// are E.164-style phone numbers without the plus sign.
func ValidateParticipantID(id string) error {
	if len(id) < 5 || len(id) > 20 {
		return errors.New("invalid participant ID length")
	}
	for _, r := range id {
		if r < '0' || r > '9' {
			return errors.New("participant ID must be numeric")
		}
	}
	return nil
}

// ValidateTenantID validates a tenant ID.
func ValidateTenantID(id string) error {
	if len(id) == 0 {
		return errors.New("tenant ID cannot be empty")
	}
	if len(id) > 64 {
		return errors.New("tenant ID exceeds maximum length")
	}
	return nil
}
