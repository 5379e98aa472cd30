package domain

import "strings"

// ParseBearer extracts the credential from an Authorization header of the form
// "Bearer <token>". The scheme is matched case-insensitively and the header
// must split into exactly two whitespace-separated fields.
func ParseBearer(header string) (string, bool) {
	parts := strings.Fields(header)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	return parts[1], true
}
