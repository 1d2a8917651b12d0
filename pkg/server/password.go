package server

import "unicode"

// validatePassword enforces the registration password policy. The returned
// string is the AUTH|FAIL reason shown to the client; empty means acceptable.
func validatePassword(password string) string {
	if len(password) < 8 {
		return "Password must be at least 8 characters"
	}

	var hasLetter, hasDigit bool
	for _, r := range password {
		switch {
		case unicode.IsLetter(r):
			hasLetter = true
		case unicode.IsDigit(r):
			hasDigit = true
		}
	}
	if !hasLetter || !hasDigit {
		return "Password must contain a letter and a digit"
	}
	return ""
}
