package arbiter

import "unicode"

const maxUsernameLen = 18

// verifyUsername enforces §4.5 step 1: nonempty, at most 18 bytes, and
// every character alphanumeric (Unicode letters and digits, not just
// ASCII).
func verifyUsername(username string) bool {
	if len(username) == 0 || len(username) > maxUsernameLen {
		return false
	}
	for _, r := range username {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}
