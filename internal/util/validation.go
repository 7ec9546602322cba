package util

import "regexp"

var bytes32Regex = regexp.MustCompile(`^0x[0-9a-fA-F]{64}$`)

// IsBytes32Hex reports whether s is a 0x-prefixed 32-byte hex string.
func IsBytes32Hex(s string) bool {
	return bytes32Regex.MatchString(s)
}

func IsValidEnum(value string, validValues []string) bool {
	if value == "" {
		return true
	}
	for _, v := range validValues {
		if value == v {
			return true
		}
	}
	return false
}
