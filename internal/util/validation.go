package util

import (
	"regexp"
	"strconv"
)

var (
	uuidRegex     = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)
	authHashRegex = regexp.MustCompile(`^[0-9a-f]{64}$`)
)

func IsValidUUID(s string) bool {
	if s == "" {
		return false
	}
	return uuidRegex.MatchString(s)
}

// IsValidAuthHash reports whether s has the shape of a handshake hash.
func IsValidAuthHash(s string) bool {
	return authHashRegex.MatchString(s)
}

// ParseTelegramID accepts a positive integer id.
func ParseTelegramID(s string) (int64, bool) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
