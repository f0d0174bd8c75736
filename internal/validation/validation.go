package validation

import (
	"errors"
	"strconv"
	"strings"
	"unicode"
)

// ErrCityInvalidChars is returned when a city filter contains disallowed characters.
var ErrCityInvalidChars = errors.New("city contains invalid characters")

// ErrCityTooLong is returned when a city filter exceeds the maximum length.
var ErrCityTooLong = errors.New("city too long")

// ErrLimitInvalid is returned when a limit parameter is not a positive integer.
var ErrLimitInvalid = errors.New("limit must be a positive integer")

const maxCityLength = 64

// ValidateCity trims the input and restricts it to letters (Unicode), digits,
// space, comma, hyphen. An empty string is valid (no filter). Returns the
// trimmed string or an error suitable for 400 INVALID_CITY responses.
func ValidateCity(input string) (string, error) {
	s := strings.TrimSpace(input)
	r := []rune(s)
	if len(r) > maxCityLength {
		return "", ErrCityTooLong
	}
	for _, c := range r {
		if !isAllowedCityRune(c) {
			return "", ErrCityInvalidChars
		}
	}
	return s, nil
}

// ValidateLimit parses a limit query parameter. An empty string returns
// (0, nil); callers substitute their default. maxLimit of 0 disables the
// upper bound.
func ValidateLimit(input string, maxLimit int) (int, error) {
	s := strings.TrimSpace(input)
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, ErrLimitInvalid
	}
	if maxLimit > 0 && n > maxLimit {
		n = maxLimit
	}
	return n, nil
}

// isAllowedCityRune returns true for letters (Unicode), digits, space, comma, hyphen.
func isAllowedCityRune(r rune) bool {
	if unicode.IsLetter(r) || unicode.IsNumber(r) {
		return true
	}
	switch r {
	case ' ', ',', '-':
		return true
	}
	return false
}
