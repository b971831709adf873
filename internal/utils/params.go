// Package utils provides small parsing helpers shared by the bot commands
// and the dashboard handlers.
package utils

import (
	"strconv"
	"strings"
)

// AtoiDefault parses s as an int and returns def when s is empty or not a
// number.
//
//	utils.AtoiDefault("42", 0) // 42
//	utils.AtoiDefault("x", 5)  // 5
func AtoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return def
}

// ParseID parses a positive ticket or message id. A leading '#', as shown
// in bot listings, is accepted.
func ParseID(s string) (int64, bool) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "#")
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// ClampPage bounds a 1-based page and page size and returns them with the
// matching row offset.
func ClampPage(page, size, maxSize int) (int, int, int) {
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = 1
	}
	if maxSize > 0 && size > maxSize {
		size = maxSize
	}
	return page, size, (page - 1) * size
}
