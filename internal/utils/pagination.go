// Package utils holds query-string helpers shared by the HTTP handlers:
// paging bounds and numeric record ids.
package utils

import (
	"strconv"
	"strings"
)

// Paging bounds for every list endpoint.
const (
	DefaultPage     = 1
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// IntOr parses s as a base-10 int, ignoring surrounding spaces, and returns
// def when s is blank or malformed.
func IntOr(s string, def int) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return def
	}
	return n
}

// ParseID parses a positive numeric record id (loan, reservation, extension).
func ParseID(s string) (uint64, bool) {
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil || n == 0 {
		return 0, false
	}
	return n, true
}

// FormatID is the inverse of ParseID.
func FormatID(id uint64) string { return strconv.FormatUint(id, 10) }

// ClampPage resolves raw page and page_size values. Malformed input takes the
// default; out-of-range input is pulled back to page >= 1 and
// 1 <= page_size <= MaxPageSize.
func ClampPage(rawPage, rawSize string) (page, pageSize int) {
	page = max(IntOr(rawPage, DefaultPage), 1)
	pageSize = min(max(IntOr(rawSize, DefaultPageSize), 1), MaxPageSize)
	return page, pageSize
}

// TotalPages is ceil(total/pageSize); 0 when there is nothing to page.
func TotalPages(total int64, pageSize int) int {
	if pageSize <= 0 || total <= 0 {
		return 0
	}
	return int((total + int64(pageSize) - 1) / int64(pageSize))
}
