package jsonpatch

import (
	"fmt"
	"strconv"
	"strings"
)

// escapeToken escapes a single reference token per RFC 6901:
// "~" becomes "~0", "/" becomes "~1".
func escapeToken(token string) string {
	token = strings.ReplaceAll(token, "~", "~0")
	return strings.ReplaceAll(token, "/", "~1")
}

// unescapeToken reverses escapeToken. "~1" must be decoded before "~0"
// so "~01" round-trips to "~1" and not "/".
func unescapeToken(token string) string {
	token = strings.ReplaceAll(token, "~1", "/")
	return strings.ReplaceAll(token, "~0", "~")
}

// childPath appends an escaped object key to a JSON Pointer.
func childPath(parent, key string) string {
	return parent + "/" + escapeToken(key)
}

// indexPath appends an array index to a JSON Pointer.
func indexPath(parent string, i int) string {
	return parent + "/" + strconv.Itoa(i)
}

// parsePointer splits a JSON Pointer into unescaped reference tokens.
// The root pointer "" yields no tokens.
func parsePointer(path string) ([]string, error) {
	if path == "" {
		return nil, nil
	}
	if !strings.HasPrefix(path, "/") {
		return nil, fmt.Errorf("invalid JSON pointer %q: must start with '/'", path)
	}
	parts := strings.Split(path[1:], "/")
	tokens := make([]string, len(parts))
	for i, p := range parts {
		tokens[i] = unescapeToken(p)
	}
	return tokens, nil
}

// parseArrayIndex interprets a reference token as an array index.
// The special token "-" addresses the position past the last element.
func parseArrayIndex(token string, length int) (int, error) {
	if token == "-" {
		return length, nil
	}
	// RFC 6901 forbids leading zeros
	if len(token) > 1 && token[0] == '0' {
		return 0, fmt.Errorf("invalid array index %q", token)
	}
	i, err := strconv.Atoi(token)
	if err != nil || i < 0 {
		return 0, fmt.Errorf("invalid array index %q", token)
	}
	return i, nil
}
