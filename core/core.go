package core

import "strings"

// Operation represents a backend storage operation, one of Create, Read, Update, Delete, List
type Operation string

// all supported database operations
const (
	OperationCreate Operation = "create"
	OperationRead   Operation = "read"
	OperationUpdate Operation = "update"
	OperationDelete Operation = "delete"
	OperationList   Operation = "list"
)

// Title returns the passed string with the first letter of every word
// upper-cased and the remaining letters lower-cased. Words are separated
// by anything that is not a letter.
//
// This is the casing used for the potion descriptions.
func Title(s string) string {
	runes := []rune(s)
	startOfWord := true
	for i, r := range runes {
		isLower := 'a' <= r && r <= 'z'
		isUpper := 'A' <= r && r <= 'Z'
		switch {
		case startOfWord && isLower:
			runes[i] = r + 'A' - 'a'
		case !startOfWord && isUpper:
			runes[i] = r + 'a' - 'A'
		}
		startOfWord = !isLower && !isUpper
	}
	return string(runes)
}

// HasAnySuffix reports whether s ends in one of the passed suffixes.
func HasAnySuffix(s string, suffixes ...string) bool {
	for _, suffix := range suffixes {
		if strings.HasSuffix(s, suffix) {
			return true
		}
	}
	return false
}
