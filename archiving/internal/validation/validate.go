// Package validation provides input validation for container names, object
// paths and workspace identifiers before they reach a storage or record service.
package validation

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	arkerrors "github.com/KAnderson-DFCI/Germline-Method-Development-AlDubayan/archiving/errors"
)

// Container names follow the intersection of S3 and GCS bucket rules, with
// the longer GCS limit for dotted names.
const (
	minContainerLen = 3
	maxContainerLen = 222
	maxObjectPath   = 1024
)

var workspaceNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_\-]*$`)

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", arkerrors.ErrInvalidInput, fmt.Sprintf(format, args...))
}

// ValidateContainerName validates a bucket name.
func ValidateContainerName(name string) error {
	if name == "" {
		return invalid("container name cannot be empty")
	}
	if len(name) < minContainerLen || len(name) > maxContainerLen {
		return invalid("container name %q must be between %d and %d characters long",
			name, minContainerLen, maxContainerLen)
	}
	for _, c := range name {
		if !isValidContainerChar(c) {
			return invalid("container name %q can only contain lowercase letters, numbers, dots, hyphens and underscores", name)
		}
	}
	first, last := rune(name[0]), rune(name[len(name)-1])
	if !isAlnum(first) || !isAlnum(last) {
		return invalid("container name %q must start and end with a letter or number", name)
	}
	if strings.Contains(name, "..") {
		return invalid("container name %q cannot contain adjacent dots", name)
	}
	return nil
}

// ValidateObjectPath validates an object key. Keys can contain any UTF-8
// character except control characters and must not traverse upward.
func ValidateObjectPath(key string) error {
	if key == "" {
		return invalid("object path cannot be empty")
	}
	if len(key) > maxObjectPath {
		return invalid("object path cannot exceed %d characters", maxObjectPath)
	}
	if hasPathTraversal(key) {
		return invalid("object path %q cannot contain path traversal sequences", key)
	}
	if hasControlCharacters(key) {
		return invalid("object path cannot contain control characters")
	}
	return nil
}

// ValidateWorkspace validates a workspace namespace and name.
func ValidateWorkspace(namespace, name string) error {
	if !workspaceNamePattern.MatchString(namespace) {
		return invalid("workspace namespace %q must be letters, numbers, hyphens and underscores", namespace)
	}
	if !workspaceNamePattern.MatchString(name) {
		return invalid("workspace name %q must be letters, numbers, hyphens and underscores", name)
	}
	return nil
}

func isAlnum(c rune) bool {
	return (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9')
}

func isValidContainerChar(c rune) bool {
	return isAlnum(c) || c == '-' || c == '.' || c == '_'
}

// hasPathTraversal checks for ".." path segments
func hasPathTraversal(key string) bool {
	for _, seg := range strings.Split(key, "/") {
		if seg == ".." {
			return true
		}
	}
	return false
}

func hasControlCharacters(key string) bool {
	for _, c := range key {
		if unicode.IsControl(c) {
			return true
		}
	}
	return false
}
