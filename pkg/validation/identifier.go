// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validation provides input validation utilities for security-critical operations.
//
// This package contains validators for user-provided identifiers that are used
// in remote API calls, file paths, or storage keys. Using these validators
// prevents injection attacks (path traversal, key collisions, malformed API requests).
package validation

import (
	"fmt"
	"regexp"
	"strings"
)

// spreadsheetIDPattern matches valid spreadsheet identifiers.
// Allows: letters, digits, underscores, hyphens
// Max length: 64 characters (covers hosted spreadsheet services)
var spreadsheetIDPattern = regexp.MustCompile(`^[A-Za-z0-9_][A-Za-z0-9_\-]{0,63}$`)

// sheetNamePattern matches valid sheet (tab) names. Quoting in range
// references handles spaces, so spaces are allowed here, but characters
// with meaning in A1 notation (!, ', :) are not.
var sheetNamePattern = regexp.MustCompile(`^[^!':\x00-\x1f]{1,100}$`)

// ValidateSpreadsheetID validates a spreadsheet identifier before it is
// used in a remote API path or a snapshot storage key.
//
// Valid identifiers:
//   - 1-64 characters
//   - Letters A-Z, a-z
//   - Digits 0-9
//   - Underscores and hyphens
//
// Returns an error if the identifier is invalid.
//
// Example:
//
//	if err := validation.ValidateSpreadsheetID(id); err != nil {
//	    return nil, fmt.Errorf("invalid spreadsheet id: %w", err)
//	}
//	// Safe to use as an API path segment or storage key
func ValidateSpreadsheetID(id string) error {
	if id == "" {
		return fmt.Errorf("spreadsheet id cannot be empty")
	}

	if !spreadsheetIDPattern.MatchString(id) {
		return fmt.Errorf("invalid spreadsheet id: %q (must be 1-64 alphanumeric chars, underscores, or hyphens)", id)
	}

	return nil
}

// ValidateSpreadsheetIDs validates multiple spreadsheet identifiers.
// Returns an error listing all invalid identifiers if any fail validation.
func ValidateSpreadsheetIDs(ids []string) error {
	var invalid []string
	for _, id := range ids {
		if err := ValidateSpreadsheetID(id); err != nil {
			invalid = append(invalid, id)
		}
	}

	if len(invalid) > 0 {
		return fmt.Errorf("invalid spreadsheet ids: %v", invalid)
	}
	return nil
}

// ValidateSheetName validates a sheet (tab) name before it is embedded in
// an A1 range reference. Names containing !, ', or : would change the
// meaning of the reference they appear in.
func ValidateSheetName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("sheet name cannot be empty")
	}

	if !sheetNamePattern.MatchString(name) {
		return fmt.Errorf("invalid sheet name: %q (must be 1-100 chars without !, ', :, or control characters)", name)
	}

	return nil
}

// SanitizeSpreadsheetID normalizes and validates a spreadsheet identifier.
// Returns the trimmed identifier if valid, or an error if invalid.
//
// Use this when reading identifiers from user-authored files:
//
//	safeID, err := validation.SanitizeSpreadsheetID(userInput)
//	if err != nil {
//	    return err
//	}
//	// safeID is trimmed and validated
func SanitizeSpreadsheetID(id string) (string, error) {
	normalized := strings.TrimSpace(id)
	if err := ValidateSpreadsheetID(normalized); err != nil {
		return "", err
	}
	return normalized, nil
}
