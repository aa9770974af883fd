// Package screening maps free-text lead replies onto a structured set of
// qualification fields.
package screening

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// FieldType enumerates the supported screening field types.
type FieldType string

const (
	FieldText         FieldType = "text"
	FieldNumber       FieldType = "number"
	FieldDate         FieldType = "date"
	FieldYesNo        FieldType = "yes-no"
	FieldSingleSelect FieldType = "single-select"
	FieldMultiSelect  FieldType = "multi-select"
)

// Field is one structured datum the bot collects before proceeding.
type Field struct {
	ID       string    `json:"id"`
	Type     FieldType `json:"type"`
	Label    string    `json:"label"`
	Required bool      `json:"required"`
	Options  []string  `json:"options,omitempty"`
	Min      *float64  `json:"min,omitempty"`
	Max      *float64  `json:"max,omitempty"`
}

// dateLayouts are accepted on input; canonical output is 2006-01-02.
var dateLayouts = []string{
	"2006-01-02",
	"01/02/2006",
	"1/2/2006",
	"Jan 2, 2006",
	"January 2, 2006",
	"2 Jan 2006",
}

// Normalize validates a raw value against the field type and returns its
// canonical string form.
func (f Field) Normalize(raw string) (string, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return "", fmt.Errorf("screening: empty value for field %s", f.ID)
	}

	switch f.Type {
	case FieldText:
		return value, nil

	case FieldNumber:
		cleaned := strings.NewReplacer("$", "", ",", "", " ", "").Replace(value)
		n, err := strconv.ParseFloat(cleaned, 64)
		if err != nil {
			return "", fmt.Errorf("screening: field %s is not a number: %q", f.ID, raw)
		}
		if f.Min != nil && n < *f.Min {
			return "", fmt.Errorf("screening: field %s below minimum %v", f.ID, *f.Min)
		}
		if f.Max != nil && n > *f.Max {
			return "", fmt.Errorf("screening: field %s above maximum %v", f.ID, *f.Max)
		}
		return strconv.FormatFloat(n, 'f', -1, 64), nil

	case FieldDate:
		for _, layout := range dateLayouts {
			if parsed, err := time.Parse(layout, value); err == nil {
				return parsed.Format("2006-01-02"), nil
			}
		}
		return "", fmt.Errorf("screening: field %s is not a date: %q", f.ID, raw)

	case FieldYesNo:
		switch strings.ToLower(value) {
		case "yes", "y", "yeah", "yep", "sure", "true":
			return "yes", nil
		case "no", "n", "nope", "false":
			return "no", nil
		}
		return "", fmt.Errorf("screening: field %s is not yes/no: %q", f.ID, raw)

	case FieldSingleSelect:
		if match := f.matchOption(value); match != "" {
			return match, nil
		}
		return "", fmt.Errorf("screening: field %s value %q not among options", f.ID, raw)

	case FieldMultiSelect:
		var matched []string
		for _, part := range strings.Split(value, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			match := f.matchOption(part)
			if match == "" {
				return "", fmt.Errorf("screening: field %s value %q not among options", f.ID, part)
			}
			matched = append(matched, match)
		}
		if len(matched) == 0 {
			return "", fmt.Errorf("screening: field %s has no selections", f.ID)
		}
		return strings.Join(matched, ", "), nil
	}

	return "", fmt.Errorf("screening: unknown field type %q", f.Type)
}

// matchOption returns the canonical option matching value case-insensitively.
func (f Field) matchOption(value string) string {
	for _, opt := range f.Options {
		if strings.EqualFold(opt, value) {
			return opt
		}
	}
	return ""
}

// Complete reports whether every required field has a non-empty answer.
func Complete(fields []Field, answers map[string]string) bool {
	for _, f := range fields {
		if !f.Required {
			continue
		}
		if strings.TrimSpace(answers[f.ID]) == "" {
			return false
		}
	}
	return true
}

// Pending returns the fields that do not have an answer yet.
func Pending(fields []Field, answers map[string]string) []Field {
	var pending []Field
	for _, f := range fields {
		if strings.TrimSpace(answers[f.ID]) == "" {
			pending = append(pending, f)
		}
	}
	return pending
}
