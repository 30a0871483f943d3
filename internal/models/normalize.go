package models

import "strings"

// NormalizeName returns the lower-cased, trimmed form of a raw name
// An empty raw value normalizes to an empty string
func NormalizeName(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

// Normalize derives every normalized field from its raw counterpart
func (l *LocationInfo) Normalize() {
	l.NormalizedCity = NormalizeName(l.City)
	l.NormalizedRegion = NormalizeName(l.Region)
	l.NormalizedNetwork = NormalizeName(l.Network)
}
