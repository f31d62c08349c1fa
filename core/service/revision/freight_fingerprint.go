// Package revision deduplicates documents and numbers their revisions per shipment.
package revision

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"

	"freight_server/core/domain"
)

// Fingerprint hashes the normalized field set of a document.
// Raw text, field order, case and whitespace do not affect the result.
func Fingerprint(fields map[string]string) string {
	lines := make([]string, 0, len(fields))
	for name, value := range fields {
		v := NormalizeValue(name, value)
		if v == "" {
			continue
		}
		lines = append(lines, strings.ToLower(strings.TrimSpace(name))+"="+v)
	}
	sort.Strings(lines)

	h := sha256.New()
	for _, line := range lines {
		h.Write([]byte(line))
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// NormalizeValue lower-cases and collapses whitespace. Container lists are sorted.
func NormalizeValue(name, value string) string {
	if name == domain.FieldContainerNumber {
		return strings.ToLower(strings.Join(domain.SplitContainers(value), ","))
	}
	return strings.ToLower(strings.Join(strings.Fields(value), " "))
}

// FieldsOf collects the values of observations that are not rejected.
func FieldsOf(observations []*domain.ExtractedField) map[string]string {
	out := make(map[string]string, len(observations))
	for _, obs := range observations {
		if obs.Resolution == domain.ResolutionRejected {
			continue
		}
		out[obs.FieldName] = obs.Value
	}
	return out
}
