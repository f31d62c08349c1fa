package llm

import (
	"bytes"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"

	"freight_server/core/domain"
	"freight_server/core/port/out"
	"freight_server/pkg/logger"

	"github.com/goccy/go-json"
)

// stripFences removes a markdown code fence around a JSON answer.
func stripFences(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// score normalizes a confidence given either on a 0-1 or a 0-100 scale.
// 1 itself reads as 1 percent.
func score(v float64) int {
	if v > 0 && v < 1 {
		v *= 100
	}
	n := int(math.Round(v))
	if n < 0 {
		return 0
	}
	if n > 100 {
		return 100
	}
	return n
}

type classificationAnswer struct {
	DocumentType string          `json:"document_type"`
	Confidence   json.RawMessage `json:"confidence"`
	Reasoning    string          `json:"reasoning"`
}

// ParseClassification decodes a classification answer. The label is returned
// as given; unknown labels are handled by the classifier.
func ParseClassification(raw string) (*out.ClassificationResult, error) {
	var a classificationAnswer
	if err := json.Unmarshal([]byte(stripFences(raw)), &a); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedOracleOutput, err)
	}
	if strings.TrimSpace(a.DocumentType) == "" {
		return nil, fmt.Errorf("%w: missing document_type", domain.ErrMalformedOracleOutput)
	}
	conf, err := number(a.Confidence)
	if err != nil {
		return nil, fmt.Errorf("%w: confidence: %v", domain.ErrMalformedOracleOutput, err)
	}
	return &out.ClassificationResult{
		DocumentType: strings.TrimSpace(a.DocumentType),
		Confidence:   score(conf),
		Reasoning:    a.Reasoning,
	}, nil
}

// ParseExtraction decodes an extraction answer. Accepted shapes:
//
//	{"fields": {"eta": {"value": "2025-03-01", "confidence": 0.9}}}
//	{"eta": {"value": "2025-03-01", "confidence": 92}}
//	{"eta": "2025-03-01"}
//
// Null and empty values are dropped; numbers are kept in their textual form.
// A list of scalars is joined with ", ". Any other field the decoder cannot
// read is logged and skipped.
func ParseExtraction(raw string) (map[string]out.ExtractedValue, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal([]byte(stripFences(raw)), &top); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedOracleOutput, err)
	}
	if nested, ok := top["fields"]; ok {
		top = nil
		if err := json.Unmarshal(nested, &top); err != nil {
			return nil, fmt.Errorf("%w: fields: %v", domain.ErrMalformedOracleOutput, err)
		}
	}

	fields := make(map[string]out.ExtractedValue, len(top))
	for name, msg := range top {
		name = strings.ToLower(strings.TrimSpace(name))
		v, ok, err := fieldValue(msg)
		if err != nil {
			logger.WithError(err).WithField("field", name).Warn("[ParseExtraction] skipping unreadable field")
			continue
		}
		if ok && name != "" {
			fields[name] = v
		}
	}
	return fields, nil
}

func fieldValue(msg json.RawMessage) (out.ExtractedValue, bool, error) {
	msg = bytes.TrimSpace(msg)
	if len(msg) == 0 || string(msg) == "null" {
		return out.ExtractedValue{}, false, nil
	}

	if msg[0] == '{' {
		var obj struct {
			Value      json.RawMessage `json:"value"`
			Confidence json.RawMessage `json:"confidence"`
		}
		if err := json.Unmarshal(msg, &obj); err != nil {
			return out.ExtractedValue{}, false, err
		}
		text, ok, err := scalar(obj.Value)
		if err != nil || !ok {
			return out.ExtractedValue{}, false, err
		}
		conf, err := number(obj.Confidence)
		if err != nil {
			return out.ExtractedValue{}, false, err
		}
		return out.ExtractedValue{Value: text, Confidence: score(conf)}, true, nil
	}

	text, ok, err := scalar(msg)
	return out.ExtractedValue{Value: text}, ok, err
}

// scalar renders a JSON string, number or bool as text.
func scalar(msg json.RawMessage) (string, bool, error) {
	msg = bytes.TrimSpace(msg)
	if len(msg) == 0 || string(msg) == "null" {
		return "", false, nil
	}
	switch msg[0] {
	case '"':
		var s string
		if err := json.Unmarshal(msg, &s); err != nil {
			return "", false, err
		}
		s = strings.TrimSpace(s)
		return s, s != "", nil
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(msg, &items); err != nil {
			return "", false, err
		}
		parts := make([]string, 0, len(items))
		for _, item := range items {
			item = bytes.TrimSpace(item)
			if len(item) > 0 && (item[0] == '[' || item[0] == '{') {
				return "", false, fmt.Errorf("unexpected nested %c", item[0])
			}
			text, ok, err := scalar(item)
			if err != nil {
				return "", false, err
			}
			if ok {
				parts = append(parts, text)
			}
		}
		return strings.Join(parts, ", "), len(parts) > 0, nil
	case '{':
		return "", false, fmt.Errorf("unexpected %c", msg[0])
	default:
		return string(msg), true, nil
	}
}

// number accepts a JSON number or a numeric string. Missing values are zero.
func number(msg json.RawMessage) (float64, error) {
	msg = bytes.TrimSpace(msg)
	if len(msg) == 0 || string(msg) == "null" {
		return 0, nil
	}
	if msg[0] == '"' {
		var s string
		if err := json.Unmarshal(msg, &s); err != nil {
			return 0, err
		}
		return strconv.ParseFloat(strings.TrimSuffix(strings.TrimSpace(s), "%"), 64)
	}
	var f float64
	err := json.Unmarshal(msg, &f)
	return f, err
}

func truncateBody(body string, maxLen int) string {
	if len(body) <= maxLen {
		return body
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(body[cut]) {
		cut--
	}
	return body[:cut] + "..."
}
