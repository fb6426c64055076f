package scanning

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrIncomplete is returned when the model response lacks required fields
var ErrIncomplete = errors.New("extracted data is missing required fields")

// fallbackItem stands in for the item list when the model only read a total
func fallbackItem(total float64) ExtractedItem {
	return ExtractedItem{
		Description: LocalizedText{Original: "不明", Translated: "Uncategorized Item"},
		Price:       total,
		Category:    "Other",
	}
}

// extractJSONObject strips code fences and returns the outermost {...} span
func extractJSONObject(text string) (string, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSpace(text)

	startIdx := strings.Index(text, "{")
	if startIdx == -1 {
		return "", fmt.Errorf("no JSON object found in response")
	}

	endIdx := strings.LastIndex(text, "}")
	if endIdx == -1 || endIdx < startIdx {
		return "", fmt.Errorf("invalid JSON object in response")
	}

	return text[startIdx : endIdx+1], nil
}

// normalizeDate converts the model's date to YYYY-MM-DD, falling back to
// today when it can't be read
func normalizeDate(raw string, now time.Time) string {
	raw = strings.TrimSpace(raw)
	formats := []string{
		"2006-01-02",
		"2006/01/02",
		"2006.01.02",
		"01/02/2006",
		"02-01-2006",
	}
	for _, format := range formats {
		if d, err := time.Parse(format, raw); err == nil {
			return d.Format("2006-01-02")
		}
	}
	return now.Format("2006-01-02")
}

// parseExtraction parses the JSON response of a model and applies the
// fallbacks every provider shares
func parseExtraction(text string, categories []string) (*Extraction, error) {
	obj, err := extractJSONObject(text)
	if err != nil {
		return nil, err
	}

	var data Extraction
	if err := json.Unmarshal([]byte(obj), &data); err != nil {
		return nil, fmt.Errorf("unmarshaling json: %w", err)
	}

	data.Currency = strings.ToUpper(strings.TrimSpace(data.Currency))
	if data.Currency == "" {
		return nil, fmt.Errorf("currency: %w", ErrIncomplete)
	}

	data.Date = normalizeDate(data.Date, time.Now())

	data.Merchant.Original = strings.TrimSpace(data.Merchant.Original)
	data.Merchant.Translated = strings.TrimSpace(data.Merchant.Translated)
	if data.Merchant.Original == "" && data.Merchant.Translated == "" {
		data.Merchant.Original = "Unknown Merchant"
	}
	if data.Merchant.Translated == "" {
		data.Merchant.Translated = data.Merchant.Original
	}

	if data.Location != nil && strings.TrimSpace(data.Location.Determined) == "" && len(data.Location.Suggestions) == 0 {
		data.Location = nil
	}

	for i := range data.Items {
		data.Items[i].Category = matchCategory(data.Items[i].Category, categories)
	}
	if data.Items == nil {
		data.Items = []ExtractedItem{}
	}
	if len(data.Items) == 0 && data.Total > 0 {
		data.Items = append(data.Items, fallbackItem(data.Total))
	}

	return &data, nil
}

// matchCategory returns the supplied category equal (ignoring case) to name,
// or Other
func matchCategory(name string, categories []string) string {
	name = strings.TrimSpace(name)
	for _, c := range categories {
		if strings.EqualFold(c, name) {
			return c
		}
	}
	return "Other"
}
