package scanning

import (
	"fmt"
	"strings"
)

const extractionPrompt = `You are analyzing a receipt from a trip abroad. Carefully read all text in the image and extract the following information:

1. **Merchant**: The store or business name exactly as printed, plus its English translation.

2. **Date**: The transaction date in ISO 8601 format (YYYY-MM-DD). Convert era-based dates such as 令和 (Reiwa) to the Gregorian calendar.

3. **Location**: Your best guess of the city and country the receipt was issued in. If you are not sure, list the possible countries as suggestions.

4. **Currency**: The currency code of the transaction (e.g. JPY, USD), inferred from the symbol or the country.

5. **Total**: The final amount paid, as a number.

6. **Items**: Every purchased line with its original description, an English translation, and its price. Include tax, fee and discount lines as items with their own (possibly negative) price.

Assign each item exactly one of these categories: %s. If unsure, use "Other".
%s
Return ONLY valid JSON in this exact format:
{
  "merchant": {"original": "...", "translated": "..."},
  "date": "YYYY-MM-DD",
  "location": {"determined": "City, Country", "suggestions": []},
  "total": 0.00,
  "currency": "JPY",
  "items": [
    {"description": {"original": "...", "translated": "..."}, "price": 0.00, "category": "Other"}
  ]
}

Important:
- Prices and the total must be numbers, not strings
- Do not include any text before or after the JSON
- Do not use markdown code blocks`

// buildExtractionPrompt renders the shared prompt used by all providers
func buildExtractionPrompt(categories []string, coords *Coordinates) string {
	hint := ""
	if coords != nil {
		hint = fmt.Sprintf("\nThe user is currently near latitude %.4f, longitude %.4f. Use this to help determine the location.\n", coords.Latitude, coords.Longitude)
	}
	return fmt.Sprintf(extractionPrompt, strings.Join(categories, ", "), hint)
}

const askPrompt = `You are a helpful assistant for managing travel expenses. Based on the following JSON data, which represents a list of receipts, please answer the user's question. The "items" array in each receipt contains individual products with their own categories. Provide concise and helpful answers. Do not mention the JSON structure in your answer.

Here is the receipt data:
%s

User's question: %q`

func buildAskPrompt(receiptsJSON []byte, question string) string {
	return fmt.Sprintf(askPrompt, receiptsJSON, question)
}
