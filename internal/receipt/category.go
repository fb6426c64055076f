package receipt

import (
	"sort"
	"strings"
)

// OtherCategory is the fallback for unknown or deleted categories
const OtherCategory = "Other"

// DefaultCategories are always available and can't be renamed or deleted
var DefaultCategories = []string{
	"Food & Drink",
	"Groceries",
	"Transportation",
	"Shopping",
	"Lodging",
	"Entertainment",
	"Utilities",
	"Health & Wellness",
	OtherCategory,
}

// Currency is a supported ISO currency code with its display name
type Currency struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

// SupportedCurrencies lists the currencies offered for the home currency
var SupportedCurrencies = []Currency{
	{Code: "USD", Name: "United States Dollar"},
	{Code: "EUR", Name: "Euro"},
	{Code: "JPY", Name: "Japanese Yen"},
	{Code: "GBP", Name: "British Pound Sterling"},
	{Code: "AUD", Name: "Australian Dollar"},
	{Code: "CAD", Name: "Canadian Dollar"},
	{Code: "CHF", Name: "Swiss Franc"},
	{Code: "CNY", Name: "Chinese Yuan"},
	{Code: "HKD", Name: "Hong Kong Dollar"},
	{Code: "NZD", Name: "New Zealand Dollar"},
}

// IsSupportedCurrency reports whether code is in SupportedCurrencies
func IsSupportedCurrency(code string) bool {
	for _, c := range SupportedCurrencies {
		if c.Code == code {
			return true
		}
	}
	return false
}

// IsDefaultCategory reports whether name matches a default category, ignoring case
func IsDefaultCategory(name string) bool {
	return containsFold(DefaultCategories, name)
}

// Resolution is the outcome of resolving a category name against the set
type Resolution struct {
	Name  string
	Known bool
}

// ResolveCategory maps name onto the category set. Unknown and empty names
// resolve to Other.
func ResolveCategory(name string, set []string) Resolution {
	for _, c := range set {
		if strings.EqualFold(c, name) {
			return Resolution{Name: c, Known: true}
		}
	}
	return Resolution{Name: OtherCategory}
}

// mergeCategories returns defaults ∪ custom, sorted
func mergeCategories(custom []string) []string {
	all := make([]string, 0, len(DefaultCategories)+len(custom))
	all = append(all, DefaultCategories...)
	for _, c := range custom {
		if !containsFold(all, c) {
			all = append(all, c)
		}
	}
	sort.Strings(all)
	return all
}

func containsFold(list []string, name string) bool {
	return indexFold(list, name) >= 0
}

func indexFold(list []string, name string) int {
	for i, c := range list {
		if strings.EqualFold(c, name) {
			return i
		}
	}
	return -1
}
