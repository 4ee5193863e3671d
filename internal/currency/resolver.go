// Package currency maps the localized currency labels published on the
// fixing page to ISO 4217 codes, canonical English names, and quoting
// unit multipliers. The upstream page mixes Albanian names and ISO codes
// inconsistently across rows, so resolution is table driven.
package currency

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

// localizedNames maps Albanian currency names, as published in the
// official fixing regulation, to ISO 4217 codes. Spelling variants the
// page has used over time are listed separately.
var localizedNames = map[string]string{
	"Dollar Amerikan":                   "USD",
	"Dollari Amerikan":                  "USD",
	"Euro":                              "EUR",
	"Poundi Britanik":                   "GBP",
	"Paundi Britanik":                   "GBP",
	"Franga Zvicerane":                  "CHF",
	"Jeni Japonez":                      "JPY",
	"Dollari Australiane":               "AUD",
	"Dollari Kanadez":                   "CAD",
	"Korona Suedeze":                    "SEK",
	"Korona Norvegjeze":                 "NOK",
	"Korona Daneze":                     "DKK",
	"Lira Turke":                        "TRY",
	"Juani Kinez":                       "CNY",
	"Leva Bullgare":                     "BGN",
	"Forinta Hungareze":                 "HUF",
	"Rubla Ruse":                        "RUB",
	"Kuna Kroate":                       "HRK",
	"Korona Çeke":                       "CZK",
	"Dinari Maqedonas":                  "MKD",
	"Ari":                               "XAU",
	"Argjendi":                          "XAG",
	"Argjend":                           "XAG",
	"SDR":                               "SDR",
	"Të drejtat speciale të tërheqjes":  "SDR",
}

var englishNames = map[string]string{
	"USD": "US Dollar",
	"EUR": "Euro",
	"GBP": "British Pound Sterling",
	"CHF": "Swiss Franc",
	"JPY": "Japanese Yen",
	"AUD": "Australian Dollar",
	"CAD": "Canadian Dollar",
	"SEK": "Swedish Krona",
	"NOK": "Norwegian Krone",
	"DKK": "Danish Krone",
	"TRY": "Turkish Lira",
	"CNY": "Chinese Yuan (Onshore)",
	"CNH": "Chinese Yuan (Offshore)",
	"BGN": "Bulgarian Lev",
	"HUF": "Hungarian Forint",
	"RUB": "Russian Ruble",
	"HRK": "Croatian Kuna (Obsolete)",
	"CZK": "Czech Koruna",
	"MKD": "Macedonian Denar",
	"XAU": "Gold (Troy Ounce)",
	"XAG": "Silver (Troy Ounce)",
	"SDR": "Special Drawing Rights",
}

// per100Units lists currencies the fixing quotes per 100 foreign units.
var per100Units = map[string]bool{
	"JPY": true,
	"HUF": true,
	"RUB": true,
}

// nameEntry pairs a lowercased localized name with its code. Matching
// walks a fixed longest-name-first order so short names ("Ari") can
// never shadow longer ones ("Dollari Amerikan") and resolution of the
// same label is stable across runs.
type nameEntry struct {
	name string
	code string
}

var orderedNames = buildOrderedNames()

func buildOrderedNames() []nameEntry {
	entries := make([]nameEntry, 0, len(localizedNames))
	for name, code := range localizedNames {
		entries = append(entries, nameEntry{name: strings.ToLower(name), code: code})
	}
	sort.Slice(entries, func(i, j int) bool {
		if len(entries[i].name) != len(entries[j].name) {
			return len(entries[i].name) > len(entries[j].name)
		}
		return entries[i].name < entries[j].name
	})
	return entries
}

// Resolution is the outcome of resolving one label.
type Resolution struct {
	Code           string
	Name           string
	UnitMultiplier int
}

// Resolved reports whether the label mapped to a plausible ISO code.
func (r Resolution) Resolved() bool {
	return isISOCode(r.Code)
}

// Resolve maps a localized or abbreviated currency label to its ISO
// code, canonical name, and unit multiplier. Resolution order: exact
// table match, case-insensitive whole-word containment in either
// direction (longest table name first), 3-letter uppercase passthrough,
// then raw-label fallback so the caller can decide whether to drop the
// row.
func Resolve(label string) Resolution {
	trimmed := strings.TrimSpace(label)

	if code, ok := localizedNames[trimmed]; ok {
		return resolution(code)
	}

	lower := strings.ToLower(trimmed)
	for _, entry := range orderedNames {
		if containsWord(lower, entry.name) || containsWord(entry.name, lower) {
			return resolution(entry.code)
		}
	}

	if isISOCode(trimmed) {
		return resolution(trimmed)
	}

	return Resolution{Code: trimmed, Name: trimmed, UnitMultiplier: 1}
}

// containsWord reports whether needle occurs in haystack on word
// boundaries. Plain substring search would let "ari" match inside
// "dollari".
func containsWord(haystack, needle string) bool {
	if needle == "" {
		return false
	}
	for start := 0; ; start++ {
		idx := strings.Index(haystack[start:], needle)
		if idx < 0 {
			return false
		}
		start += idx
		end := start + len(needle)
		if boundaryBefore(haystack, start) && boundaryAfter(haystack, end) {
			return true
		}
	}
}

func boundaryBefore(s string, idx int) bool {
	if idx == 0 {
		return true
	}
	r, _ := utf8.DecodeLastRuneInString(s[:idx])
	return !unicode.IsLetter(r)
}

func boundaryAfter(s string, idx int) bool {
	if idx >= len(s) {
		return true
	}
	r, _ := utf8.DecodeRuneInString(s[idx:])
	return !unicode.IsLetter(r)
}

// UnitMultiplier returns 100 for currencies quoted per 100 units, 1 otherwise.
func UnitMultiplier(code string) int {
	if per100Units[code] {
		return 100
	}
	return 1
}

// EnglishName returns the canonical English name for a code, or the code
// itself when unknown.
func EnglishName(code string) string {
	if name, ok := englishNames[code]; ok {
		return name
	}
	return code
}

func resolution(code string) Resolution {
	return Resolution{
		Code:           code,
		Name:           EnglishName(code),
		UnitMultiplier: UnitMultiplier(code),
	}
}

func isISOCode(s string) bool {
	if len(s) != 3 {
		return false
	}
	for _, r := range s {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}
