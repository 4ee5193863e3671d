package fixing

import (
	"bytes"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// RawEntry is one row lifted out of the document before currency
// resolution: the label as printed, the cleaned rate text, and the date
// hint the page carried, if any.
type RawEntry struct {
	Label    string
	RateText string
	Rate     decimal.Decimal
}

// ParseResult separates document-level success from per-row skips. A
// row that fails to parse increments Skipped and never aborts the
// document.
type ParseResult struct {
	Entries     []RawEntry
	Skipped     int
	LastUpdated *time.Time
}

var (
	decimalNumberRe = regexp.MustCompile(`\d+[.,]\d+`)
	nonNumericRe    = regexp.MustCompile(`[^\d.,]`)
	// "Përditesimi i fundit" timestamp: DD.MM.YYYY HH:MM:SS
	lastUpdatedRe = regexp.MustCompile(`(\d{1,2}\.\d{1,2}\.\d{4})\s+(\d{1,2}:\d{2}:\d{2})`)
)

// fallbackCodes are scanned for in raw page text when no parseable table
// is present.
var fallbackCodes = []string{"USD", "EUR", "GBP", "CHF", "CAD", "JPY"}

// Parser extracts raw rate entries from the fixing page HTML. All
// knowledge of the unstable upstream markup lives here.
type Parser struct {
	logger zerolog.Logger
}

// NewParser builds a document parser.
func NewParser(logger zerolog.Logger) *Parser {
	return &Parser{logger: logger.With().Str("component", "fixing_parser").Logger()}
}

// Parse turns a raw HTML document into rate entries. The markup is not
// contractually stable: rows may be laid out as label+code+rate,
// label+rate, or code+rate, and when no structured table is found at
// all a regex scan over the page text is used as a last resort.
// The returned error is reserved for document-level failures; malformed
// rows only increment Skipped.
func (p *Parser) Parse(document []byte) (ParseResult, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(document))
	if err != nil {
		return ParseResult{}, err
	}

	result := ParseResult{}
	pageText := doc.Text()
	result.LastUpdated = p.extractLastUpdated(pageText)

	table := doc.Find("table.table").First()
	if table.Length() == 0 {
		table = doc.Find("table").First()
	}

	if table.Length() > 0 {
		p.parseTable(table, &result)
	}

	if len(result.Entries) == 0 {
		p.logger.Warn().Msg("no structured rate table found, falling back to text scan")
		p.parseFallback(pageText, &result)
	}

	return result, nil
}

func (p *Parser) parseTable(table *goquery.Selection, result *ParseResult) {
	table.Find("tr").Each(func(i int, row *goquery.Selection) {
		if i == 0 {
			return // header
		}

		cells := row.Find("td, th").Map(func(_ int, cell *goquery.Selection) string {
			return strings.TrimSpace(cell.Text())
		})
		if len(cells) < 2 {
			return
		}

		var label, code, rateText string
		switch {
		case len(cells) > 2 && decimalNumberRe.MatchString(cells[2]):
			// label | code | rate
			label, code, rateText = cells[0], cells[1], cells[2]
		case decimalNumberRe.MatchString(cells[1]):
			// label | rate, or code | rate
			label, rateText = cells[0], cells[1]
		default:
			return
		}

		cleaned := cleanRateText(rateText)
		if cleaned == "" {
			result.Skipped++
			p.logger.Warn().Str("label", label).Str("raw", rateText).Msg("skipping row with unparseable rate")
			return
		}

		rate, err := decimal.NewFromString(cleaned)
		if err != nil || !rate.IsPositive() {
			result.Skipped++
			p.logger.Warn().Str("label", label).Str("raw", rateText).Msg("skipping row with invalid rate value")
			return
		}

		// Prefer an explicit code column over the printed name.
		if len(code) == 3 && strings.ToUpper(code) == code {
			label = code
		}

		result.Entries = append(result.Entries, RawEntry{
			Label:    label,
			RateText: cleaned,
			Rate:     rate,
		})
	})
}

func (p *Parser) parseFallback(pageText string, result *ParseResult) {
	for _, code := range fallbackCodes {
		re := regexp.MustCompile(`(?i)` + code + `.*?(\d+[.,]\d+)`)
		match := re.FindStringSubmatch(pageText)
		if match == nil {
			continue
		}

		rate, err := decimal.NewFromString(strings.ReplaceAll(match[1], ",", "."))
		if err != nil || !rate.IsPositive() {
			result.Skipped++
			continue
		}

		result.Entries = append(result.Entries, RawEntry{
			Label:    code,
			RateText: match[1],
			Rate:     rate,
		})
	}
}

func (p *Parser) extractLastUpdated(pageText string) *time.Time {
	match := lastUpdatedRe.FindStringSubmatch(pageText)
	if match == nil {
		return nil
	}

	ts, err := time.Parse("2.1.2006 15:04:05", match[1]+" "+match[2])
	if err != nil {
		p.logger.Warn().Str("raw", match[0]).Msg("could not parse last-update timestamp")
		return nil
	}
	return &ts
}

// cleanRateText strips everything but digits and separators and
// normalises the decimal comma.
func cleanRateText(raw string) string {
	cleaned := nonNumericRe.ReplaceAllString(raw, "")
	cleaned = strings.ReplaceAll(cleaned, ",", ".")
	if cleaned == "" || cleaned == "." {
		return ""
	}
	return cleaned
}
