package nfe

import (
	"encoding/base64"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// WarehouseDateTimeLayout is how every date leaves the extractor.
const WarehouseDateTimeLayout = "2006-01-02 15:04:05"

var whitespaceRun = regexp.MustCompile(`\s+`)

var descriptionReplacer = strings.NewReplacer(
	"\n", " ",
	"\r", " ",
	"\t", " ",
	`"`, "'",
	";", ",",
)

// CleanText prepares free text for storage. Double quotes and semicolons are
// record and field separators downstream.
func CleanText(text string) string {
	return whitespaceRun.ReplaceAllString(descriptionReplacer.Replace(text), " ")
}

// Date layouts seen in NFe / NFSe documents, most specific first.
var dateLayouts = []struct {
	layout string
	zoned  bool
}{
	{time.RFC3339Nano, true},
	{"2006-01-02T15:04-07:00", true},
	{"2006-01-02T15:04:05.999999999", false},
	{"2006-01-02T15:04:05", false},
	{"2006-01-02 15:04:05", false},
	{"2006-01-02", false},
	{"02/01/2006 15:04:05", false},
	{"02/01/2006", false},
}

// ParseDateTime parses a document date. Values with an offset are converted
// to UTC. Values without one, such as NFSe DataEmissao, keep their wall-clock
// time unconverted.
func ParseDateTime(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, errors.New("empty date")
	}
	for _, l := range dateLayouts {
		if l.zoned {
			if t, err := time.Parse(l.layout, value); err == nil {
				return t.UTC(), nil
			}
			continue
		}
		if t, err := time.ParseInLocation(l.layout, value, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", value)
}

// NormalizeDateTime renders a document date as YYYY-MM-DD HH:MM:SS.
// On failure it returns the trimmed input with the error so the caller can
// log and carry on.
func NormalizeDateTime(value string) (string, error) {
	t, err := ParseDateTime(value)
	if err != nil {
		return strings.TrimSpace(value), err
	}
	return t.Format(WarehouseDateTimeLayout), nil
}

// ParseAmount reads a monetary or quantity value. Both the XML form "1234.56"
// and the Brazilian display form "1.234,56" are accepted.
func ParseAmount(value string) (decimal.Decimal, error) {
	value = strings.TrimSpace(value)
	value = strings.TrimPrefix(value, "R$")
	value = strings.TrimSpace(value)
	if value == "" {
		return decimal.Zero, errors.New("empty amount")
	}
	comma := strings.LastIndex(value, ",")
	dot := strings.LastIndex(value, ".")
	if comma > dot {
		value = strings.ReplaceAll(value, ".", "")
		value = strings.Replace(value, ",", ".", 1)
	} else if comma >= 0 {
		value = strings.ReplaceAll(value, ",", "")
	}
	d, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount %q: %w", value, err)
	}
	return d, nil
}

// RoundUp4 rounds towards positive infinity at four decimal places, the
// precision the warehouse keeps for unit prices and line totals.
func RoundUp4(d decimal.Decimal) float64 {
	return d.RoundCeil(4).InexactFloat64()
}

// DecodeAttachment decodes an attachment body. The inbox API uses base64url,
// with or without padding; standard base64 is accepted as well.
func DecodeAttachment(body string) ([]byte, error) {
	body = strings.Map(func(r rune) rune {
		switch r {
		case '\n', '\r', ' ', '\t':
			return -1
		}
		return r
	}, body)
	encodings := []*base64.Encoding{
		base64.URLEncoding,
		base64.RawURLEncoding,
		base64.StdEncoding,
		base64.RawStdEncoding,
	}
	var lastErr error
	for _, enc := range encodings {
		out, err := enc.DecodeString(body)
		if err == nil {
			return out, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("attachment body is not base64: %w", lastErr)
}
