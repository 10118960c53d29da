package storefront

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"
)

const (
	simpleImportFields = 3
	modeImportFields   = 8
	importCommentMark  = "#"
)

// ParseSimpleImport parses personal-only import text, one item per line:
//
//	<category> <price> <credential>
//
// Each line becomes an item with a single personal offer of capacity one.
// Blank lines and lines starting with # are skipped; malformed lines are
// counted, not fatal.
func ParseSimpleImport(text string) ([]ItemInput, int) {
	inputs := make([]ItemInput, 0)
	failed := 0
	for _, line := range importLines(text) {
		fields := splitImportLine(line, simpleImportFields)
		if len(fields) != simpleImportFields {
			failed++
			continue
		}
		input, err := simpleItemInput(fields[0], fields[1], fields[2])
		if err != nil {
			failed++
			continue
		}
		inputs = append(inputs, input)
	}
	return inputs, failed
}

// ParseModeImport parses multi-mode import text, one item per line:
//
//	<category> <personal_price> <personal_cap> <shared_price> <shared_cap> <device_price> <device_cap> <credential>
//
// A price and capacity pair of "0 0" means the mode is not offered for that
// item; a line offering no mode at all is counted as failed.
func ParseModeImport(text string) ([]ItemInput, int) {
	inputs := make([]ItemInput, 0)
	failed := 0
	for _, line := range importLines(text) {
		fields := splitImportLine(line, modeImportFields)
		if len(fields) != modeImportFields {
			failed++
			continue
		}
		input, err := modeItemInput(fields)
		if err != nil {
			failed++
			continue
		}
		inputs = append(inputs, input)
	}
	return inputs, failed
}

func simpleItemInput(rawCategory string, rawPrice string, rawCredential string) (ItemInput, error) {
	category, err := NewCategory(rawCategory)
	if err != nil {
		return ItemInput{}, err
	}
	credential, err := NewCredential(rawCredential)
	if err != nil {
		return ItemInput{}, err
	}
	priceCents, err := parsePriceCents(rawPrice)
	if err != nil {
		return ItemInput{}, err
	}
	offer, err := NewOfferInput(priceCents, 1)
	if err != nil {
		return ItemInput{}, err
	}
	return NewItemInput(category, credential, map[AccessMode]OfferInput{ModePersonal: offer})
}

func modeItemInput(fields []string) (ItemInput, error) {
	category, err := NewCategory(fields[0])
	if err != nil {
		return ItemInput{}, err
	}
	credential, err := NewCredential(fields[7])
	if err != nil {
		return ItemInput{}, err
	}
	offers := make(map[AccessMode]OfferInput)
	modes := AccessModes()
	for position, mode := range modes {
		rawPrice := fields[1+position*2]
		rawCapacity := fields[2+position*2]
		priceCents, err := parsePriceCents(rawPrice)
		if err != nil {
			return ItemInput{}, err
		}
		capacity, err := strconv.ParseInt(rawCapacity, 10, 64)
		if err != nil {
			return ItemInput{}, fmt.Errorf("%w: capacity %q", ErrInvalidItemInput, rawCapacity)
		}
		if priceCents == 0 && capacity == 0 {
			continue
		}
		offer, err := NewOfferInput(priceCents, capacity)
		if err != nil {
			return ItemInput{}, err
		}
		offers[mode] = offer
	}
	return NewItemInput(category, credential, offers)
}

// parsePriceCents converts a decimal currency amount into cents.
func parsePriceCents(raw string) (int64, error) {
	price, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(price) || math.IsInf(price, 0) || price < 0 {
		return 0, fmt.Errorf("%w: price %q", ErrInvalidItemInput, raw)
	}
	return int64(math.Round(price * 100)), nil
}

func importLines(text string) []string {
	lines := make([]string, 0)
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, importCommentMark) {
			continue
		}
		lines = append(lines, trimmed)
	}
	return lines
}

// splitImportLine splits a line into at most limit whitespace-separated
// fields; the last field keeps its internal whitespace so credentials may
// contain spaces.
func splitImportLine(line string, limit int) []string {
	fields := make([]string, 0, limit)
	rest := strings.TrimSpace(line)
	for len(fields) < limit-1 {
		cut := strings.IndexFunc(rest, unicode.IsSpace)
		if cut < 0 {
			break
		}
		fields = append(fields, rest[:cut])
		rest = strings.TrimSpace(rest[cut:])
	}
	if rest != "" {
		fields = append(fields, rest)
	}
	return fields
}
