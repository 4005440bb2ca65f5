package collection

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

var folder = cases.Fold()

// IdentityKey returns the stacking key for a card. Two cards are the same
// when their keys are equal: names, set codes, and collector numbers compare
// after Unicode NFKC normalization, case folding, and whitespace collapsing.
// An empty collector number still forms a key.
func IdentityKey(name, setCode, collectorNumber string) string {
	return normalizePart(name) + "|" + normalizePart(setCode) + "|" + normalizePart(collectorNumber)
}

func normalizePart(value string) string {
	value = norm.NFKC.String(value)
	value = folder.String(value)
	return strings.Join(strings.Fields(value), " ")
}
