package analysis

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// TextFingerprinter derives deterministic deduplication keys from item
// text. Case and whitespace differences do not change the fingerprint,
// so trivially reformatted reposts dedupe to the same record.
type TextFingerprinter struct{}

// NewTextFingerprinter creates a TextFingerprinter.
func NewTextFingerprinter() *TextFingerprinter {
	return &TextFingerprinter{}
}

// Fingerprint returns the hex SHA-256 of the normalized text.
func (f *TextFingerprinter) Fingerprint(_ context.Context, text string) (string, error) {
	sum := sha256.Sum256([]byte(normalizeText(text)))
	return hex.EncodeToString(sum[:]), nil
}

// normalizeText case-folds and collapses all whitespace runs to single
// spaces.
func normalizeText(text string) string {
	return strings.Join(strings.Fields(strings.ToLower(text)), " ")
}
