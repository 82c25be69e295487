package corpus

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// hashFieldSep separates projection fields in the hash input. A control
// character keeps "a|b"+"c" and "a"+"b|c" from colliding.
const hashFieldSep = "\x1f"

// ContentHash derives the stable dedup key for a passage: a SHA-256 digest
// over whitespace-normalized text plus a canonical projection of the
// identity-bearing metadata fields. It is the upsert conflict key, so two
// passages with the same normalized text and projection are the same row.
func ContentHash(text string, md Metadata) string {
	parts := []string{
		normalizeWhitespace(text),
		md.Jurisdiction,
		string(md.SourceType),
		md.Citation,
		md.Provision,
		md.Paragraph,
		md.Version,
	}

	sum := sha256.Sum256([]byte(strings.Join(parts, hashFieldSep)))
	return hex.EncodeToString(sum[:])
}

// normalizeWhitespace collapses all runs of whitespace to single spaces and
// trims the ends, so formatting-only edits do not change passage identity.
func normalizeWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
