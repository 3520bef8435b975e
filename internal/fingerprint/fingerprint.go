// Package fingerprint computes the cache and deduplication key of a query
// execution.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"unicode"
)

// Compute returns the hex SHA-256 digest of the data source, the normalized
// query text, and the canonical parameter bindings.
//
// Bindings are serialized with sorted keys, so the digest does not depend on
// binding order but changes with any binding value.
func Compute(dataSourceID, queryText string, params map[string]any) string {
	h := sha256.New()
	h.Write([]byte(dataSourceID))
	h.Write([]byte{0})
	h.Write([]byte(Normalize(queryText)))
	h.Write([]byte{0})
	h.Write([]byte(canonicalParams(params)))
	return hex.EncodeToString(h.Sum(nil))
}

func canonicalParams(params map[string]any) string {
	if len(params) == 0 {
		return "{}"
	}
	// encoding/json writes map keys in sorted order at every nesting level.
	b, err := json.Marshal(params)
	if err != nil {
		return fmt.Sprintf("%v", params)
	}
	return string(b)
}

// Normalize strips SQL comments, collapses whitespace runs to a single space,
// and trims the result. Quoted strings and identifiers are copied unchanged.
func Normalize(text string) string {
	var (
		b       strings.Builder
		runes   = []rune(text)
		pending bool
	)
	b.Grow(len(text))

	emit := func(r rune) {
		if pending && b.Len() > 0 {
			b.WriteByte(' ')
		}
		pending = false
		b.WriteRune(r)
	}

	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case r == '-' && i+1 < len(runes) && runes[i+1] == '-':
			for i < len(runes) && runes[i] != '\n' {
				i++
			}
			pending = true
		case r == '/' && i+1 < len(runes) && runes[i+1] == '*':
			i += 2
			for i < len(runes) && (runes[i] != '*' || i+1 >= len(runes) || runes[i+1] != '/') {
				i++
			}
			i++ // land on the closing '/'
			pending = true
		case r == '\'' || r == '"':
			emit(r)
			for i++; i < len(runes); i++ {
				b.WriteRune(runes[i])
				if runes[i] == r {
					break
				}
			}
		case unicode.IsSpace(r):
			pending = true
		default:
			emit(r)
		}
	}
	return b.String()
}
