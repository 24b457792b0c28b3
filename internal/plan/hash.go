package plan

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"unicode/utf16"
)

// HashPrefix is prepended to the hex digest of every plan hash.
const HashPrefix = "sha256:"

// hashExcludedKeys are stripped from the top-level document before hashing
// so recording the hash (or an inline approval) does not change it.
var hashExcludedKeys = map[string]bool{
	"plan_hash": true,
	"approval":  true,
}

// Hash computes the canonical content hash of the plan.
func (p *Plan) Hash() string {
	payload := make(map[string]any, len(p.doc))
	for key, value := range p.doc {
		if hashExcludedKeys[key] {
			continue
		}
		payload[key] = value
	}
	var b strings.Builder
	writeCanonical(&b, payload)
	sum := sha256.Sum256([]byte(b.String()))
	return fmt.Sprintf("%s%x", HashPrefix, sum)
}

// writeCanonical serializes a decoded JSON value deterministically: object
// keys sorted, compact separators, non-ASCII escaped as \uXXXX. The output
// for any value decoded via Parse is byte-stable regardless of source key
// order or whitespace.
func writeCanonical(b *strings.Builder, v any) {
	switch val := v.(type) {
	case nil:
		b.WriteString("null")
	case bool:
		if val {
			b.WriteString("true")
		} else {
			b.WriteString("false")
		}
	case string:
		writeCanonicalString(b, val)
	case json.Number:
		b.WriteString(val.String())
	case float64:
		// Only reached for documents built in memory rather than parsed.
		data, _ := json.Marshal(val)
		b.Write(data)
	case int:
		fmt.Fprintf(b, "%d", val)
	case int64:
		fmt.Fprintf(b, "%d", val)
	case []any:
		b.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				b.WriteByte(',')
			}
			writeCanonical(b, item)
		}
		b.WriteByte(']')
	case []string:
		b.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				b.WriteByte(',')
			}
			writeCanonicalString(b, item)
		}
		b.WriteByte(']')
	case map[string]any:
		keys := make([]string, 0, len(val))
		for key := range val {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		b.WriteByte('{')
		for i, key := range keys {
			if i > 0 {
				b.WriteByte(',')
			}
			writeCanonicalString(b, key)
			b.WriteByte(':')
			writeCanonical(b, val[key])
		}
		b.WriteByte('}')
	default:
		data, _ := json.Marshal(val)
		b.Write(data)
	}
}

// writeCanonicalString escapes a string the way compact ASCII JSON
// serializers do: short escapes for the common control characters, \uXXXX
// for the rest and for every rune above 0x7E (surrogate pairs beyond the
// BMP).
func writeCanonicalString(b *strings.Builder, s string) {
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		case '\b':
			b.WriteString(`\b`)
		case '\f':
			b.WriteString(`\f`)
		default:
			switch {
			case r < 0x20 || (r > 0x7e && r <= 0xffff):
				fmt.Fprintf(b, `\u%04x`, r)
			case r > 0xffff:
				hi, lo := utf16.EncodeRune(r)
				fmt.Fprintf(b, `\u%04x\u%04x`, hi, lo)
			default:
				b.WriteRune(r)
			}
		}
	}
	b.WriteByte('"')
}
