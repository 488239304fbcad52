package signature

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"unicode/utf16"
	"unicode/utf8"
)

// Canonical returns the deterministic encoding of the value used as the input
// for hashing and signing. The output is byte-for-byte what a Python node
// produces with json.dumps(value, sort_keys=True): object keys are sorted, the
// separators are ", " and ": ", and every character outside of printable
// ASCII is escaped as \uXXXX.
func Canonical(value any) ([]byte, error) {

	// Let the json package apply struct tags and custom marshalers first, then
	// decode into a generic tree so the key order can be normalized.
	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}

	return CanonicalJSON(data)
}

// CanonicalJSON re-encodes an already marshaled JSON document into its
// canonical form.
func CanonicalJSON(data []byte) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var tree any
	if err := dec.Decode(&tree); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}

	var buf bytes.Buffer
	if err := writeCanonical(&buf, tree); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// writeCanonical walks the generic json tree writing each node.
func writeCanonical(buf *bytes.Buffer, node any) error {
	switch v := node.(type) {
	case nil:
		buf.WriteString("null")

	case bool:
		if v {
			buf.WriteString("true")
			return nil
		}
		buf.WriteString("false")

	case json.Number:
		return writeNumber(buf, v)

	case string:
		writeString(buf, v)

	case []any:
		buf.WriteByte('[')
		for i, elem := range v {
			if i > 0 {
				buf.WriteString(", ")
			}
			if err := writeCanonical(buf, elem); err != nil {
				return err
			}
		}
		buf.WriteByte(']')

	case map[string]any:
		keys := make([]string, 0, len(v))
		for key := range v {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		buf.WriteByte('{')
		for i, key := range keys {
			if i > 0 {
				buf.WriteString(", ")
			}
			writeString(buf, key)
			buf.WriteString(": ")
			if err := writeCanonical(buf, v[key]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')

	default:
		return fmt.Errorf("unsupported json node %T", node)
	}

	return nil
}

// writeNumber only accepts integers. Floats have no portable textual form
// across implementations so they are rejected.
func writeNumber(buf *bytes.Buffer, n json.Number) error {
	if i, err := strconv.ParseInt(string(n), 10, 64); err == nil {
		buf.WriteString(strconv.FormatInt(i, 10))
		return nil
	}

	if u, err := strconv.ParseUint(string(n), 10, 64); err == nil {
		buf.WriteString(strconv.FormatUint(u, 10))
		return nil
	}

	return fmt.Errorf("non integer number %q", n)
}

// writeString escapes the same set of characters as Python's ensure_ascii.
func writeString(buf *bytes.Buffer, s string) {
	const hex = "0123456789abcdef"

	buf.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			buf.WriteString(`\"`)
		case '\\':
			buf.WriteString(`\\`)
		case '\n':
			buf.WriteString(`\n`)
		case '\r':
			buf.WriteString(`\r`)
		case '\t':
			buf.WriteString(`\t`)
		case '\b':
			buf.WriteString(`\b`)
		case '\f':
			buf.WriteString(`\f`)
		default:
			if r >= 0x20 && r <= 0x7e {
				buf.WriteRune(r)
				continue
			}

			if r == utf8.RuneError {
				r = 0xfffd
			}

			units := []uint16{uint16(r)}
			if r > 0xffff {
				r1, r2 := utf16.EncodeRune(r)
				units = []uint16{uint16(r1), uint16(r2)}
			}

			for _, u := range units {
				buf.WriteString(`\u`)
				buf.WriteByte(hex[u>>12&0xf])
				buf.WriteByte(hex[u>>8&0xf])
				buf.WriteByte(hex[u>>4&0xf])
				buf.WriteByte(hex[u&0xf])
			}
		}
	}
	buf.WriteByte('"')
}
