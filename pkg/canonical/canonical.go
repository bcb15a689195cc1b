// Package canonical builds the deterministic byte encoding of a JSON
// document that ESMP signatures cover. The same logical document always
// canonicalizes to the same bytes: object keys are emitted in sorted
// order, no whitespace is produced, strings have one fixed escaping and
// number literals pass through verbatim, so the key order of the wire
// JSON is irrelevant while the sender's numeric spelling is preserved.
package canonical

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"unicode/utf8"

	"esmpd/pkg/protocol"
)

// Envelope fields excluded from the signed bytes.
const (
	fieldSignature    = "signature"
	fieldSenderPubkey = "sender_pubkey"
)

// Envelope canonicalizes a raw wire envelope, dropping the signature and
// sender_pubkey fields. The input must be a single JSON object.
func Envelope(raw []byte) ([]byte, error) {
	return Document(raw, fieldSignature, fieldSenderPubkey)
}

// Document canonicalizes a raw JSON object, dropping the named top-level
// fields. Returns a malformed_input protocol error if the input is not a
// single well-formed JSON object or contains a value with no canonical
// encoding.
func Document(raw []byte, exclude ...string) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, protocol.Errf(protocol.KindMalformedInput, "invalid json: %v", err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, protocol.Errf(protocol.KindMalformedInput, "trailing data after json document")
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, protocol.Errf(protocol.KindMalformedInput, "document is not a json object")
	}
	for _, f := range exclude {
		delete(obj, f)
	}
	var buf bytes.Buffer
	if err := encode(&buf, obj); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encode(buf *bytes.Buffer, v any) error {
	switch t := v.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		if t {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case json.Number:
		s := t.String()
		if _, err := strconv.ParseFloat(s, 64); err != nil {
			return protocol.Errf(protocol.KindMalformedInput, "bad number literal %q", s)
		}
		buf.WriteString(s)
	case string:
		return encodeString(buf, t)
	case []any:
		buf.WriteByte('[')
		for i, e := range t {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encode(buf, e); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encodeString(buf, k); err != nil {
				return err
			}
			buf.WriteByte(':')
			if err := encode(buf, t[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	default:
		return protocol.Errf(protocol.KindMalformedInput, "uncanonicalizable value of type %T", v)
	}
	return nil
}

// encodeString writes s with the minimal fixed escaping: backslash, quote
// and control characters only. No HTML escaping, no \uXXXX forms beyond
// controls, so every producer arrives at identical bytes.
func encodeString(buf *bytes.Buffer, s string) error {
	if !utf8.ValidString(s) {
		return protocol.Errf(protocol.KindMalformedInput, "string is not valid utf-8")
	}
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
		default:
			if r < 0x20 {
				fmt.Fprintf(buf, `\u%04x`, r)
			} else {
				buf.WriteRune(r)
			}
		}
	}
	buf.WriteByte('"')
	return nil
}
