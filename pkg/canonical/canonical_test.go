package canonical

import (
	"bytes"
	"testing"

	"esmpd/pkg/protocol"
)

func TestEnvelope_KeyOrderIndependent(t *testing.T) {
	a := []byte(`{"type":"text","to":["a#x","b#y"],"body":{"text":"hi"}}`)
	b := []byte(`{"body":{"text":"hi"},"to":["a#x","b#y"],"type":"text"}`)
	ca, err := Envelope(a)
	if err != nil {
		t.Fatalf("canonicalize a: %v", err)
	}
	cb, err := Envelope(b)
	if err != nil {
		t.Fatalf("canonicalize b: %v", err)
	}
	if !bytes.Equal(ca, cb) {
		t.Fatalf("canonical forms differ:\n%s\n%s", ca, cb)
	}
}

func TestEnvelope_ExcludesSignatureFields(t *testing.T) {
	unsigned := []byte(`{"type":"text","to":["a#x"]}`)
	signed := []byte(`{"type":"text","to":["a#x"],"signature":"c2ln","sender_pubkey":"cGs="}`)
	cu, err := Envelope(unsigned)
	if err != nil {
		t.Fatalf("canonicalize: %v", err)
	}
	cs, err := Envelope(signed)
	if err != nil {
		t.Fatalf("canonicalize: %v", err)
	}
	if !bytes.Equal(cu, cs) {
		t.Fatalf("signature fields leaked into canonical form:\n%s\n%s", cu, cs)
	}
}

func TestDocument_SortsNestedKeys(t *testing.T) {
	raw := []byte(`{"b":{"z":1,"a":[{"y":2,"x":3}]},"a":"v"}`)
	got, err := Document(raw)
	if err != nil {
		t.Fatalf("canonicalize: %v", err)
	}
	want := `{"a":"v","b":{"a":[{"x":3,"y":2}],"z":1}}`
	if string(got) != want {
		t.Fatalf("got %s want %s", got, want)
	}
}

func TestDocument_NumbersVerbatim(t *testing.T) {
	raw := []byte(`{"n":1.50,"m":100000000000000000001}`)
	got, err := Document(raw)
	if err != nil {
		t.Fatalf("canonicalize: %v", err)
	}
	want := `{"m":100000000000000000001,"n":1.50}`
	if string(got) != want {
		t.Fatalf("number representation changed: got %s want %s", got, want)
	}
}

func TestDocument_RejectsBadInput(t *testing.T) {
	cases := map[string]string{
		"not json":      `{`,
		"trailing data": `{"a":1}{"b":2}`,
		"non-object":    `[1,2,3]`,
		"scalar":        `"hello"`,
	}
	for name, in := range cases {
		if _, err := Document([]byte(in)); err == nil {
			t.Errorf("%s: expected error", name)
		} else if k, ok := protocol.KindOf(err); !ok || k != protocol.KindMalformedInput {
			t.Errorf("%s: expected malformed_input, got %v", name, err)
		}
	}
}

func TestDocument_EscapesControlChars(t *testing.T) {
	raw := []byte(`{"s":"a\tb\ncd"}`)
	got, err := Document(raw)
	if err != nil {
		t.Fatalf("canonicalize: %v", err)
	}
	want := `{"s":"a\tb\ncd"}`
	if string(got) != want {
		t.Fatalf("got %s want %s", got, want)
	}
}
