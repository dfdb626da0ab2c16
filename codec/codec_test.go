package codec

import (
	"bytes"
	"testing"
)

func TestRoundTrip(t *testing.T) {
	var table = [][]byte{
		nil,
		{},
		[]byte("hello"),
		bytes.Repeat([]byte{0xff, 0x00, 0x7f}, 200),
	}
	for _, in := range table {
		text := Encode(in)
		out, err := Decode(text)
		if err != nil {
			t.Fatalf("Decode(%q): %v", text, err)
		}
		if !bytes.Equal(in, out) && !(len(in) == 0 && len(out) == 0) {
			t.Fatalf("round trip mismatch: in=%v out=%v", in, out)
		}
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	if _, err := Decode("not valid base64!!"); err == nil {
		t.Fatal("expected an error decoding invalid base64")
	}
}
