package transport

import (
	"bytes"
	"math/rand"
	"testing"
)

func TestCOBSRoundTrip(t *testing.T) {
	cases := [][]byte{
		{},
		{0x01},
		{0x00},
		{0x00, 0x00, 0x00},
		{0x01, 0x02, 0x03, 0x00, 0x04},
		bytes.Repeat([]byte{0xAB}, 300), // forces a 0xFF code split
	}
	for _, data := range cases {
		enc := cobsEncode(data)
		if bytes.IndexByte(enc, 0x00) != -1 {
			t.Fatalf("encode(%v) contains a zero byte: %v", data, enc)
		}
		dec, err := cobsDecode(enc)
		if err != nil {
			t.Fatalf("decode(encode(%v)) error: %v", data, err)
		}
		if !bytes.Equal(dec, data) {
			t.Errorf("decode(encode(%v)) = %v, want %v", data, dec, data)
		}
	}
}

func TestCOBSRoundTripRandom(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 200; i++ {
		n := rng.Intn(511) // up to 510 bytes, the framing maximum
		data := make([]byte, n)
		rng.Read(data)
		enc := cobsEncode(data)
		if bytes.IndexByte(enc, 0x00) != -1 {
			t.Fatalf("encode contains zero byte for input len %d", n)
		}
		dec, err := cobsDecode(enc)
		if err != nil {
			t.Fatalf("decode error for input len %d: %v", n, err)
		}
		if !bytes.Equal(dec, data) {
			t.Fatalf("round-trip mismatch for input len %d", n)
		}
	}
}

func TestCOBSDecodeRejectsEmbeddedZero(t *testing.T) {
	_, err := cobsDecode([]byte{0x02, 0x01, 0x00, 0x01})
	if err != ErrCOBSCorrupt {
		t.Fatalf("expected ErrCOBSCorrupt, got %v", err)
	}
}

func TestCOBSDecodeRejectsTruncation(t *testing.T) {
	_, err := cobsDecode([]byte{0x05, 0x01, 0x02})
	if err != ErrCOBSCorrupt {
		t.Fatalf("expected ErrCOBSCorrupt, got %v", err)
	}
}

func TestCOBSDecodeEmpty(t *testing.T) {
	dec, err := cobsDecode(nil)
	if err != nil || len(dec) != 0 {
		t.Fatalf("decode(nil) = %v, %v; want empty, nil", dec, err)
	}
}
