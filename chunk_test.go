package nio

import "testing"

func TestChunkHeaderRoundTrip(t *testing.T) {
	cases := []struct {
		length int
		last   bool
	}{
		{0, true},
		{0, false},
		{1, true},
		{127, false},
		{128, true},
		{maxChunkLength, true},
		{maxChunkLength, false},
	}
	for _, c := range cases {
		var hdr [chunkHeaderLen]byte
		packChunkHeader(hdr[:], c.length, c.last)
		gotLen, gotLast := parseChunkHeader(hdr[:])
		if gotLen != c.length || gotLast != c.last {
			t.Fatalf("packChunkHeader(%d,%v) round-trip = (%d,%v)", c.length, c.last, gotLen, gotLast)
		}
	}
}

func TestChunkHeaderLastBitDoesNotLeakIntoLength(t *testing.T) {
	var hdr [chunkHeaderLen]byte
	packChunkHeader(hdr[:], maxChunkLength, true)
	length, last := parseChunkHeader(hdr[:])
	if length != maxChunkLength {
		t.Fatalf("length corrupted by last flag: got %d", length)
	}
	if !last {
		t.Fatalf("last flag lost")
	}
}
