package bytestream

import "testing"

// feedAll validates data in the given chunk sizes and returns the first
// failure offset, or -1 when the whole stream (including Finish) is valid.
func feedAll(data []byte, chunk int) int64 {
	var v UTF8Validator
	for i := 0; i < len(data); i += chunk {
		end := i + chunk
		if end > len(data) {
			end = len(data)
		}
		if at, ok := v.Feed(data[i:end]); !ok {
			return at
		}
	}
	if at, ok := v.Finish(); !ok {
		return at
	}
	return -1
}

// TestUTF8Validator_Valid verifies that well-formed streams pass at every
// chunking, including splits inside multi-byte sequences.
func TestUTF8Validator_Valid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		data string
	}{
		{name: "ascii", data: "id,name,amount\n1,Alice,100.00\n"},
		{name: "two_byte", data: "café, naïve"},
		{name: "three_byte", data: "価格,数量"},
		{name: "four_byte", data: "a\U0001F600b"},
		{name: "boundary_code_points", data: "߿ࠀ￿\U00010000\U0010FFFF"},
		{name: "empty", data: ""},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			for chunk := 1; chunk <= len(tc.data)+1; chunk++ {
				if at := feedAll([]byte(tc.data), chunk); at != -1 {
					t.Fatalf("chunk=%d: invalid at %d, want valid", chunk, at)
				}
			}
		})
	}
}

// TestUTF8Validator_Invalid verifies the exact offset of the first invalid
// byte, independent of chunk boundaries.
func TestUTF8Validator_Invalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		data []byte
		at   int64
	}{
		{name: "stray_continuation", data: []byte{'a', 'b', 0x80, 'c'}, at: 2},
		{name: "overlong_two_byte_lead", data: []byte{0xC0, 0xAF}, at: 0},
		{name: "bad_continuation", data: []byte{0xC3, 'x'}, at: 1},
		{name: "overlong_three_byte", data: []byte{0xE0, 0x9F, 0x80}, at: 1},
		{name: "surrogate", data: []byte{0xED, 0xA0, 0x80}, at: 1},
		{name: "above_max_code_point", data: []byte{0xF4, 0x90, 0x80, 0x80}, at: 1},
		{name: "ff_never_valid", data: []byte{'o', 'k', 0xFF}, at: 2},
		{name: "truncated_at_eof", data: []byte{'a', 0xE3, 0x81}, at: 3},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			for chunk := 1; chunk <= len(tc.data); chunk++ {
				if at := feedAll(tc.data, chunk); at != tc.at {
					t.Fatalf("chunk=%d: invalid at %d, want %d", chunk, at, tc.at)
				}
			}
		})
	}
}

// TestUTF8Validator_OffsetAccumulates verifies offsets are absolute across
// many Feed calls, not per-chunk.
func TestUTF8Validator_OffsetAccumulates(t *testing.T) {
	t.Parallel()

	var v UTF8Validator
	if _, ok := v.Feed([]byte("0123456789")); !ok {
		t.Fatalf("valid prefix rejected")
	}
	at, ok := v.Feed([]byte{'a', 0xFF})
	if ok {
		t.Fatalf("0xFF accepted")
	}
	if at != 11 {
		t.Fatalf("invalid at %d, want 11", at)
	}
}
