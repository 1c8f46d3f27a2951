// Package bytestream implements the byte-level front of the ingest pipeline:
// streaming UTF-8 validation with byte-exact failure offsets, and line-ending
// detection/normalization.
package bytestream

// UTF8Validator validates a chunked byte stream as UTF-8.
//
// It accepts the standard grammar: 1-4 byte sequences with the correct
// continuation count and ranges, rejecting overlong encodings and surrogate
// code points. Multi-byte sequences split across chunk boundaries are handled
// by carrying the expected-continuation state between Feed calls; no bytes
// are buffered.
//
// The validator reports the absolute offset of the first invalid byte. For a
// malformed continuation byte that offset points at the continuation byte
// itself, not at the lead byte.
type UTF8Validator struct {
	offset int64 // absolute offset of the next byte to examine

	// need is the number of continuation bytes still expected for the
	// in-flight sequence; zero between sequences.
	need int

	// lo/hi bound the next continuation byte. After the first continuation
	// byte of a sequence they relax to the generic 0x80..0xBF range.
	lo, hi byte
}

// Feed validates the next chunk. It returns ok=false with the absolute
// offset of the first invalid byte; once invalid, the validator must not be
// fed further.
func (v *UTF8Validator) Feed(chunk []byte) (invalidAt int64, ok bool) {
	for i := 0; i < len(chunk); i++ {
		b := chunk[i]

		if v.need > 0 {
			if b < v.lo || b > v.hi {
				return v.offset, false
			}
			v.need--
			v.lo, v.hi = 0x80, 0xBF
			v.offset++
			continue
		}

		switch {
		case b <= 0x7F:
			// ASCII.
		case b >= 0xC2 && b <= 0xDF:
			v.need, v.lo, v.hi = 1, 0x80, 0xBF
		case b == 0xE0:
			v.need, v.lo, v.hi = 2, 0xA0, 0xBF // excludes overlong 3-byte forms
		case b >= 0xE1 && b <= 0xEC:
			v.need, v.lo, v.hi = 2, 0x80, 0xBF
		case b == 0xED:
			v.need, v.lo, v.hi = 2, 0x80, 0x9F // excludes UTF-16 surrogates
		case b >= 0xEE && b <= 0xEF:
			v.need, v.lo, v.hi = 2, 0x80, 0xBF
		case b == 0xF0:
			v.need, v.lo, v.hi = 3, 0x90, 0xBF // excludes overlong 4-byte forms
		case b >= 0xF1 && b <= 0xF3:
			v.need, v.lo, v.hi = 3, 0x80, 0xBF
		case b == 0xF4:
			v.need, v.lo, v.hi = 3, 0x80, 0x8F // excludes code points above U+10FFFF
		default:
			// 0x80..0xC1 (stray continuation, overlong 2-byte lead) and
			// 0xF5..0xFF are never valid lead bytes.
			return v.offset, false
		}
		v.offset++
	}
	return 0, true
}

// Finish reports a sequence truncated at end of stream. The offset points
// just past the last byte fed.
func (v *UTF8Validator) Finish() (invalidAt int64, ok bool) {
	if v.need > 0 {
		return v.offset, false
	}
	return 0, true
}

// Offset returns the absolute offset of the next byte to be examined.
func (v *UTF8Validator) Offset() int64 { return v.offset }
