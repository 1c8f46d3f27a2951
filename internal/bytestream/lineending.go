package bytestream

// Style is a detected line-ending style.
type Style string

const (
	StyleCRLF Style = "crlf"
	StyleLF   Style = "lf"
	StyleCR   Style = "cr"
	StyleNone Style = "none"
)

// LineNormalizer scans a byte stream for CRLF, bare LF, and bare CR
// terminators, counts each style, and rewrites every terminator to a single
// '\n' for the tokenizer.
//
// A CR at the end of a chunk is held back until the next chunk (or Finish)
// decides whether it is the start of a CRLF pair; everything else passes
// through in a single scan.
type LineNormalizer struct {
	crlf, lf, cr int64
	pendingCR    bool
}

// Normalize appends the normalized form of chunk to dst and returns the
// extended slice. dst may be nil.
func (n *LineNormalizer) Normalize(dst, chunk []byte) []byte {
	for i := 0; i < len(chunk); i++ {
		b := chunk[i]

		if n.pendingCR {
			n.pendingCR = false
			if b == '\n' {
				n.crlf++
				dst = append(dst, '\n')
				continue
			}
			n.cr++
			dst = append(dst, '\n')
			// fall through to reprocess b below
		}

		switch b {
		case '\r':
			n.pendingCR = true
		case '\n':
			n.lf++
			dst = append(dst, '\n')
		default:
			dst = append(dst, b)
		}
	}
	return dst
}

// Finish flushes a trailing held-back CR as a bare-CR terminator.
func (n *LineNormalizer) Finish(dst []byte) []byte {
	if n.pendingCR {
		n.pendingCR = false
		n.cr++
		dst = append(dst, '\n')
	}
	return dst
}

// Dominant returns the most frequent style seen, or StyleNone for a stream
// without terminators. CRLF wins ties against bare styles since a CRLF file
// with a stray terminator is still a CRLF file.
func (n *LineNormalizer) Dominant() Style {
	switch {
	case n.crlf == 0 && n.lf == 0 && n.cr == 0:
		return StyleNone
	case n.crlf >= n.lf && n.crlf >= n.cr:
		return StyleCRLF
	case n.lf >= n.cr:
		return StyleLF
	default:
		return StyleCR
	}
}

// Mixed reports whether more than one terminator style is present.
func (n *LineNormalizer) Mixed() bool {
	styles := 0
	if n.crlf > 0 {
		styles++
	}
	if n.lf > 0 {
		styles++
	}
	if n.cr > 0 {
		styles++
	}
	return styles > 1
}

// Counts returns the per-style terminator counts (crlf, lf, cr).
func (n *LineNormalizer) Counts() (crlf, lf, cr int64) {
	return n.crlf, n.lf, n.cr
}
