// Package tokenizer implements a streaming CSV field/row tokenizer.
//
// The tokenizer consumes bytes that have already been validated as UTF-8 and
// normalized to '\n' terminators (see internal/bytestream). It is a
// finite-state machine fed chunk by chunk; records may span chunk boundaries
// arbitrarily.
//
// Quoting rules (when enabled):
//   - a field beginning with '"' enters quoted context
//   - delimiters and newlines inside a quoted field are literal content
//   - two consecutive quotes inside a quoted field encode one literal quote
//   - a single quote followed by delimiter/terminator closes the field
//
// Malformed quoting (a stray quote mid-field, or an unterminated quoted
// field at end of stream) is not fatal: the field value is taken as-is and
// the violation is reported through OnQuoteRule.
package tokenizer

type state int

const (
	stateFieldStart state = iota
	stateInField
	stateInQuoted
	stateQuoteInQuoted
)

// Tokenizer streams fields and rows out of a normalized byte stream.
//
// The first emitted record is the header and is delivered via OnHeader; all
// later records go to OnRow with their 1-based record number (the header is
// record 1). Returning an error from either callback aborts tokenization and
// propagates out of Write/Finish unchanged.
type Tokenizer struct {
	// OnHeader receives the header record. Required.
	OnHeader func(header []string) error

	// OnRow receives each data record. Required.
	OnRow func(record int64, fields []string) error

	// OnQuoteRule is invoked once per quoting violation with the record
	// number it occurred in. Optional.
	OnQuoteRule func(record int64)

	delim  byte
	quoted bool

	st     state
	field  []byte
	fields []string

	record     int64 // 1-based number of the record being assembled
	sawAny     bool  // current record consumed at least one byte
	headerDone bool
}

// New returns a tokenizer for the given delimiter byte. When quoted is
// false, quote characters are ordinary content bytes.
func New(delim byte, quoted bool) *Tokenizer {
	return &Tokenizer{
		delim:  delim,
		quoted: quoted,
		record: 1,
	}
}

// HeaderSeen reports whether a header record has been emitted.
func (t *Tokenizer) HeaderSeen() bool { return t.headerDone }

// Record returns the 1-based number of the record currently being assembled.
func (t *Tokenizer) Record() int64 { return t.record }

func (t *Tokenizer) endField() {
	t.fields = append(t.fields, string(t.field))
	t.field = t.field[:0]
}

func (t *Tokenizer) endRecord() error {
	t.endField()
	fields := t.fields
	t.fields = nil
	t.sawAny = false
	t.st = stateFieldStart

	rec := t.record
	t.record++

	if !t.headerDone {
		t.headerDone = true
		return t.OnHeader(fields)
	}
	return t.OnRow(rec, fields)
}

// Write feeds a chunk of normalized bytes through the state machine.
func (t *Tokenizer) Write(chunk []byte) error {
	for i := 0; i < len(chunk); i++ {
		b := chunk[i]
		t.sawAny = true

		switch t.st {
		case stateFieldStart:
			switch {
			case t.quoted && b == '"':
				t.st = stateInQuoted
			case b == t.delim:
				t.endField()
			case b == '\n':
				// A record boundary with nothing buffered is a blank line,
				// not an empty single-field record.
				if len(t.fields) == 0 && len(t.field) == 0 {
					t.sawAny = false
					continue
				}
				if err := t.endRecord(); err != nil {
					return err
				}
			default:
				t.field = append(t.field, b)
				t.st = stateInField
			}

		case stateInField:
			switch b {
			case t.delim:
				t.endField()
				t.st = stateFieldStart
			case '\n':
				if err := t.endRecord(); err != nil {
					return err
				}
			default:
				t.field = append(t.field, b)
			}

		case stateInQuoted:
			if b == '"' {
				t.st = stateQuoteInQuoted
			} else {
				// Delimiters and newlines are literal inside quotes.
				t.field = append(t.field, b)
			}

		case stateQuoteInQuoted:
			switch b {
			case '"':
				t.field = append(t.field, '"')
				t.st = stateInQuoted
			case t.delim:
				t.endField()
				t.st = stateFieldStart
			case '\n':
				if err := t.endRecord(); err != nil {
					return err
				}
			default:
				// Stray quote not followed by delimiter/terminator: keep the
				// content as-is and continue the field unquoted.
				t.violation()
				t.field = append(t.field, b)
				t.st = stateInField
			}
		}
	}
	return nil
}

// Finish flushes the final record when the stream does not end with a
// terminator. An unterminated quoted field is reported as a quoting
// violation and its value taken as-is.
func (t *Tokenizer) Finish() error {
	if t.st == stateInQuoted || t.st == stateQuoteInQuoted {
		t.violation()
	}
	if t.sawAny || len(t.fields) > 0 || len(t.field) > 0 {
		return t.endRecord()
	}
	return nil
}

func (t *Tokenizer) violation() {
	if t.OnQuoteRule != nil {
		t.OnQuoteRule(t.record)
	}
}
