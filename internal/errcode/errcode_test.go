package errcode

import (
	"encoding/json"
	"strings"
	"testing"
)

// TestSeverityFor verifies the code taxonomy split.
func TestSeverityFor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		code string
		want Severity
	}{
		{CodeUTF8Invalid, Catastrophic},
		{CodeHeaderMissing, Catastrophic},
		{CodeJaggedRow, Catastrophic},
		{CodeQuoteRule, NonCatastrophic},
		{CodeNumericFormat, NonCatastrophic},
		{CodeMoneyFormat, NonCatastrophic},
		{CodeDateFormat, NonCatastrophic},
		{CodeDateRange, Warning},
		{CodeLineEndingMixed, Warning},
		{CodeCRLFMismatch, Warning},
	}
	for _, tc := range tests {
		if got := New(tc.code).Severity; got != tc.want {
			t.Errorf("severity(%s)=%v, want %v", tc.code, got, tc.want)
		}
	}
}

// TestRecord_JSONCarriesNoValues verifies serialized records expose only
// positions and templates, never field content.
func TestRecord_JSONCarriesNoValues(t *testing.T) {
	t.Parallel()

	rec := NewAt(CodeNumericFormat, 42)
	rec.Column = "amount"
	b, err := json.Marshal(rec)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	s := string(b)
	if !strings.Contains(s, `"severity":"non_catastrophic"`) {
		t.Fatalf("severity not serialized by name: %s", s)
	}
	if !strings.Contains(s, `"first_row":42`) || !strings.Contains(s, `"column":"amount"`) {
		t.Fatalf("positions missing: %s", s)
	}
}

// TestRollup verifies aggregation by (code, column), first-position
// retention, and the errors/warnings split with deterministic order.
func TestRollup(t *testing.T) {
	t.Parallel()

	ru := NewRollup()
	ru.Add(CodeNumericFormat, "qty", 7)
	ru.Add(CodeNumericFormat, "qty", 12)
	ru.Add(CodeNumericFormat, "price", 3)
	ru.Add(CodeDateRange, "dob", 5)
	ru.Add(CodeQuoteRule, "", 2)

	if got := ru.Count(CodeNumericFormat, "qty"); got != 2 {
		t.Fatalf("Count=%d, want 2", got)
	}
	if got := ru.Count(CodeNumericFormat, "missing"); got != 0 {
		t.Fatalf("Count for unseen key=%d, want 0", got)
	}

	errs := ru.Errors()
	if len(errs) != 3 {
		t.Fatalf("Errors()=%v, want 3 records", errs)
	}
	// Sorted by code then column: quote rule, then numeric (price before qty).
	if errs[0].Code != CodeQuoteRule || errs[1].Column != "price" || errs[2].Column != "qty" {
		t.Fatalf("error order=%v", errs)
	}
	if errs[2].Count != 2 || errs[2].FirstRow != 7 {
		t.Fatalf("qty record=%+v, want count 2 first row 7", errs[2])
	}

	warns := ru.Warnings()
	if len(warns) != 1 || warns[0].Code != CodeDateRange {
		t.Fatalf("Warnings()=%v", warns)
	}
}
