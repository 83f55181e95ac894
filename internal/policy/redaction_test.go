package policy

import (
	"strings"
	"testing"
)

func TestRedactPII(t *testing.T) {
	input := "Reach me at sam@example.com or +1 (555) 123-9876 tomorrow."
	out, changed := RedactPII(input)
	if !changed {
		t.Fatalf("changed = false, want true")
	}
	for _, marker := range []string{"[REDACTED_EMAIL]", "[REDACTED_PHONE]"} {
		if !strings.Contains(out, marker) {
			t.Fatalf("output missing marker %q: %q", marker, out)
		}
	}
	if strings.Contains(out, "555") {
		t.Fatalf("phone digits leaked: %q", out)
	}
}

func TestRedactPIILeavesShortNumbersAlone(t *testing.T) {
	in := "Booked slot 14:00 for appointment 42"
	out, changed := RedactPII(in)
	if changed || out != in {
		t.Fatalf("RedactPII(%q) = %q, %v; want unchanged", in, out, changed)
	}
}

func TestMaskContact(t *testing.T) {
	if got := MaskContact("+91 98765-43210"); got != "****3210" {
		t.Fatalf("MaskContact() = %q, want ****3210", got)
	}
	if got := MaskContact("12"); got != "****" {
		t.Fatalf("MaskContact(short) = %q, want ****", got)
	}
}
