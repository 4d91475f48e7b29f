package validation

import (
	"testing"
	"time"

	"github.com/mmeshcher/billing-panel/internal/model"
)

func TestParseDate(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  time.Time
		ok    bool
	}{
		{
			name:  "valid date",
			value: "2024-01-10",
			want:  time.Date(2024, time.January, 10, 0, 0, 0, 0, time.UTC),
			ok:    true,
		},
		{
			name:  "empty string",
			value: "",
			ok:    false,
		},
		{
			name:  "brazilian format rejected",
			value: "10/01/2024",
			ok:    false,
		},
		{
			name:  "impossible day",
			value: "2024-02-30",
			ok:    false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseDate(tt.value)
			if ok != tt.ok {
				t.Fatalf("ParseDate(%q) ok = %v, want %v", tt.value, ok, tt.ok)
			}
			if ok && !got.Equal(tt.want) {
				t.Fatalf("ParseDate(%q) = %s, want %s", tt.value, got, tt.want)
			}
		})
	}
}

func TestParsePlan(t *testing.T) {
	if _, ok := ParsePlan("MONTHLY"); !ok {
		t.Fatalf("MONTHLY must be accepted")
	}
	if _, ok := ParsePlan("QUARTERLY"); !ok {
		t.Fatalf("QUARTERLY must be accepted")
	}
	if _, ok := ParsePlan("mensal"); ok {
		t.Fatalf("raw plan strings must be rejected")
	}
	if _, ok := ParsePlan(""); ok {
		t.Fatalf("empty plan must be rejected")
	}
}

func TestParseStatus(t *testing.T) {
	for _, s := range []string{"PAID", "PENDING", "OVERDUE"} {
		if _, ok := ParseStatus(s); !ok {
			t.Fatalf("%s must be accepted", s)
		}
	}
	if _, ok := ParseStatus("Pago"); ok {
		t.Fatalf("unknown status must be rejected")
	}
}

func TestParseStatusValue(t *testing.T) {
	got, ok := ParseStatus("PENDING")
	if !ok || got != model.StatusPending {
		t.Fatalf("ParseStatus(PENDING) = %s, %v", got, ok)
	}
}

func TestIsValidQuantity(t *testing.T) {
	if !IsValidQuantity(1) || !IsValidQuantity(100) {
		t.Fatalf("positive quantities must be valid")
	}
	if IsValidQuantity(0) || IsValidQuantity(-5) {
		t.Fatalf("non-positive quantities must be invalid")
	}
}

func TestIsValidAmountCents(t *testing.T) {
	if !IsValidAmountCents(3000) {
		t.Fatalf("positive amount must be valid")
	}
	if IsValidAmountCents(0) || IsValidAmountCents(-1) {
		t.Fatalf("non-positive amount must be invalid")
	}
}
