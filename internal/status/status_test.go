package status

import (
	"errors"
	"testing"
)

func TestAdvance(t *testing.T) {
	tests := []struct {
		from, to Status
		ok       bool
	}{
		{Pending, Sent, true},
		{Pending, Delivered, true},
		{Pending, Read, true},
		{Pending, Failed, true},
		{Sent, Delivered, true},
		{Sent, Failed, true},
		{Delivered, Read, true},
		{Failed, Pending, true}, // resend
		{Read, Delivered, false},
		{Delivered, Sent, false},
		{Delivered, Failed, false},
		{Sent, Pending, false},
		{Read, Pending, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			got, err := Advance(tt.from, tt.to)
			if tt.ok {
				if err != nil {
					t.Fatalf("Advance(%s, %s) error = %v", tt.from, tt.to, err)
				}
				if got != tt.to {
					t.Errorf("got %s, want %s", got, tt.to)
				}
				return
			}
			if err == nil {
				t.Fatalf("Advance(%s, %s) expected error", tt.from, tt.to)
			}
			var te *TransitionError
			if !errors.As(err, &te) {
				t.Errorf("expected TransitionError, got %T", err)
			}
			if got != tt.from {
				t.Errorf("rejected transition changed status to %s", got)
			}
		})
	}
}

func TestAdvanceSameStatusIsNoop(t *testing.T) {
	got, err := Advance(Delivered, Delivered)
	if err != nil {
		t.Fatalf("duplicate confirmation errored: %v", err)
	}
	if got != Delivered {
		t.Errorf("got %s, want DELIVERED", got)
	}
}

func TestParse(t *testing.T) {
	got, err := Parse("delivered")
	if err != nil {
		t.Fatal(err)
	}
	if got != Delivered {
		t.Errorf("Parse(delivered) = %s", got)
	}

	if _, err := Parse("bogus"); err == nil {
		t.Error("Parse(bogus) expected error")
	}
}

func TestMerge(t *testing.T) {
	tests := []struct {
		local, remote, want Status
	}{
		{Read, Delivered, Read},       // replayed old batch never regresses
		{Sent, Delivered, Delivered},  // server advances
		{Pending, Read, Read},         // skip-ahead is fine
		{Failed, Delivered, Delivered}, // server confirmed a "failed" send
		{Sent, Failed, Failed},
		{Pending, Failed, Failed},
		{Delivered, Failed, Delivered}, // confirmed rows cannot fail late
		{Read, Failed, Read},
		{Failed, Failed, Failed},
	}
	for _, tt := range tests {
		if got := Merge(tt.local, tt.remote); got != tt.want {
			t.Errorf("Merge(%s, %s) = %s, want %s", tt.local, tt.remote, got, tt.want)
		}
	}
}
