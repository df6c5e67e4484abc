package fixedpoint

import "testing"

func TestFromFloatBounds(t *testing.T) {
	cases := []struct {
		in      float64
		want    Value
		wantErr bool
	}{
		{0.0, 0, false},
		{1.0, Max, false},
		{0.5, 500, false},
		{0.8, 800, false},
		{0.0004, 0, false},  // rounds down
		{0.0006, 1, false},  // rounds up
		{-0.01, 0, true},
		{1.01, 0, true},
	}
	for _, c := range cases {
		got, err := FromFloat(c.in)
		if c.wantErr {
			if err == nil {
				t.Errorf("FromFloat(%v): expected error", c.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("FromFloat(%v): %v", c.in, err)
			continue
		}
		if got != c.want {
			t.Errorf("FromFloat(%v) = %d, want %d", c.in, got, c.want)
		}
	}
}

func TestRoundTrip(t *testing.T) {
	for v := Value(0); v <= Max; v += 37 {
		back, err := FromFloat(v.Float())
		if err != nil {
			t.Fatalf("round trip %d: %v", v, err)
		}
		if back != v {
			t.Fatalf("round trip %d: got %d", v, back)
		}
	}
}

func TestValid(t *testing.T) {
	if !Max.Valid() {
		t.Error("Max should be valid")
	}
	if (Max + 1).Valid() {
		t.Error("Max+1 should be invalid")
	}
	if !Value(0).Valid() {
		t.Error("zero should be valid")
	}
}
