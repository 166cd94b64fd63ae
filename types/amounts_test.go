package types

import "testing"

func TestMicroUSDSub(t *testing.T) {
	a := MustMicroUSD(500_000)
	b := MustMicroUSD(300_000)

	got, err := a.Sub(b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != MustMicroUSD(200_000) {
		t.Fatalf("got %v, want 200000", got)
	}
}

func TestMicroUSDSubUnderflow(t *testing.T) {
	a := MustMicroUSD(100)
	b := MustMicroUSD(200)

	if _, err := a.Sub(b); err == nil {
		t.Fatal("expected underflow error")
	}
}

func TestNewMicroUSDRejectsNegative(t *testing.T) {
	if _, err := NewMicroUSD(-1); err == nil {
		t.Fatal("expected error for negative amount")
	}
}

func TestBpsShare(t *testing.T) {
	cases := []struct {
		amount MicroUSD
		bps    BasisPoints
		want   MicroUSD
	}{
		{MustMicroUSD(1_000_000), MustBasisPoints(5000), MustMicroUSD(500_000)},
		{MustMicroUSD(1_000_000), MustBasisPoints(0), 0},
		{MustMicroUSD(3), MustBasisPoints(1), 0}, // floor, not round
		{MustMicroUSD(1_000_000), MustBasisPoints(10000), MustMicroUSD(1_000_000)},
	}

	for _, tc := range cases {
		if got := BpsShare(tc.amount, tc.bps); got != tc.want {
			t.Errorf("BpsShare(%v, %v) = %v, want %v", tc.amount, tc.bps, got, tc.want)
		}
	}
}

func TestAssertBpsSum(t *testing.T) {
	if !AssertBpsSum(MustBasisPoints(5000), MustBasisPoints(5000)) {
		t.Fatal("expected 5000+5000 to sum to 10000")
	}
	if AssertBpsSum(MustBasisPoints(5000), MustBasisPoints(4000)) {
		t.Fatal("did not expect 5000+4000 to sum to 10000")
	}
}

func TestNewBasisPointsRange(t *testing.T) {
	if _, err := NewBasisPoints(-1); err == nil {
		t.Fatal("expected error for negative bps")
	}
	if _, err := NewBasisPoints(10001); err == nil {
		t.Fatal("expected error for bps > 10000")
	}
}
