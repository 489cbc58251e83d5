package tollbooth

import "testing"

func TestComputeFee(t *testing.T) {
	// default policy: 2% rate with a 10 sat minimum
	defaultPolicy := FeePolicy{RateBasisPoints: 200, MinimumSats: 10}

	tests := []struct {
		name       string
		policy     FeePolicy
		amountSats int64
		want       int64
	}{
		{
			name:       "percentage rate applies above the minimum",
			policy:     defaultPolicy,
			amountSats: 1000,
			want:       20,
		},
		{
			name:       "minimum fee binds for small amounts",
			policy:     defaultPolicy,
			amountSats: 100,
			want:       10,
		},
		{
			name:       "fee can exceed the purchase amount",
			policy:     defaultPolicy,
			amountSats: 1,
			want:       10,
		},
		{
			name:       "fractional fee rounds up",
			policy:     defaultPolicy,
			amountSats: 999,
			want:       20,
		},
		{
			name:       "boundary where raw fee equals the minimum",
			policy:     defaultPolicy,
			amountSats: 500,
			want:       10,
		},
		{
			name:       "large amount",
			policy:     defaultPolicy,
			amountSats: 1_000_000,
			want:       20_000,
		},
		{
			name:       "zero rate always charges the minimum",
			policy:     FeePolicy{RateBasisPoints: 0, MinimumSats: 10},
			amountSats: 1_000_000,
			want:       10,
		},
		{
			name:       "ceiling without a minimum",
			policy:     FeePolicy{RateBasisPoints: 200, MinimumSats: 0},
			amountSats: 101,
			want:       3,
		},
		{
			name:       "exact division does not round up",
			policy:     FeePolicy{RateBasisPoints: 200, MinimumSats: 0},
			amountSats: 150,
			want:       3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.policy.ComputeFee(tt.amountSats)
			if got != tt.want {
				t.Errorf("ComputeFee(%d) = %d, want %d", tt.amountSats, got, tt.want)
			}
		})
	}
}

func TestComputeFeeIsDeterministic(t *testing.T) {
	policy := FeePolicy{RateBasisPoints: 200, MinimumSats: 10}

	for i := 0; i < 5; i++ {
		if got := policy.ComputeFee(12345); got != 247 {
			t.Fatalf("ComputeFee(12345) = %d, want 247", got)
		}
	}
}

func TestComputeFeeNetCanGoNegative(t *testing.T) {
	policy := FeePolicy{RateBasisPoints: 200, MinimumSats: 10}

	amount := int64(5)
	fee := policy.ComputeFee(amount)
	if net := amount - fee; net >= 0 {
		t.Errorf("expected negative net for amount %d with fee %d, got net %d", amount, fee, net)
	}
}
