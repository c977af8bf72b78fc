package backoff

import (
	"testing"
	"time"
)

func TestComputeWithRand(t *testing.T) {
	base := Policy{Initial: 100 * time.Millisecond, Max: 10 * time.Second, Factor: 2, Jitter: 0}

	tests := []struct {
		name    string
		policy  Policy
		attempt int
		random  float64
		want    time.Duration
	}{
		{
			name:    "first attempt returns initial",
			policy:  base,
			attempt: 1,
			random:  0.5,
			want:    100 * time.Millisecond,
		},
		{
			name:    "second attempt doubles",
			policy:  base,
			attempt: 2,
			random:  0.5,
			want:    200 * time.Millisecond,
		},
		{
			name:    "fifth attempt with factor 2",
			policy:  base,
			attempt: 5,
			random:  0.5,
			want:    1600 * time.Millisecond,
		},
		{
			name:    "clamped to max",
			policy:  Policy{Initial: 100 * time.Millisecond, Max: 500 * time.Millisecond, Factor: 2, Jitter: 0},
			attempt: 10,
			random:  0.5,
			want:    500 * time.Millisecond,
		},
		{
			name:    "jitter at max random adds full fraction",
			policy:  Policy{Initial: 100 * time.Millisecond, Max: 10 * time.Second, Factor: 2, Jitter: 0.2},
			attempt: 1,
			random:  1.0,
			want:    120 * time.Millisecond,
		},
		{
			name:    "jitter at zero random adds nothing",
			policy:  Policy{Initial: 100 * time.Millisecond, Max: 10 * time.Second, Factor: 2, Jitter: 0.2},
			attempt: 1,
			random:  0.0,
			want:    100 * time.Millisecond,
		},
		{
			name:    "attempt zero treated as first",
			policy:  base,
			attempt: 0,
			random:  0.5,
			want:    100 * time.Millisecond,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ComputeWithRand(tt.policy, tt.attempt, tt.random)
			if got != tt.want {
				t.Errorf("ComputeWithRand() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRouterPolicyShape(t *testing.T) {
	p := RouterPolicy()
	if got := ComputeWithRand(p, 1, 0); got != time.Second {
		t.Errorf("attempt 1 = %v, want 1s", got)
	}
	if got := ComputeWithRand(p, 3, 0); got != 4*time.Second {
		t.Errorf("attempt 3 = %v, want 4s", got)
	}
	if got := ComputeWithRand(p, 10, 1.0); got != 30*time.Second {
		t.Errorf("attempt 10 = %v, want cap 30s", got)
	}
}

func TestDeliveryPolicyShape(t *testing.T) {
	p := DeliveryPolicy()
	if got := ComputeWithRand(p, 1, 0); got != 200*time.Millisecond {
		t.Errorf("attempt 1 = %v, want 200ms", got)
	}
	if got := ComputeWithRand(p, 5, 1.0); got != 2*time.Second {
		t.Errorf("attempt 5 = %v, want cap 2s", got)
	}
}
