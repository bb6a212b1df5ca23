package pagination

import "testing"

func TestNormalizeLimit(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   int
		want int
	}{
		{"zero defaults", 0, DefaultLimit},
		{"negative defaults", -5, DefaultLimit},
		{"in range passes", 40, 40},
		{"over max clamps", 5000, MaxLimit},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := NormalizeLimit(tc.in); got != tc.want {
				t.Fatalf("NormalizeLimit(%d) = %d, want %d", tc.in, got, tc.want)
			}
		})
	}
}

func TestNormalizeOffset(t *testing.T) {
	t.Parallel()

	if got := NormalizeOffset(-1); got != 0 {
		t.Fatalf("negative offset = %d, want 0", got)
	}
	if got := NormalizeOffset(250); got != 250 {
		t.Fatalf("in-range offset = %d, want 250", got)
	}
	if got := NormalizeOffset(MaxOffset + 1); got != MaxOffset {
		t.Fatalf("oversized offset = %d, want %d", got, MaxOffset)
	}
}
