package schedule

import (
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"testing"

	ferr "dataferry/internal/errors"
)

func files(sizes ...int64) []File {
	out := make([]File, len(sizes))
	for i, s := range sizes {
		out[i] = File{Path: fmt.Sprintf("f%d", i), Size: s}
	}
	return out
}

func TestDistribute(t *testing.T) {
	tests := []struct {
		name     string
		sizes    []int64
		workers  int
		expected [][]int64
	}{
		{
			name:     "Balances largest first",
			sizes:    []int64{10, 9, 8, 3, 2},
			workers:  2,
			expected: [][]int64{{10, 3, 2}, {9, 8}},
		},
		{
			name:     "Fewer files than workers",
			sizes:    []int64{5, 7},
			workers:  8,
			expected: [][]int64{{7}, {5}},
		},
		{
			name:     "Ties go to the lowest index",
			sizes:    []int64{4, 4, 4, 4},
			workers:  3,
			expected: [][]int64{{4, 4}, {4}, {4}},
		},
		{
			name:     "Single worker",
			sizes:    []int64{1, 3, 2},
			workers:  1,
			expected: [][]int64{{3, 2, 1}},
		},
		{
			name:     "Zero-sized files spread over buckets",
			sizes:    []int64{0, 0},
			workers:  2,
			expected: [][]int64{{0}, {0}},
		},
		{
			name:     "Zero-sized files fill empty buckets first",
			sizes:    []int64{10, 0, 0},
			workers:  3,
			expected: [][]int64{{10}, {0}, {0}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := Distribute(files(tt.sizes...), tt.workers)
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if len(a.Buckets) != len(tt.expected) {
				t.Fatalf("Expected %d buckets, got %d", len(tt.expected), len(a.Buckets))
			}
			for i, b := range a.Buckets {
				var got []int64
				for _, f := range b.Files {
					got = append(got, f.Size)
				}
				if fmt.Sprint(got) != fmt.Sprint(tt.expected[i]) {
					t.Errorf("Bucket %d: expected %v, got %v", i, tt.expected[i], got)
				}
			}
		})
	}
}

func TestDistribute_Errors(t *testing.T) {
	if _, err := Distribute(files(1), 0); !errors.Is(err, ferr.ErrInvalidArgument) {
		t.Errorf("Expected invalid argument for zero workers, got %v", err)
	}
	if _, err := Distribute(files(-1), 2); !errors.Is(err, ferr.ErrInvalidArgument) {
		t.Errorf("Expected invalid argument for negative size, got %v", err)
	}

	a, err := Distribute(nil, 4)
	if err != nil || len(a.Buckets) != 0 {
		t.Errorf("Expected empty assignment, got %+v, %v", a, err)
	}
}

func TestDistribute_IsDeterministicAndPure(t *testing.T) {
	in := files(5, 1, 9, 9, 3, 7)
	snapshot := fmt.Sprint(in)

	a, _ := Distribute(in, 3)
	b, _ := Distribute(in, 3)
	if fmt.Sprint(a) != fmt.Sprint(b) {
		t.Errorf("Expected identical assignments, got %v and %v", a, b)
	}
	if fmt.Sprint(in) != snapshot {
		t.Error("Distribute modified its input")
	}
}

func TestDistribute_Properties(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for round := 0; round < 200; round++ {
		n := rng.Intn(40) + 1
		workers := rng.Intn(8) + 1
		sizes := make([]int64, n)
		var total int64
		for i := range sizes {
			// A quarter of the files are empty.
			if rng.Intn(4) > 0 {
				sizes[i] = rng.Int63n(1000)
			}
			total += sizes[i]
		}

		in := files(sizes...)
		a, err := Distribute(in, workers)
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}

		k := min(workers, n)
		if len(a.Buckets) != k {
			t.Fatalf("Expected %d buckets, got %d", k, len(a.Buckets))
		}

		// Every file appears exactly once.
		var seen []string
		var sum int64
		for i, b := range a.Buckets {
			if len(b.Files) == 0 {
				t.Fatalf("Bucket %d is empty (sizes %v, workers %d)", i, sizes, workers)
			}
			var bytes int64
			for _, f := range b.Files {
				seen = append(seen, f.Path)
				bytes += f.Size
			}
			if bytes != b.Bytes {
				t.Fatalf("Bucket load %d does not match its files (%d)", b.Bytes, bytes)
			}
			sum += bytes
		}
		sort.Strings(seen)
		var want []string
		for _, f := range in {
			want = append(want, f.Path)
		}
		sort.Strings(want)
		if fmt.Sprint(seen) != fmt.Sprint(want) {
			t.Fatalf("Expected files %v, got %v", want, seen)
		}
		if sum != total {
			t.Fatalf("Expected total %d, got %d", total, sum)
		}
	}
}

func TestDistribute_WithinFourThirdsOfOptimal(t *testing.T) {
	rng := rand.New(rand.NewSource(7))

	for round := 0; round < 300; round++ {
		n := rng.Intn(8) + 1
		workers := rng.Intn(3) + 1
		sizes := make([]int64, n)
		for i := range sizes {
			sizes[i] = rng.Int63n(100) + 1
		}

		a, err := Distribute(files(sizes...), workers)
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}

		opt := optimalMakespan(sizes, min(workers, n))
		if 3*a.Max() > 4*opt {
			t.Fatalf("Max load %d exceeds 4/3 of optimal %d (sizes %v, workers %d)", a.Max(), opt, sizes, workers)
		}
	}
}

// optimalMakespan tries every assignment; only for tiny inputs.
func optimalMakespan(sizes []int64, k int) int64 {
	loads := make([]int64, k)
	best := int64(-1)
	var walk func(i int)
	walk = func(i int) {
		if i == len(sizes) {
			var m int64
			for _, l := range loads {
				m = max(m, l)
			}
			if best < 0 || m < best {
				best = m
			}
			return
		}
		for b := 0; b < k; b++ {
			loads[b] += sizes[i]
			walk(i + 1)
			loads[b] -= sizes[i]
		}
	}
	walk(0)
	return best
}
