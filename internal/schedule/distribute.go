// Package schedule assigns files to workers ahead of a batch.
package schedule

import (
	"sort"

	ferr "dataferry/internal/errors"
)

// File is a unit of work with a known size.
type File struct {
	Path string
	Key  string
	Size int64
}

// Bucket is the static work list of one worker.
type Bucket struct {
	Files []File
	Bytes int64
}

type Assignment struct {
	Buckets []Bucket
}

// Max returns the largest bucket load.
func (a *Assignment) Max() int64 {
	var m int64
	for _, b := range a.Buckets {
		if b.Bytes > m {
			m = b.Bytes
		}
	}
	return m
}

// Distribute balances files over min(workers, len(files)) buckets using the
// longest-processing-time rule: largest file first, each to the lightest
// bucket. Ties go to the bucket with fewer files, then the lowest index, so
// zero-byte files still spread out and no bucket is left empty. It does not
// modify files.
func Distribute(files []File, workers int) (*Assignment, error) {
	if workers < 1 {
		return nil, ferr.Errorf(ferr.ErrInvalidArgument, "worker count must be positive, got %d", workers)
	}
	if len(files) == 0 {
		return &Assignment{}, nil
	}
	for _, f := range files {
		if f.Size < 0 {
			return nil, ferr.Errorf(ferr.ErrInvalidArgument, "negative size for %s", f.Path)
		}
	}

	n := min(workers, len(files))

	order := make([]File, len(files))
	copy(order, files)
	sort.SliceStable(order, func(i, j int) bool { return order[i].Size > order[j].Size })

	buckets := make([]Bucket, n)
	for _, f := range order {
		target := 0
		for i := 1; i < n; i++ {
			if lighter(buckets[i], buckets[target]) {
				target = i
			}
		}
		buckets[target].Files = append(buckets[target].Files, f)
		buckets[target].Bytes += f.Size
	}

	return &Assignment{Buckets: buckets}, nil
}

func lighter(a, b Bucket) bool {
	if a.Bytes != b.Bytes {
		return a.Bytes < b.Bytes
	}
	return len(a.Files) < len(b.Files)
}
