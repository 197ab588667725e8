// Package plan splits a file into the transfer units used by the uploader.
package plan

import (
	ferr "dataferry/internal/errors"
)

const (
	// DefaultThreshold is the largest size sent as a single object.
	DefaultThreshold int64 = 5 * 1024 * 1024

	// DefaultChunkSize is the size of every multipart part except the last.
	DefaultChunkSize int64 = 5 * 1024 * 1024

	// MaxParts is the most parts a multipart session can hold.
	MaxParts = 10000
)

// Part is a contiguous byte range of the file. Numbers start at 1.
type Part struct {
	Number int32
	Offset int64
	Length int64
}

// ChunkPlan is either a single-shot transfer or an ordered list of parts.
type ChunkPlan struct {
	Size       int64
	SingleShot bool
	Parts      []Part
}

// Plan returns the chunk plan for a file of the given size. Files no larger
// than threshold are sent in one request.
func Plan(size, threshold, chunkSize int64) (*ChunkPlan, error) {
	if size < 0 {
		return nil, ferr.Errorf(ferr.ErrInvalidArgument, "negative file size %d", size)
	}
	if chunkSize <= 0 {
		return nil, ferr.Errorf(ferr.ErrInvalidArgument, "chunk size must be positive, got %d", chunkSize)
	}

	if size <= threshold {
		return &ChunkPlan{Size: size, SingleShot: true}, nil
	}

	count := (size + chunkSize - 1) / chunkSize
	if count > MaxParts {
		return nil, ferr.Errorf(ferr.ErrInvalidArgument,
			"file of %d bytes needs %d parts of %d bytes but a multipart session holds at most %d; use a part size of at least %d bytes",
			size, count, chunkSize, MaxParts, (size+MaxParts-1)/MaxParts)
	}

	parts := make([]Part, 0, count)
	for offset, n := int64(0), int32(1); offset < size; offset, n = offset+chunkSize, n+1 {
		length := chunkSize
		if remaining := size - offset; remaining < length {
			length = remaining
		}
		parts = append(parts, Part{Number: n, Offset: offset, Length: length})
	}

	return &ChunkPlan{Size: size, Parts: parts}, nil
}

// Part returns the planned part with the given number.
func (p *ChunkPlan) Part(number int32) (Part, bool) {
	if number < 1 || int(number) > len(p.Parts) {
		return Part{}, false
	}
	return p.Parts[number-1], true
}
