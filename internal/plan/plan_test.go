package plan

import (
	"errors"
	"testing"

	ferr "dataferry/internal/errors"
)

const mib = 1024 * 1024

func TestPlan(t *testing.T) {
	tests := []struct {
		name        string
		size        int64
		threshold   int64
		chunk       int64
		singleShot  bool
		parts       int
		lastLength  int64
		expectedErr error
	}{
		{name: "Empty file", size: 0, threshold: DefaultThreshold, chunk: DefaultChunkSize, singleShot: true},
		{name: "Below threshold", size: 1024, threshold: DefaultThreshold, chunk: DefaultChunkSize, singleShot: true},
		{name: "Exactly threshold", size: 5 * mib, threshold: DefaultThreshold, chunk: DefaultChunkSize, singleShot: true},
		{name: "One byte over threshold", size: 5*mib + 1, threshold: DefaultThreshold, chunk: DefaultChunkSize, parts: 2, lastLength: 1},
		{name: "Twelve MiB", size: 12 * mib, threshold: DefaultThreshold, chunk: DefaultChunkSize, parts: 3, lastLength: 2 * mib},
		{name: "Exact multiple", size: 15 * mib, threshold: DefaultThreshold, chunk: DefaultChunkSize, parts: 3, lastLength: 5 * mib},
		{name: "Negative size", size: -1, threshold: DefaultThreshold, chunk: DefaultChunkSize, expectedErr: ferr.ErrInvalidArgument},
		{name: "Zero chunk", size: 10, threshold: 0, chunk: 0, expectedErr: ferr.ErrInvalidArgument},
		{name: "Too many parts", size: MaxParts*10 + 1, threshold: 0, chunk: 10, expectedErr: ferr.ErrInvalidArgument},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := Plan(tt.size, tt.threshold, tt.chunk)
			if tt.expectedErr != nil {
				if !errors.Is(err, tt.expectedErr) {
					t.Fatalf("Expected error %v, got %v", tt.expectedErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if p.SingleShot != tt.singleShot {
				t.Errorf("Expected SingleShot %v, got %v", tt.singleShot, p.SingleShot)
			}
			if tt.singleShot {
				if len(p.Parts) != 0 {
					t.Errorf("Expected no parts for single-shot plan, got %d", len(p.Parts))
				}
				return
			}
			if len(p.Parts) != tt.parts {
				t.Fatalf("Expected %d parts, got %d", tt.parts, len(p.Parts))
			}
			if last := p.Parts[len(p.Parts)-1]; last.Length != tt.lastLength {
				t.Errorf("Expected last part length %d, got %d", tt.lastLength, last.Length)
			}
		})
	}
}

func TestPlanCoversFileExactly(t *testing.T) {
	chunks := []int64{1, 3, 7, 64, 1000}
	for _, chunk := range chunks {
		for size := int64(1); size <= 2500; size += 37 {
			p, err := Plan(size, 0, chunk)
			if err != nil {
				t.Fatalf("Plan(%d, 0, %d): %v", size, chunk, err)
			}

			var next int64
			for i, part := range p.Parts {
				if part.Number != int32(i+1) {
					t.Fatalf("size %d chunk %d: part %d numbered %d", size, chunk, i+1, part.Number)
				}
				if part.Offset != next {
					t.Fatalf("size %d chunk %d: part %d starts at %d, expected %d", size, chunk, part.Number, part.Offset, next)
				}
				if part.Length <= 0 || part.Length > chunk {
					t.Fatalf("size %d chunk %d: part %d has length %d", size, chunk, part.Number, part.Length)
				}
				if i < len(p.Parts)-1 && part.Length != chunk {
					t.Fatalf("size %d chunk %d: non-final part %d has length %d", size, chunk, part.Number, part.Length)
				}
				next += part.Length
			}
			if next != size {
				t.Fatalf("size %d chunk %d: parts cover %d bytes", size, chunk, next)
			}
		}
	}
}

func TestChunkPlanPart(t *testing.T) {
	p, err := Plan(12*mib, DefaultThreshold, DefaultChunkSize)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	part, ok := p.Part(2)
	if !ok || part.Offset != 5*mib || part.Length != 5*mib {
		t.Errorf("Expected part 2 at offset %d, got %+v (ok=%v)", 5*mib, part, ok)
	}
	if _, ok := p.Part(0); ok {
		t.Error("Expected part 0 to be absent")
	}
	if _, ok := p.Part(4); ok {
		t.Error("Expected part 4 to be absent")
	}
}
