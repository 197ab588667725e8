package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dataferry/internal/batch"
	"dataferry/internal/config"
	"dataferry/internal/upload"
)

func TestPromptResolver(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  batch.Decision
	}{
		{"continue", "2\n", batch.Decision{Action: batch.UseAsIs}},
		{"cancel", "3\n", batch.Decision{Action: batch.Abort}},
		{"rename", "1\nrobot/run2\n", batch.RenameTo("robot/run2")},
		{"invalid choice then cancel", "x\n3\n", batch.Decision{Action: batch.Abort}},
		{"bad name then continue", "1\nflat\n2\n", batch.Decision{Action: batch.UseAsIs}},
		{"answer without newline", "3", batch.Decision{Action: batch.Abort}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			resolve := promptResolver(strings.NewReader(tt.input), &out)

			got, err := resolve(context.Background(), "robot/run1")

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Contains(t, out.String(), "'robot/run1' already exists")
		})
	}
}

func TestPromptResolver_EOF(t *testing.T) {
	resolve := promptResolver(strings.NewReader(""), &bytes.Buffer{})
	_, err := resolve(context.Background(), "robot/run1")
	assert.Error(t, err)
}

func TestUploadOptions(t *testing.T) {
	uc := config.DefaultUploadConfig()
	uc.Upload.PartSizeMB = 8
	uc.Upload.Multipart = "force"

	opts := uploadOptions(uc.Upload)

	assert.Equal(t, int64(5*1024*1024), opts.Threshold)
	assert.Equal(t, int64(8*1024*1024), opts.ChunkSize)
	assert.Equal(t, upload.StrategyForce, opts.Strategy)
	assert.Equal(t, 5, opts.MaxAttempts)
	assert.Equal(t, 2*time.Second, opts.Backoff)
	assert.Equal(t, []string{"*.*"}, opts.Filters)
	assert.True(t, opts.TolerateIntegrityMismatch)
}
