package s3

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/smithy-go"

	ferr "dataferry/internal/errors"
)

var integrityCodes = map[string]bool{
	"InvalidPart":                 true,
	"InvalidPartOrder":            true,
	"BadDigest":                   true,
	"InvalidDigest":               true,
	"XAmzContentChecksumMismatch": true,
}

var notFoundCodes = map[string]bool{
	"NotFound":     true,
	"NoSuchKey":    true,
	"NoSuchUpload": true,
	"NoSuchBucket": true,
	"404":          true,
}

// classify wraps an SDK error with the matching kind from the error taxonomy.
func classify(op, key string, err error) error {
	if err == nil {
		return nil
	}

	kind := ferr.ErrTransient
	var apiErr smithy.APIError
	switch {
	case errors.Is(err, context.Canceled):
		kind = ferr.ErrCancelled
	case errors.As(err, &apiErr) && notFoundCodes[apiErr.ErrorCode()]:
		kind = ferr.ErrObjectNotFound
	case errors.As(err, &apiErr) && integrityCodes[apiErr.ErrorCode()]:
		kind = ferr.ErrIntegrityMismatch
	case errors.As(err, &apiErr) && apiErr.ErrorCode() == "InvalidRequest" &&
		strings.Contains(strings.ToLower(apiErr.ErrorMessage()), "checksum"):
		kind = ferr.ErrIntegrityMismatch
	}

	return ferr.NewError(op, fmt.Errorf("%w: %w", kind, err)).WithKey(key)
}
