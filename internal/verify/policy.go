package verify

import (
	"context"
	"fmt"
	"strings"

	ferr "dataferry/internal/errors"
	"dataferry/internal/storage"
)

// Policy is the strength of the equivalence check between a local file and a
// remote object. The set is closed: Size, Checksum, DeepChecksum and Strict.
type Policy interface {
	fmt.Stringer
	equivalent(ctx context.Context, v *Verifier, path string, remote *storage.ObjectInfo) (bool, error)
}

var (
	// Size compares byte counts only.
	Size Policy = sizePolicy{}
	// Checksum compares the local MD5-derived entity tag with the remote one.
	Checksum Policy = checksumPolicy{}
	// DeepChecksum downloads the object and compares SHA-256 digests.
	DeepChecksum Policy = deepChecksumPolicy{}
	// Strict requires both Checksum and DeepChecksum.
	Strict Policy = strictPolicy{}
)

// ParsePolicy maps a configuration value to a Policy. An empty value is Size.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "size":
		return Size, nil
	case "md5", "checksum", "etag":
		return Checksum, nil
	case "sha256", "deep":
		return DeepChecksum, nil
	case "strict":
		return Strict, nil
	}
	return nil, ferr.Errorf(ferr.ErrInvalidArgument, "unknown verification method %q", s)
}

type sizePolicy struct{}

func (sizePolicy) String() string { return "size" }

func (sizePolicy) equivalent(context.Context, *Verifier, string, *storage.ObjectInfo) (bool, error) {
	return true, nil
}

type checksumPolicy struct{}

func (checksumPolicy) String() string { return "md5" }

func (checksumPolicy) equivalent(ctx context.Context, v *Verifier, path string, remote *storage.ObjectInfo) (bool, error) {
	return v.compareETag(path, remote)
}

type deepChecksumPolicy struct{}

func (deepChecksumPolicy) String() string { return "sha256" }

func (deepChecksumPolicy) equivalent(ctx context.Context, v *Verifier, path string, remote *storage.ObjectInfo) (bool, error) {
	return v.compareContent(ctx, path, remote)
}

type strictPolicy struct{}

func (strictPolicy) String() string { return "strict" }

func (strictPolicy) equivalent(ctx context.Context, v *Verifier, path string, remote *storage.ObjectInfo) (bool, error) {
	ok, err := v.compareETag(path, remote)
	if !ok || err != nil {
		return false, err
	}
	return v.compareContent(ctx, path, remote)
}
