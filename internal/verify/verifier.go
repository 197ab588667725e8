// Package verify decides whether a remote object already holds the same
// content as a local file.
package verify

import (
	"context"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"io"
	"os"
	"strconv"
	"strings"

	"go.uber.org/zap"

	ferr "dataferry/internal/errors"
	"dataferry/internal/storage"
)

type Verifier struct {
	store     storage.ObjectStore
	chunkSize int64
	log       *zap.SugaredLogger
}

// New returns a Verifier. chunkSize must match the part size used for
// multipart uploads so multipart entity tags can be recomputed locally.
func New(store storage.ObjectStore, chunkSize int64, log *zap.SugaredLogger) *Verifier {
	return &Verifier{store: store, chunkSize: chunkSize, log: log}
}

// IsEquivalent reports whether remote holds the content of the file at path
// under the given policy. Sizes are compared first and a mismatch is never
// hashed. Any error means the file must be treated as not equivalent.
func (v *Verifier) IsEquivalent(ctx context.Context, path string, remote *storage.ObjectInfo, policy Policy) (bool, error) {
	if remote == nil {
		return false, nil
	}
	if policy == nil {
		policy = Size
	}

	info, err := os.Stat(path)
	if err != nil {
		return false, ferr.NewError("verify", err).WithPath(path)
	}
	if info.Size() != remote.Size {
		v.log.Debugw("size differs", "path", path, "local", info.Size(), "remote", remote.Size)
		return false, nil
	}

	ok, err := policy.equivalent(ctx, v, path, remote)
	if err != nil {
		return false, ferr.NewError("verify", err).WithPath(path).WithKey(remote.Key)
	}
	return ok, nil
}

func (v *Verifier) compareETag(path string, remote *storage.ObjectInfo) (bool, error) {
	etag := strings.ToLower(strings.Trim(remote.ETag, `"`))
	if etag == "" {
		return false, ferr.Errorf(ferr.ErrVerificationFailed, "remote object has no entity tag")
	}

	if i := strings.LastIndexByte(etag, '-'); i >= 0 {
		parts, err := strconv.Atoi(etag[i+1:])
		if err != nil || parts <= 0 {
			return false, ferr.Errorf(ferr.ErrVerificationFailed, "unrecognised entity tag %q", remote.ETag)
		}
		local, n, err := multipartETag(path, v.chunkSize)
		if err != nil {
			return false, err
		}
		if n != parts {
			return false, ferr.Errorf(ferr.ErrVerificationFailed,
				"remote object has %d parts, local part size gives %d", parts, n)
		}
		return local == etag[:i], nil
	}

	local, err := hashFile(path, md5.New())
	if err != nil {
		return false, err
	}
	return local == etag, nil
}

func (v *Verifier) compareContent(ctx context.Context, path string, remote *storage.ObjectInfo) (bool, error) {
	local, err := hashFile(path, sha256.New())
	if err != nil {
		return false, err
	}

	body, err := v.store.GetObject(ctx, remote.Key)
	if ferr.IsObjectNotFound(err) {
		return false, ferr.Errorf(ferr.ErrVerificationFailed, "remote object %s disappeared", remote.Key)
	}
	if err != nil {
		return false, err
	}
	defer body.Close()

	h := sha256.New()
	if _, err := io.Copy(h, body); err != nil {
		return false, err
	}
	return hex.EncodeToString(h.Sum(nil)) == local, nil
}

func hashFile(path string, h hash.Hash) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// multipartETag computes the MD5 of the concatenated part MD5s, which is the
// entity tag S3 assigns to a multipart object, and the number of parts.
func multipartETag(path string, chunkSize int64) (string, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	var (
		sums []byte
		n    int
	)
	for {
		h := md5.New()
		written, err := io.CopyN(h, f, chunkSize)
		if written > 0 {
			sums = h.Sum(sums)
			n++
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", 0, err
		}
	}

	sum := md5.Sum(sums)
	return hex.EncodeToString(sum[:]), n, nil
}
