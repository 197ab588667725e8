package resume

import (
	"crypto/md5"
	"encoding/hex"
	"io"
	"os"
)

// Fingerprint identifies a file by the MD5 of its content, so a renamed or
// moved file still resumes and a modified one starts over.
func Fingerprint(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}
