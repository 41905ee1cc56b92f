package utils

import (
	"crypto/md5"
	"fmt"
	"io"
)

// HashReader streams r through md5 and returns the hex digest.
func HashReader(r io.Reader) (string, error) {
	h := md5.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return fmt.Sprintf("%x", h.Sum(nil)), nil
}
