// SPDX-License-Identifier: LGPL-3.0-or-later

package image

import (
	"crypto/sha256"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

const (
	// ImageFileName is the image file under each slot directory.
	ImageFileName = "dlc.img"

	copyBufSize = 4096

	filePerms = 0o644
	dirPerms  = 0o755
)

// ResizeFile grows path by writing zeros past the previous end so the
// grown region is backed by real blocks, and shrinks via truncation.
func ResizeFile(path string, size int64) error {
	f, err := os.OpenFile(path, os.O_WRONLY, filePerms)
	if err != nil {
		return fmt.Errorf("open file to resize %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}
	prevSize := info.Size()

	if size <= prevSize {
		// Shrinking never unsparses; truncation is enough.
		if err := f.Truncate(size); err != nil {
			return fmt.Errorf("truncate %s to %d: %w", path, size, err)
		}
		return nil
	}

	if _, err := f.Seek(prevSize, io.SeekStart); err != nil {
		return fmt.Errorf("seek %s to %d: %w", path, prevSize, err)
	}

	buf := make([]byte, copyBufSize)
	for remaining := size - prevSize; remaining > 0; {
		n := int64(len(buf))
		if remaining < n {
			n = remaining
		}
		if _, err := f.Write(buf[:n]); err != nil {
			return fmt.Errorf("write zeros to %s: %w", path, err)
		}
		remaining -= n
	}
	return nil
}

// CreateFile creates path (and its parents) and sizes it to size. An
// existing file is resized in place.
func CreateFile(path string, size int64) error {
	if err := os.MkdirAll(filepath.Dir(path), dirPerms); err != nil {
		return fmt.Errorf("create directory for %s: %w", path, err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, filePerms)
	if err != nil {
		return fmt.Errorf("create file %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close file %s: %w", path, err)
	}
	return ResizeFile(path, size)
}

// HashFile computes the SHA-256 of exactly the first size bytes of path.
// A file shorter than size is an error.
func HashFile(path string, size int64) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open file to hash %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.Size() < size {
		return nil, fmt.Errorf("file %s is %d bytes, smaller than intended size %d",
			path, info.Size(), size)
	}

	h := sha256.New()
	if _, err := io.CopyN(h, f, size); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return h.Sum(nil), nil
}

// CopyAndHashFile streams exactly size bytes from src into dst while
// hashing the same bytes, guaranteeing what was hashed is what was
// written.
func CopyAndHashFile(src, dst string, size int64) ([]byte, error) {
	in, err := os.Open(src)
	if err != nil {
		return nil, fmt.Errorf("open source %s: %w", src, err)
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", src, err)
	}
	if info.Size() < size {
		return nil, fmt.Errorf("source %s is %d bytes, smaller than intended size %d",
			src, info.Size(), size)
	}

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY, filePerms)
	if err != nil {
		return nil, fmt.Errorf("open destination %s: %w", dst, err)
	}
	defer out.Close()

	h := sha256.New()
	if _, err := io.CopyN(io.MultiWriter(out, h), in, size); err != nil {
		return nil, fmt.Errorf("copy %s to %s: %w", src, dst, err)
	}
	return h.Sum(nil), nil
}

// FileSize returns the size of path, or 0 when it does not exist.
func FileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}

// PathExists reports whether path exists.
func PathExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
