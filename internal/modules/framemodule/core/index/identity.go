package index

import (
	"crypto/md5"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/mantonx/framecache/internal/modules/framemodule/types"
)

// fingerprintChunk is how much of the head and tail of a file is hashed
const fingerprintChunk = 64 * 1024

// Fingerprint computes the identity of a source file from its size and the
// md5 of its first and last 64KiB. Renaming or copying a file keeps its
// identity; changing its content or length does not.
func Fingerprint(path string) (types.FileIdentity, error) {
	f, err := os.Open(path)
	if err != nil {
		return types.FileIdentity{}, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return types.FileIdentity{}, err
	}
	size := info.Size()

	h := md5.New()
	var sizeBuf [8]byte
	binary.LittleEndian.PutUint64(sizeBuf[:], uint64(size))
	h.Write(sizeBuf[:])

	if _, err := io.CopyN(h, f, min64(size, fingerprintChunk)); err != nil && err != io.EOF {
		return types.FileIdentity{}, fmt.Errorf("failed to hash file head: %w", err)
	}
	if size > fingerprintChunk {
		tail := min64(size-fingerprintChunk, fingerprintChunk)
		if _, err := f.Seek(size-tail, io.SeekStart); err != nil {
			return types.FileIdentity{}, err
		}
		if _, err := io.CopyN(h, f, tail); err != nil && err != io.EOF {
			return types.FileIdentity{}, fmt.Errorf("failed to hash file tail: %w", err)
		}
	}

	return types.FileIdentity{Size: size, Digest: hex.EncodeToString(h.Sum(nil))}, nil
}

// ResolveCachePath returns override when set, otherwise <file>.idx beside
// the source
func ResolveCachePath(file, override string) string {
	if override != "" {
		return override
	}
	return filepath.Join(filepath.Dir(file), filepath.Base(file)+".idx")
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
