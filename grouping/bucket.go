package grouping

import (
	"fmt"
	"math/bits"
	"os"
	"path/filepath"

	"github.com/spaolacci/murmur3"
)

const (
	// bucketBufferBytes is how much of one bucket is held before it is
	// appended to its scratch file.
	bucketBufferBytes = 64 << 10

	// totalBufferBytes caps the routing buffers of all buckets together.
	totalBufferBytes = 16 << 20
)

// BucketOf returns the bucket index of a subject token.
func BucketOf(subject string, buckets int) int {
	h := murmur3.New64()
	h.Write([]byte(subject))
	return int(h.Sum64() % uint64(buckets))
}

// BucketCount chooses the number of buckets for an input of size bytes:
// the fixed count when configured, otherwise ceil(size/target) rounded up to
// a power of two and clamped to [MinBuckets, MaxBuckets].
func BucketCount(size int64, opts Options) int {
	opts = opts.withDefaults()
	if opts.Buckets > 0 {
		return opts.Buckets
	}
	n := uint64((size + opts.TargetBucketBytes - 1) / opts.TargetBucketBytes)
	if n <= 1 {
		n = 1
	} else {
		n = 1 << bits.Len64(n-1)
	}
	if n < uint64(opts.MinBuckets) {
		n = uint64(opts.MinBuckets)
	}
	if n > uint64(opts.MaxBuckets) {
		n = uint64(opts.MaxBuckets)
	}
	return int(n)
}

// bucketSet routes lines into per-bucket scratch files. Files are opened only
// while a buffer is flushed, so the number of buckets is not limited by the
// process's open file limit.
type bucketSet struct {
	dir      string
	bufs     [][]byte
	buffered int
}

func newBucketSet(dir string, n int) *bucketSet {
	return &bucketSet{dir: dir, bufs: make([][]byte, n)}
}

func (b *bucketSet) path(i int) string {
	return filepath.Join(b.dir, fmt.Sprintf("bucket-%05d", i))
}

func (b *bucketSet) add(i int, line string) error {
	b.bufs[i] = append(b.bufs[i], line...)
	b.bufs[i] = append(b.bufs[i], '\n')
	b.buffered += len(line) + 1
	if len(b.bufs[i]) >= bucketBufferBytes {
		if err := b.flush(i); err != nil {
			return err
		}
	}
	if b.buffered >= totalBufferBytes {
		return b.flushAll()
	}
	return nil
}

func (b *bucketSet) flush(i int) error {
	if len(b.bufs[i]) == 0 {
		return nil
	}
	path := b.path(i)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return ioErr("open bucket", path, err)
	}
	if _, err := f.Write(b.bufs[i]); err != nil {
		f.Close()
		return ioErr("write bucket", path, err)
	}
	if err := f.Close(); err != nil {
		return ioErr("close bucket", path, err)
	}
	b.buffered -= len(b.bufs[i])
	b.bufs[i] = nil
	return nil
}

func (b *bucketSet) flushAll() error {
	for i := range b.bufs {
		if err := b.flush(i); err != nil {
			return err
		}
	}
	return nil
}

// read returns the full content of bucket i, or nil when it is empty.
func (b *bucketSet) read(i int) ([]byte, error) {
	data, err := os.ReadFile(b.path(i))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, ioErr("read bucket", b.path(i), err)
	}
	return data, nil
}
