package response

import (
	"container/list"
	"io"
	"os"
	"sync"
	"syscall"

	"github.com/nabbar/httpd/wire"
)

// FileCache caches open file descriptors by path using LRU eviction,
// adapted from the teacher's core/sendfile.FileCache. The teacher kept a
// single unbounded global cache; here ownership is explicit: whoever calls
// NewFileCache owns the cache and closes it. Package daemon does not create
// or close one.
type FileCache struct {
	mu       sync.RWMutex
	cache    map[string]*list.Element
	lru      *list.List
	maxFiles int
}

type cacheEntry struct {
	path string
	file *os.File
}

// NewFileCache creates a cache holding at most maxFiles open descriptors.
func NewFileCache(maxFiles int) *FileCache {
	if maxFiles <= 0 {
		maxFiles = 1024
	}
	return &FileCache{
		cache:    make(map[string]*list.Element),
		lru:      list.New(),
		maxFiles: maxFiles,
	}
}

// Open returns a cached *os.File for path, opening and caching it if
// necessary.
func (fc *FileCache) Open(path string) (*os.File, error) {
	fc.mu.Lock()
	defer fc.mu.Unlock()

	if el, ok := fc.cache[path]; ok {
		fc.lru.MoveToFront(el)
		return el.Value.(*cacheEntry).file, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	el := fc.lru.PushFront(&cacheEntry{path: path, file: f})
	fc.cache[path] = el

	if fc.lru.Len() > fc.maxFiles {
		back := fc.lru.Back()
		if back != nil {
			entry := back.Value.(*cacheEntry)
			entry.file.Close()
			delete(fc.cache, entry.path)
			fc.lru.Remove(back)
		}
	}
	return f, nil
}

// Close closes every cached descriptor. Call when the cache's owner is
// done with it.
func (fc *FileCache) Close() {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	for _, el := range fc.cache {
		el.Value.(*cacheEntry).file.Close()
	}
	fc.cache = make(map[string]*list.Element)
	fc.lru.Init()
}

// writeFileLocked sends as much of the file body as w accepts without
// blocking, via syscall.Sendfile when the adapter exposes a raw fd, falling
// back to buffered read+Send otherwise (e.g. over a TLSAdapter, where
// sendfile cannot write encrypted application data directly). A single
// partial sendfile (short write, EAGAIN, or ENOSYS) leaves fileOff/fileLeft
// exactly where the next call should resume, per the sendfile short-write
// disposition in DESIGN.md.
func (r *Response) writeFileLocked(w wire.Adapter) (bool, error) {
	if _, ok := w.(*wire.Plain); !ok {
		return r.writeFileFallbackLocked(w)
	}
	for r.fileLeft > 0 {
		n, err := syscall.Sendfile(w.FD(), int(r.file.Fd()), &r.fileOff, clampInt(r.fileLeft))
		if err != nil {
			if err == syscall.EAGAIN || err == syscall.EINTR {
				return false, nil
			}
			if err == syscall.ENOSYS {
				return r.writeFileFallbackLocked(w)
			}
			return false, err
		}
		if n == 0 {
			return false, nil
		}
		r.fileLeft -= int64(n)
	}
	return true, nil
}

// writeFileFallbackLocked buffers through the wire adapter's Send when
// sendfile is unavailable, keeping the same fileOff bookkeeping so it can
// interleave with (or permanently replace) writeFileLocked calls.
func (r *Response) writeFileFallbackLocked(w wire.Adapter) (bool, error) {
	buf := make([]byte, 32*1024)
	for r.fileLeft > 0 {
		want := int64(len(buf))
		if want > r.fileLeft {
			want = r.fileLeft
		}
		n, err := r.file.ReadAt(buf[:want], r.fileOff)
		if n > 0 {
			sent := 0
			for sent < n {
				wn, werr := w.Send(buf[sent:n])
				sent += wn
				if werr != nil {
					if werr == wire.ErrWouldBlock {
						r.fileOff += int64(sent)
						r.fileLeft -= int64(sent)
						return false, nil
					}
					return false, werr
				}
			}
			r.fileOff += int64(n)
			r.fileLeft -= int64(n)
		}
		if err != nil {
			if err == io.EOF {
				return true, nil
			}
			return false, err
		}
	}
	return true, nil
}

func clampInt(n int64) int {
	const maxInt = int(^uint(0) >> 1)
	if n > int64(maxInt) {
		return maxInt
	}
	return int(n)
}
