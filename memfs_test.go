package coapd

import (
	"io"
	"os"
	"sync"

	"github.com/dsnet/golib/memfile"
)

// memFilesystem is the in-memory Filesystem double every test in this
// package shares, in place of touching the real disk (§SPEC_FULL "Test
// tooling": github.com/dsnet/golib/memfile backs the storage double).
type memFilesystem struct {
	mu    sync.Mutex
	files map[string][]byte
}

func newMemFilesystem() *memFilesystem {
	return &memFilesystem{files: make(map[string][]byte)}
}

func (m *memFilesystem) seed(path string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[path] = append([]byte(nil), data...)
}

func (m *memFilesystem) contents(path string) []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]byte(nil), m.files[path]...)
}

func (m *memFilesystem) OpenRead(path string) (File, error) {
	m.mu.Lock()
	data, ok := m.files[path]
	m.mu.Unlock()
	if !ok {
		return nil, os.ErrNotExist
	}
	return &memFile{fs: m, path: path, File: memfile.New(append([]byte(nil), data...))}, nil
}

func (m *memFilesystem) OpenAppend(path string) (File, error) {
	m.mu.Lock()
	data := append([]byte(nil), m.files[path]...)
	m.mu.Unlock()
	f := memfile.New(data)
	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		return nil, err
	}
	return &memFile{fs: m, path: path, File: f}, nil
}

func (m *memFilesystem) Create(path string) (File, error) {
	f := memfile.New(nil)
	m.mu.Lock()
	m.files[path] = nil
	m.mu.Unlock()
	return &memFile{fs: m, path: path, File: f}, nil
}

// memFile adapts a *memfile.File to this package's File interface,
// persisting its bytes back to the owning memFilesystem on Close the way a
// real os.File's writes are already visible on the underlying disk.
type memFile struct {
	*memfile.File
	fs   *memFilesystem
	path string
}

func (f *memFile) Size() (int64, error) {
	return sizeBySeek(f.File)
}

func (f *memFile) Close() error {
	f.fs.mu.Lock()
	f.fs.files[f.path] = append([]byte(nil), f.File.Bytes()...)
	f.fs.mu.Unlock()
	return f.File.Close()
}
