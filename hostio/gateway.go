// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package hostio is the boundary between the in-memory filesystem metadata
// kept by package fsmeta and actual bytes on the host filesystem. A regular
// inode's contents live in a single host file named by inode number; this
// package is the only thing that ever opens, reads, writes or removes that
// file.
package hostio

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	fallocate "github.com/detailyang/go-fallocate"
	"github.com/jacobsa/timeutil"
	"github.com/lindcage/lindcage/advisorylock"
)

// ErrFileInUse is returned by OpenFile when the requested name already has a
// host handle open in this process. The store guarantees at most one open
// handle per inode, so this generally indicates a bookkeeping bug rather
// than a condition callers should retry around.
var ErrFileInUse = fmt.Errorf("hostio: file already open")

// Handle is an opaque handle on one open host file. Positional reads and
// writes never touch the file's own seek offset, so a Handle can safely be
// shared by every fd in the system that happens to alias the same inode.
type Handle struct {
	gw   *Gateway
	name string

	// lock is the gateway's scoped advisory lock for this host file: readers
	// (ReadAt) take it shared, writers (WriteAt, and the size bump it
	// performs) take it exclusive.
	lock *advisorylock.Lock
	f    *os.File
	size int64
}

// ReadAt reads up to len(buf) bytes starting at off. Short reads at EOF are
// not errors; io.EOF is returned alongside whatever was read, matching
// io.ReaderAt.
func (h *Handle) ReadAt(buf []byte, off int64) (int, error) {
	h.lock.LockShared()
	defer h.lock.Unlock()

	n, err := h.f.ReadAt(buf, off)
	if err == io.EOF {
		return n, io.EOF
	}
	return n, err
}

// WriteAt writes buf at off, extending the logical size of the file if the
// write runs past the current end. Best-effort fallocate is used to
// preallocate the extension so the host filesystem can lay out the new
// extent contiguously; a fallocate failure (e.g. unsupported filesystem) is
// not propagated, since it is purely an allocation hint.
func (h *Handle) WriteAt(buf []byte, off int64) (int, error) {
	h.lock.LockExclusive()
	defer h.lock.Unlock()

	newEnd := off + int64(len(buf))
	if newEnd > h.size {
		_ = fallocate.Fallocate(h.f, h.size, newEnd-h.size)
	}

	n, err := h.f.WriteAt(buf, off)
	if int64(n)+off > h.size {
		h.size = off + int64(n)
	}
	return n, err
}

// Sync flushes the host file's contents to stable storage.
func (h *Handle) Sync() error {
	h.lock.LockShared()
	defer h.lock.Unlock()

	return h.f.Sync()
}

// Close releases the host file and removes its name from the gateway's open
// set, permitting a later OpenFile of the same name.
func (h *Handle) Close() error {
	h.lock.LockExclusive()
	err := h.f.Close()
	h.lock.Unlock()

	h.gw.mu.Lock()
	delete(h.gw.open, h.name)
	h.gw.mu.Unlock()

	return err
}

// Gateway owns all host file access: it opens, reads, writes, removes and
// fsyncs host files by name, and tracks which names are currently open so
// that a file can never be opened twice at once within this process.
type Gateway struct {
	clock   timeutil.Clock
	baseDir string

	mu   sync.Mutex
	open map[string]*Handle // GUARDED_BY(mu)
}

// NewGateway constructs a Gateway whose Timestamp method reads from clock
// and whose host files all live under baseDir (created if missing).
func NewGateway(clock timeutil.Clock, baseDir string) (*Gateway, error) {
	if err := os.MkdirAll(baseDir, 0o700); err != nil {
		return nil, err
	}
	return &Gateway{
		clock:   clock,
		baseDir: baseDir,
		open:    make(map[string]*Handle),
	}, nil
}

// OpenFile opens the host file named name, creating it if create is true and
// it does not already exist. It fails with ErrFileInUse if name is already
// open in this process.
func (g *Gateway) OpenFile(name string, create bool) (*Handle, error) {
	g.mu.Lock()
	if _, ok := g.open[name]; ok {
		g.mu.Unlock()
		return nil, ErrFileInUse
	}

	flags := os.O_RDWR
	if create {
		flags |= os.O_CREATE
	}

	f, err := os.OpenFile(filepath.Join(g.baseDir, name), flags, 0o600)
	if err != nil {
		g.mu.Unlock()
		return nil, err
	}

	var size int64
	if fi, statErr := f.Stat(); statErr == nil {
		size = fi.Size()
	}

	h := &Handle{gw: g, name: name, lock: advisorylock.New(), f: f, size: size}
	g.open[name] = h
	g.mu.Unlock()

	return h, nil
}

// RemoveFile unlinks the host file named name. It fails if name is currently
// open, matching the POSIX intuition that content removal should go through
// truncate/close first in this model (the core never unlinks out from under
// a live Handle).
func (g *Gateway) RemoveFile(name string) error {
	g.mu.Lock()
	if _, ok := g.open[name]; ok {
		g.mu.Unlock()
		return fmt.Errorf("hostio: cannot remove open file %s", name)
	}
	g.mu.Unlock()

	err := os.Remove(filepath.Join(g.baseDir, name))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// FillRandom fills buf with bytes from the host entropy source, returning
// the number of bytes written (always len(buf)).
func (g *Gateway) FillRandom(buf []byte) int {
	n, err := cryptoRandRead(buf)
	if err != nil {
		// The host entropy source failing is not something callers of
		// /dev/random can recover from; degrade to zero-fill rather than
		// wedging a read() call that POSIX says cannot fail like this.
		for i := range buf {
			buf[i] = 0
		}
		return len(buf)
	}
	return n
}

// FillZero fills buf with zero bytes, returning the number of bytes written.
func (g *Gateway) FillZero(buf []byte) int {
	for i := range buf {
		buf[i] = 0
	}
	return len(buf)
}

// Timestamp returns the current monotonic-ish seconds/nanoseconds pair, read
// through the injected Clock so tests can control it.
func (g *Gateway) Timestamp() (sec int64, nsec int64) {
	now := g.clock.Now()
	return now.Unix(), int64(now.Nanosecond())
}
