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

package lindcage

import (
	"fmt"
	"sync"

	"github.com/lindcage/lindcage/fsmeta"
	"golang.org/x/net/context"
	"golang.org/x/sys/unix"
)

// MaxFileDescriptors caps how many descriptors a single cage may hold
// open at once; past this, fd-allocating syscalls fail with ENFILE.
const MaxFileDescriptors = 1024

// rdwrMask is stored alongside a File descriptor's inode/position; it keeps
// the access mode and O_APPEND, discarding creation-only flags like O_CREAT
// that have no meaning once the descriptor exists.
const rdwrMask = unix.O_ACCMODE | unix.O_APPEND

// Cage is a process-like isolation unit: its own fd table and current
// working directory, sharing the filesystem metadata and host I/O gateway
// owned by its CageTable.
type Cage struct {
	id       int32
	parentID int32
	table    *CageTable

	// Per-cage fd-table lock. Held exclusively for the whole span of any
	// compound path-walk-then-mutate syscall.
	mu  sync.RWMutex
	cwd string                    // GUARDED_BY(mu)
	fds map[int]*sharedDescriptor // GUARDED_BY(mu)
}

// ID returns the cage's identifier.
func (c *Cage) ID() int32 { return c.id }

// Cwd returns the cage's current working directory.
func (c *Cage) Cwd() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cwd
}

func newCage(id, parentID int32, table *CageTable, cwd string) *Cage {
	c := &Cage{id: id, parentID: parentID, table: table, cwd: cwd, fds: make(map[int]*sharedDescriptor)}
	c.fds[StreamStdin] = newStreamDescriptor(StreamStdin)
	c.fds[StreamStdout] = newStreamDescriptor(StreamStdout)
	c.fds[StreamStderr] = newStreamDescriptor(StreamStderr)
	return c
}

// reserveFD finds the smallest fd number not currently in use, preferring
// preferred if it is free and valid.
//
// LOCKS_REQUIRED(c.mu)
func (c *Cage) reserveFD(preferred int, hasPreferred bool) (int, bool) {
	if hasPreferred && preferred >= 0 && preferred < MaxFileDescriptors {
		if _, used := c.fds[preferred]; !used {
			return preferred, true
		}
	}
	for i := 0; i < MaxFileDescriptors; i++ {
		if _, used := c.fds[i]; !used {
			return i, true
		}
	}
	return 0, false
}

func (c *Cage) span(ctx context.Context, name string) (context.Context, func(result int, detail string)) {
	spanCtx, span := c.table.startSpan(ctx, name)
	return spanCtx, span.Finish
}

////////////////////////////////////////////////////////////////////////
// open / creat
////////////////////////////////////////////////////////////////////////

// Open implements open(2).
func (c *Cage) Open(ctx context.Context, path string, flags int32, mode uint32) int {
	_, finish := c.span(ctx, "open")
	var result int
	defer func() { finish(result, path) }()

	if len(path) == 0 {
		result = errnoResult(ENOENT)
		return result
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	store := c.table.store
	store.Lock()
	defer store.Unlock()

	fd, ok := c.reserveFD(0, false)
	if !ok {
		result = errnoResult(ENFILE)
		return result
	}

	truePath := fsmeta.Normalize(c.cwd, path)
	wr := store.WalkWithParent(truePath)

	switch {
	case !wr.HasChild && !wr.HasParent:
		result = errnoResult(ENOENT)
		return result

	case !wr.HasChild && wr.HasParent:
		if flags&unix.O_CREAT == 0 {
			result = errnoResult(ENOENT)
			return result
		}
		if flags&unix.S_IFCHR != 0 {
			result = errnoResult(EINVAL)
			return result
		}
		if mode&^0o7777 != 0 {
			result = errnoResult(EPERM)
			return result
		}

		now := c.table.clock.Now()
		attr := fsmeta.Attr{
			Mode:      mode,
			Uid:       c.table.defaultUID,
			Gid:       c.table.defaultGID,
			LinkCount: 1,
			Atime:     now,
			Ctime:     now,
			Mtime:     now,
		}
		newInode := store.AllocateInode(fsmeta.KindRegular, attr)
		store.LinkIntoParent(wr.Parent, fsmeta.BaseName(truePath), newInode)

	case wr.HasChild:
		if flags&(unix.O_CREAT|unix.O_EXCL) == (unix.O_CREAT | unix.O_EXCL) {
			result = errnoResult(EEXIST)
			return result
		}
		if flags&unix.O_TRUNC != 0 {
			in := store.Inode(wr.Child)
			if in.Kind != fsmeta.KindRegular {
				result = errnoResult(EINVAL)
				return result
			}
			if err := store.TruncateRegular(wr.Child); err != nil {
				result = errnoResult(EINVAL)
				return result
			}
		}
	}

	// Re-walk in case this call just created the inode.
	inodeNum, ok := store.Walk(truePath)
	if !ok {
		panic(fmt.Sprintf("lindcage: inode vanished after open(%q)", truePath))
	}

	in := store.Inode(inodeNum)
	store.AdjustRefcount(inodeNum, 1)

	if in.Kind == fsmeta.KindRegular {
		if _, err := store.GetOrOpenFileObject(inodeNum); err != nil {
			store.AdjustRefcount(inodeNum, -1)
			result = errnoResult(EINVAL)
			return result
		}
	}

	position := int64(0)
	if flags&unix.O_APPEND != 0 {
		position = int64(in.Attr.Size)
	}

	sd := newFileDescriptor(inodeNum, position, flags&rdwrMask)
	c.fds[fd] = sd
	result = fd
	return result
}

// Creat implements creat(2): open(path, O_CREAT|O_TRUNC|O_WRONLY, mode).
func (c *Cage) Creat(ctx context.Context, path string, mode uint32) int {
	return c.Open(ctx, path, unix.O_CREAT|unix.O_TRUNC|unix.O_WRONLY, mode)
}

// Mkdir creates an empty directory.
func (c *Cage) Mkdir(ctx context.Context, path string, mode uint32) int {
	_, finish := c.span(ctx, "mkdir")
	var result int
	defer func() { finish(result, path) }()

	if len(path) == 0 {
		result = errnoResult(ENOENT)
		return result
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	store := c.table.store
	store.Lock()
	defer store.Unlock()

	truePath := fsmeta.Normalize(c.cwd, path)
	wr := store.WalkWithParent(truePath)

	if wr.HasChild {
		result = errnoResult(EEXIST)
		return result
	}
	if !wr.HasParent {
		result = errnoResult(ENOENT)
		return result
	}

	now := c.table.clock.Now()
	attr := fsmeta.Attr{
		Mode:      mode,
		Uid:       c.table.defaultUID,
		Gid:       c.table.defaultGID,
		LinkCount: 2,
		Atime:     now,
		Ctime:     now,
		Mtime:     now,
	}
	newInode := store.AllocateInode(fsmeta.KindDirectory, attr)
	store.LinkIntoParent(wr.Parent, fsmeta.BaseName(truePath), newInode)
	store.AdjustLinkcount(wr.Parent, 1) // the new ".." entry

	result = 0
	return result
}

// Mknod creates a character device node at path with the given (major,
// minor) device number. Only character devices are supported; no syscall in
// this package creates pipe or socket inodes.
func (c *Cage) Mknod(ctx context.Context, path string, mode uint32, major, minor uint32) int {
	_, finish := c.span(ctx, "mknod")
	var result int
	defer func() { finish(result, path) }()

	if len(path) == 0 {
		result = errnoResult(ENOENT)
		return result
	}
	if mode&^0o7777 != 0 {
		result = errnoResult(EPERM)
		return result
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	store := c.table.store
	store.Lock()
	defer store.Unlock()

	truePath := fsmeta.Normalize(c.cwd, path)
	wr := store.WalkWithParent(truePath)

	if wr.HasChild {
		result = errnoResult(EEXIST)
		return result
	}
	if !wr.HasParent {
		result = errnoResult(ENOENT)
		return result
	}

	now := c.table.clock.Now()
	attr := fsmeta.Attr{
		Mode:      mode,
		Uid:       c.table.defaultUID,
		Gid:       c.table.defaultGID,
		LinkCount: 1,
		Atime:     now,
		Ctime:     now,
		Mtime:     now,
		Major:     major,
		Minor:     minor,
	}
	newInode := store.AllocateInode(fsmeta.KindCharDevice, attr)
	store.LinkIntoParent(wr.Parent, fsmeta.BaseName(truePath), newInode)

	result = 0
	return result
}

////////////////////////////////////////////////////////////////////////
// stat / fstat
////////////////////////////////////////////////////////////////////////

// Stat implements stat(2).
func (c *Cage) Stat(ctx context.Context, path string, out *Stat) int {
	_, finish := c.span(ctx, "stat")
	var result int
	defer func() { finish(result, path) }()

	c.mu.RLock()
	cwd := c.cwd
	c.mu.RUnlock()

	store := c.table.store
	store.RLock()
	defer store.RUnlock()

	truePath := fsmeta.Normalize(cwd, path)
	inodeNum, ok := store.Walk(truePath)
	if !ok {
		result = errnoResult(ENOENT)
		return result
	}

	*out = statFromInode(store.DevID(), inodeNum, store.Inode(inodeNum))
	result = 0
	return result
}

// Fstat implements fstat(2).
func (c *Cage) Fstat(ctx context.Context, fd int, out *Stat) int {
	_, finish := c.span(ctx, "fstat")
	var result int
	defer func() { finish(result, fmt.Sprintf("fd=%d", fd)) }()

	c.mu.RLock()
	sd, ok := c.fds[fd]
	c.mu.RUnlock()
	if !ok {
		result = errnoResult(EBADF)
		return result
	}

	switch sd.kind {
	case descFile:
		store := c.table.store
		store.RLock()
		*out = statFromInode(store.DevID(), sd.inode, store.Inode(sd.inode))
		store.RUnlock()
	case descSocket:
		result = errnoResult(EOPNOTSUPP)
		return result
	case descStream:
		*out = Stat{Dev: c.table.store.DevID(), Ino: streamInode}
	case descPipe:
		*out = Stat{Dev: c.table.store.DevID(), Ino: pipeInode}
	}

	result = 0
	return result
}

////////////////////////////////////////////////////////////////////////
// read / write / pread / pwrite / lseek
////////////////////////////////////////////////////////////////////////

// Read implements read(2).
func (c *Cage) Read(ctx context.Context, fd int, buf []byte) int {
	_, finish := c.span(ctx, "read")
	var result int
	defer func() { finish(result, fmt.Sprintf("fd=%d", fd)) }()

	c.mu.RLock()
	sd, ok := c.fds[fd]
	c.mu.RUnlock()
	if !ok {
		result = errnoResult(EBADF)
		return result
	}

	switch sd.kind {
	case descSocket:
		result = errnoResult(EOPNOTSUPP)
	case descStream:
		result = errnoResult(EOPNOTSUPP)
	case descPipe:
		sd.mu.RLock()
		wronly := sd.pipeFlags&rdwrMask == unix.O_WRONLY
		sd.mu.RUnlock()
		if wronly {
			result = errnoResult(EBADF)
			return result
		}
		result = errnoResult(EOPNOTSUPP)
	case descFile:
		sd.mu.Lock()
		defer sd.mu.Unlock()

		if sd.flags&rdwrMask == unix.O_WRONLY {
			result = errnoResult(EBADF)
			return result
		}

		store := c.table.store
		store.RLock()
		in := store.Inode(sd.inode)
		store.RUnlock()

		switch in.Kind {
		case fsmeta.KindDirectory:
			result = errnoResult(EISDIR)
		case fsmeta.KindCharDevice:
			result = c.readCharDevice(in, buf)
		case fsmeta.KindRegular:
			store.Lock()
			h, err := store.GetOrOpenFileObject(sd.inode)
			store.Unlock()
			if err != nil {
				result = errnoResult(EINVAL)
				return result
			}
			n, err := h.ReadAt(buf, sd.position)
			sd.position += int64(n)
			if err != nil && n == 0 {
				result = 0
				return result
			}
			result = n
		default:
			result = errnoResult(EOPNOTSUPP)
		}
	}
	return result
}

// Write implements write(2).
func (c *Cage) Write(ctx context.Context, fd int, buf []byte) int {
	_, finish := c.span(ctx, "write")
	var result int
	defer func() { finish(result, fmt.Sprintf("fd=%d", fd)) }()

	c.mu.RLock()
	sd, ok := c.fds[fd]
	c.mu.RUnlock()
	if !ok {
		result = errnoResult(EBADF)
		return result
	}

	switch sd.kind {
	case descSocket:
		result = errnoResult(EOPNOTSUPP)
	case descStream:
		if sd.stream == StreamStdout || sd.stream == StreamStderr {
			c.table.logger(2, "%s", buf)
			result = len(buf)
		} else {
			result = 0
		}
	case descPipe:
		sd.mu.RLock()
		rdonly := sd.pipeFlags&rdwrMask == unix.O_RDONLY
		sd.mu.RUnlock()
		if rdonly {
			result = errnoResult(EBADF)
			return result
		}
		result = errnoResult(EOPNOTSUPP)
	case descFile:
		sd.mu.Lock()
		defer sd.mu.Unlock()

		if sd.flags&rdwrMask == unix.O_RDONLY {
			result = errnoResult(EBADF)
			return result
		}

		store := c.table.store
		store.Lock()
		in := store.Inode(sd.inode)

		switch in.Kind {
		case fsmeta.KindDirectory:
			store.Unlock()
			result = errnoResult(EISDIR)
			return result
		case fsmeta.KindCharDevice:
			store.Unlock()
			result = c.writeCharDevice(in, buf)
			return result
		case fsmeta.KindRegular:
			h, err := store.GetOrOpenFileObject(sd.inode)
			store.Unlock()
			if err != nil {
				result = errnoResult(EINVAL)
				return result
			}

			n, werr := h.WriteAt(buf, sd.position)
			sd.position += int64(n)

			store.Lock()
			regular := store.Inode(sd.inode)
			if uint64(sd.position) > regular.Attr.Size {
				regular.Attr.Size = uint64(sd.position)
			}
			regular.Attr.Mtime = c.table.clock.Now()
			store.Unlock()

			if werr != nil {
				result = 0
				return result
			}
			result = n
			return result
		default:
			store.Unlock()
			result = errnoResult(EOPNOTSUPP)
			return result
		}
	}
	return result
}

// Pread implements pread(2): like Read but against an explicit offset,
// never mutating the descriptor's position.
func (c *Cage) Pread(ctx context.Context, fd int, buf []byte, off int64) int {
	_, finish := c.span(ctx, "pread")
	var result int
	defer func() { finish(result, fmt.Sprintf("fd=%d off=%d", fd, off)) }()

	c.mu.RLock()
	sd, ok := c.fds[fd]
	c.mu.RUnlock()
	if !ok || sd.kind != descFile {
		result = errnoResult(EBADF)
		return result
	}

	sd.mu.RLock()
	flags := sd.flags
	inode := sd.inode
	sd.mu.RUnlock()

	if flags&rdwrMask == unix.O_WRONLY {
		result = errnoResult(EBADF)
		return result
	}

	store := c.table.store
	store.Lock()
	in := store.Inode(inode)
	if in.Kind == fsmeta.KindDirectory {
		store.Unlock()
		result = errnoResult(EISDIR)
		return result
	}
	if in.Kind == fsmeta.KindCharDevice {
		store.Unlock()
		result = c.readCharDevice(in, buf)
		return result
	}
	h, err := store.GetOrOpenFileObject(inode)
	store.Unlock()
	if err != nil {
		result = errnoResult(EINVAL)
		return result
	}

	n, err := h.ReadAt(buf, off)
	if err != nil && n == 0 {
		result = 0
		return result
	}
	result = n
	return result
}

// Pwrite implements pwrite(2): like Write but against an explicit offset,
// never mutating the descriptor's position.
func (c *Cage) Pwrite(ctx context.Context, fd int, buf []byte, off int64) int {
	_, finish := c.span(ctx, "pwrite")
	var result int
	defer func() { finish(result, fmt.Sprintf("fd=%d off=%d", fd, off)) }()

	c.mu.RLock()
	sd, ok := c.fds[fd]
	c.mu.RUnlock()
	if !ok || sd.kind != descFile {
		result = errnoResult(EBADF)
		return result
	}

	sd.mu.RLock()
	flags := sd.flags
	inode := sd.inode
	sd.mu.RUnlock()

	if flags&rdwrMask == unix.O_RDONLY {
		result = errnoResult(EBADF)
		return result
	}

	store := c.table.store
	store.Lock()
	in := store.Inode(inode)
	if in.Kind == fsmeta.KindDirectory {
		store.Unlock()
		result = errnoResult(EISDIR)
		return result
	}
	if in.Kind == fsmeta.KindCharDevice {
		store.Unlock()
		result = c.writeCharDevice(in, buf)
		return result
	}
	h, err := store.GetOrOpenFileObject(inode)
	store.Unlock()
	if err != nil {
		result = errnoResult(EINVAL)
		return result
	}

	n, werr := h.WriteAt(buf, off)

	store.Lock()
	regular := store.Inode(inode)
	if uint64(off)+uint64(n) > regular.Attr.Size {
		regular.Attr.Size = uint64(off) + uint64(n)
	}
	regular.Attr.Mtime = c.table.clock.Now()
	store.Unlock()

	if werr != nil {
		result = 0
		return result
	}
	result = n
	return result
}

// Whence values for Lseek.
const (
	SeekSet = 0
	SeekCur = 1
	SeekEnd = 2
)

// Lseek implements lseek(2).
func (c *Cage) Lseek(ctx context.Context, fd int, offset int64, whence int) int {
	_, finish := c.span(ctx, "lseek")
	var result int
	defer func() { finish(result, fmt.Sprintf("fd=%d", fd)) }()

	c.mu.RLock()
	sd, ok := c.fds[fd]
	c.mu.RUnlock()
	if !ok || sd.kind != descFile {
		result = errnoResult(EBADF)
		return result
	}

	sd.mu.Lock()
	defer sd.mu.Unlock()

	var base int64
	switch whence {
	case SeekSet:
		base = 0
	case SeekCur:
		base = sd.position
	case SeekEnd:
		store := c.table.store
		store.RLock()
		base = int64(store.Inode(sd.inode).Attr.Size)
		store.RUnlock()
	default:
		result = errnoResult(EINVAL)
		return result
	}

	sd.position = base + offset
	result = int(sd.position)
	return result
}

// Fsync implements fsync(2): flushes a regular file's host backing file to
// stable storage. Character devices and every other descriptor kind with no
// host file behind it succeed trivially or report EBADF, matching the rest
// of the fd-validation surface.
func (c *Cage) Fsync(ctx context.Context, fd int) int {
	_, finish := c.span(ctx, "fsync")
	var result int
	defer func() { finish(result, fmt.Sprintf("fd=%d", fd)) }()

	c.mu.RLock()
	sd, ok := c.fds[fd]
	c.mu.RUnlock()
	if !ok || sd.kind != descFile {
		result = errnoResult(EBADF)
		return result
	}

	sd.mu.RLock()
	inode := sd.inode
	sd.mu.RUnlock()

	store := c.table.store
	store.Lock()
	in := store.Inode(inode)
	if in.Kind != fsmeta.KindRegular {
		store.Unlock()
		result = 0
		return result
	}
	h, err := store.GetOrOpenFileObject(inode)
	store.Unlock()
	if err != nil {
		result = errnoResult(EINVAL)
		return result
	}

	if err := h.Sync(); err != nil {
		result = errnoResult(EINVAL)
		return result
	}
	result = 0
	return result
}

////////////////////////////////////////////////////////////////////////
// access / chdir
////////////////////////////////////////////////////////////////////////

// Access mode bits for access(2).
const (
	ROK = 0b100
	WOK = 0b010
	XOK = 0b001
)

// Access implements access(2). Every file is treated as owned by the
// caller, so this degrades to "is the requested bit set in mode", never a
// real multi-user permission check.
func (c *Cage) Access(ctx context.Context, path string, amode uint32) int {
	_, finish := c.span(ctx, "access")
	var result int
	defer func() { finish(result, path) }()

	c.mu.RLock()
	cwd := c.cwd
	c.mu.RUnlock()

	store := c.table.store
	store.RLock()
	defer store.RUnlock()

	truePath := fsmeta.Normalize(cwd, path)
	inodeNum, ok := store.Walk(truePath)
	if !ok {
		result = errnoResult(ENOENT)
		return result
	}

	mode := store.Inode(inodeNum).Attr.Mode

	var want uint32
	if amode&XOK != 0 {
		want |= 0o100
	}
	if amode&WOK != 0 {
		want |= 0o200
	}
	if amode&ROK != 0 {
		want |= 0o400
	}

	if mode&want != want {
		result = errnoResult(EACCES)
		return result
	}
	result = 0
	return result
}

// Chdir implements chdir(2).
func (c *Cage) Chdir(ctx context.Context, path string) int {
	_, finish := c.span(ctx, "chdir")
	var result int
	defer func() { finish(result, path) }()

	c.mu.Lock()
	defer c.mu.Unlock()

	store := c.table.store
	store.Lock()
	defer store.Unlock()

	truePath := fsmeta.Normalize(c.cwd, path)
	inodeNum, ok := store.Walk(truePath)
	if !ok {
		result = errnoResult(ENOENT)
		return result
	}
	if store.Inode(inodeNum).Kind != fsmeta.KindDirectory {
		result = errnoResult(ENOTDIR)
		return result
	}

	c.cwd = truePath
	result = 0
	return result
}

////////////////////////////////////////////////////////////////////////
// dup / dup2 / close
////////////////////////////////////////////////////////////////////////

// Dup implements dup(2).
func (c *Cage) Dup(ctx context.Context, fd int) int {
	_, finish := c.span(ctx, "dup")
	var result int
	defer func() { finish(result, fmt.Sprintf("fd=%d", fd)) }()

	c.mu.Lock()
	defer c.mu.Unlock()

	sd, ok := c.fds[fd]
	if !ok {
		result = errnoResult(EBADF)
		return result
	}

	newFD, ok := c.reserveFD(0, false)
	if !ok {
		result = errnoResult(ENFILE)
		return result
	}

	sd.addAlias()
	c.fds[newFD] = sd
	result = newFD
	return result
}

// Dup2 implements dup2(2).
func (c *Cage) Dup2(ctx context.Context, oldfd, newfd int) int {
	_, finish := c.span(ctx, "dup2")
	var result int
	defer func() { finish(result, fmt.Sprintf("oldfd=%d newfd=%d", oldfd, newfd)) }()

	if oldfd == newfd {
		c.mu.RLock()
		_, ok := c.fds[oldfd]
		c.mu.RUnlock()
		if !ok {
			result = errnoResult(EBADF)
			return result
		}
		result = newfd
		return result
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	sd, ok := c.fds[oldfd]
	if !ok {
		result = errnoResult(EBADF)
		return result
	}
	if newfd < 0 || newfd >= MaxFileDescriptors {
		result = errnoResult(EBADF)
		return result
	}

	if old, exists := c.fds[newfd]; exists {
		c.releaseDescriptor(old)
	}

	sd.addAlias()
	c.fds[newfd] = sd
	result = newfd
	return result
}

// Close implements close(2).
func (c *Cage) Close(ctx context.Context, fd int) int {
	_, finish := c.span(ctx, "close")
	var result int
	defer func() { finish(result, fmt.Sprintf("fd=%d", fd)) }()

	c.mu.Lock()
	defer c.mu.Unlock()

	sd, ok := c.fds[fd]
	if !ok {
		result = errnoResult(EBADF)
		return result
	}
	delete(c.fds, fd)
	c.releaseDescriptor(sd)

	result = 0
	return result
}

// releaseDescriptor drops one alias of sd and, if that was the last one
// anywhere, unwinds the inode refcount / socket binding it held.
//
// LOCKS_REQUIRED(c.mu)
func (c *Cage) releaseDescriptor(sd *sharedDescriptor) {
	if !sd.dropAlias() {
		return
	}

	switch sd.kind {
	case descFile:
		store := c.table.store
		store.Lock()
		remaining := store.AdjustRefcount(sd.inode, -1)
		if remaining == 0 {
			_ = store.MaybeReclaim(sd.inode)
		}
		store.Unlock()
	case descSocket:
		c.table.sockets.release(sd)
	}
}

////////////////////////////////////////////////////////////////////////
// unlink
////////////////////////////////////////////////////////////////////////

// Unlink implements unlink(2). If the inode's refcount is still positive,
// reclaiming it and its host file is deferred until the last open
// descriptor closes: MaybeReclaim is re-checked from Close.
func (c *Cage) Unlink(ctx context.Context, path string) int {
	_, finish := c.span(ctx, "unlink")
	var result int
	defer func() { finish(result, path) }()

	c.mu.Lock()
	defer c.mu.Unlock()

	store := c.table.store
	store.Lock()
	defer store.Unlock()

	truePath := fsmeta.Normalize(c.cwd, path)
	wr := store.WalkWithParent(truePath)
	if !wr.HasChild {
		result = errnoResult(ENOENT)
		return result
	}
	if store.Inode(wr.Child).Kind == fsmeta.KindDirectory {
		result = errnoResult(EISDIR)
		return result
	}

	name := fsmeta.BaseName(truePath)
	inodeNum, ok := store.UnlinkFromParent(wr.Parent, name)
	if !ok {
		panic("lindcage: unlink: entry vanished under lock")
	}

	store.AdjustLinkcount(inodeNum, -1)
	_ = store.MaybeReclaim(inodeNum)

	result = 0
	return result
}

////////////////////////////////////////////////////////////////////////
// exit
////////////////////////////////////////////////////////////////////////

// Exit implements exit(): closes every descriptor the cage still holds,
// then removes the cage from its CageTable.
func (c *Cage) Exit(ctx context.Context) {
	_, finish := c.span(ctx, "exit")
	defer finish(0, fmt.Sprintf("cage=%d", c.id))

	c.mu.Lock()
	for fd, sd := range c.fds {
		delete(c.fds, fd)
		c.releaseDescriptor(sd)
	}
	c.mu.Unlock()

	c.table.remove(c.id)
}
