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

package fsmeta

import (
	"fmt"
	"path"

	"github.com/jacobsa/syncutil"
	"github.com/jacobsa/timeutil"
	"github.com/lindcage/lindcage/hostio"
)

// FileDataPrefix names the host files backing regular inode contents:
// inode N's bytes live in the host file FileDataPrefix+N.
const FileDataPrefix = "lindcage.filedata."

// RootInode is the inode number of "/". It is never reused.
const RootInode InodeNum = 1

// Store is the filesystem metadata store: one shared instance per process,
// mutated under Lock/Unlock (exclusive) or RLock/RUnlock (shared). Callers
// are responsible for holding the lock for the entire span of any compound
// path-walk-then-mutate operation.
type Store struct {
	mu syncutil.InvariantMutex

	clock   timeutil.Clock
	gateway *hostio.Gateway

	devID       uint64
	nextInode   InodeNum                    // GUARDED_BY(mu)
	inodes      map[InodeNum]*Inode         // GUARDED_BY(mu)
	fileObjects map[InodeNum]*hostio.Handle // GUARDED_BY(mu)
	root        InodeNum
}

// NewStore creates a Store with a freshly minted root directory. devID
// identifies the "device" regular inodes claim to live on in Stat results;
// callers that don't care can pass 0.
func NewStore(gateway *hostio.Gateway, clock timeutil.Clock, devID uint64) *Store {
	s := &Store{
		clock:       clock,
		gateway:     gateway,
		devID:       devID,
		nextInode:   RootInode,
		inodes:      make(map[InodeNum]*Inode),
		fileObjects: make(map[InodeNum]*hostio.Handle),
		root:        RootInode,
	}
	s.mu = syncutil.NewInvariantMutex(s.checkInvariants)

	now := clock.Now()
	s.inodes[RootInode] = &Inode{
		Kind: KindDirectory,
		Attr: Attr{
			Mode:      0o755,
			LinkCount: 3, // ".", "..", and the mount anchor
			Atime:     now,
			Ctime:     now,
			Mtime:     now,
		},
		Children: make(map[string]InodeNum),
	}
	s.nextInode = RootInode + 1

	return s
}

// Lock/Unlock/RLock/RUnlock expose the metadata lock to callers that need to
// hold it across a compound operation spanning multiple Store calls (e.g.
// Cage.Open holding it across WalkWithParent, AllocateInode and
// LinkIntoParent).
func (s *Store) Lock()    { s.mu.Lock() }
func (s *Store) Unlock()  { s.mu.Unlock() }
func (s *Store) RLock()   { s.mu.RLock() }
func (s *Store) RUnlock() { s.mu.RUnlock() }

func (s *Store) checkInvariants() {
	if _, ok := s.inodes[s.root]; !ok {
		panic("fsmeta: root inode missing from inode table")
	}

	for id, in := range s.inodes {
		if id >= s.nextInode {
			panic(fmt.Sprintf("fsmeta: live inode %d >= nextInode %d", id, s.nextInode))
		}
		if (in.Kind == KindDirectory) != (in.Children != nil) {
			panic(fmt.Sprintf("fsmeta: inode %d Kind/Children mismatch", id))
		}
		for name, child := range in.Children {
			if _, ok := s.inodes[child]; !ok {
				panic(fmt.Sprintf("fsmeta: dangling child %q -> %d in inode %d", name, child, id))
			}
		}
	}
}

// DevID returns the device identifier Stat results should report.
func (s *Store) DevID() uint64 { return s.devID }

// Inode returns the live inode for id. Panics if id is unknown: callers must
// only pass IDs obtained from a successful Walk under the same lock
// acquisition, so a miss here is an invariant violation, not a reportable
// error.
//
// SHARED_LOCKS_REQUIRED(s.mu)
func (s *Store) Inode(id InodeNum) *Inode {
	in, ok := s.inodes[id]
	if !ok {
		panic(fmt.Sprintf("fsmeta: unknown inode %d", id))
	}
	return in
}

// AllocateInode mints a new inode number, inserts an inode of the given
// kind and attributes under it, and returns the new number. Inode numbers
// strictly increase; a number is never reused within a live Store.
//
// EXCLUSIVE_LOCKS_REQUIRED(s.mu)
func (s *Store) AllocateInode(kind Kind, attr Attr) InodeNum {
	id := s.nextInode
	s.nextInode++

	in := &Inode{Kind: kind, Attr: attr}
	if kind == KindDirectory {
		in.Children = make(map[string]InodeNum)
	}
	s.inodes[id] = in

	return id
}

// LinkIntoParent adds a name -> inode entry to parent's child map and bumps
// parent's mtime.
//
// EXCLUSIVE_LOCKS_REQUIRED(s.mu)
func (s *Store) LinkIntoParent(parent InodeNum, name string, inode InodeNum) {
	dir := s.Inode(parent)
	if !dir.IsDir() {
		panic(fmt.Sprintf("fsmeta: LinkIntoParent: inode %d is not a directory", parent))
	}
	dir.Children[name] = inode
	dir.Attr.Mtime = s.clock.Now()
}

// UnlinkFromParent removes name from parent's child map, returning the
// inode it named. ok is false if no such entry existed.
//
// EXCLUSIVE_LOCKS_REQUIRED(s.mu)
func (s *Store) UnlinkFromParent(parent InodeNum, name string) (InodeNum, bool) {
	dir := s.Inode(parent)
	if !dir.IsDir() {
		panic(fmt.Sprintf("fsmeta: UnlinkFromParent: inode %d is not a directory", parent))
	}
	id, ok := dir.Children[name]
	if !ok {
		return 0, false
	}
	delete(dir.Children, name)
	dir.Attr.Mtime = s.clock.Now()
	return id, true
}

// AdjustRefcount changes inode's open-descriptor refcount by delta and
// reports the new value. It never reclaims the inode itself; callers decide
// whether the resulting (linkcount==0 && refcount==0) state warrants a
// reclaim (see MaybeReclaim).
//
// EXCLUSIVE_LOCKS_REQUIRED(s.mu)
func (s *Store) AdjustRefcount(inode InodeNum, delta int32) uint32 {
	in := s.Inode(inode)
	next := int64(in.Attr.RefCount) + int64(delta)
	if next < 0 {
		panic(fmt.Sprintf("fsmeta: refcount underflow on inode %d", inode))
	}
	in.Attr.RefCount = uint32(next)
	return in.Attr.RefCount
}

// AdjustLinkcount changes inode's directory-entry count by delta.
//
// EXCLUSIVE_LOCKS_REQUIRED(s.mu)
func (s *Store) AdjustLinkcount(inode InodeNum, delta int32) uint32 {
	in := s.Inode(inode)
	next := int64(in.Attr.LinkCount) + int64(delta)
	if next < 0 {
		panic(fmt.Sprintf("fsmeta: linkcount underflow on inode %d", inode))
	}
	in.Attr.LinkCount = uint32(next)
	return in.Attr.LinkCount
}

// MaybeReclaim removes inode and its backing host file once both linkcount
// and refcount have reached zero. It is a no-op otherwise.
//
// EXCLUSIVE_LOCKS_REQUIRED(s.mu)
func (s *Store) MaybeReclaim(inode InodeNum) error {
	in, ok := s.inodes[inode]
	if !ok {
		return nil
	}
	if in.Attr.LinkCount != 0 || in.Attr.RefCount != 0 {
		return nil
	}

	if in.Kind == KindRegular {
		if h, ok := s.fileObjects[inode]; ok {
			_ = h.Close()
			delete(s.fileObjects, inode)
		}
		if err := s.gateway.RemoveFile(hostFileName(inode)); err != nil {
			return err
		}
	}

	delete(s.inodes, inode)
	return nil
}

// TruncateRegular closes the current host handle for inode (if any),
// removes its host file, reopens an empty one and rebinds it, and resets
// the inode's size to zero.
//
// EXCLUSIVE_LOCKS_REQUIRED(s.mu)
func (s *Store) TruncateRegular(inode InodeNum) error {
	in := s.Inode(inode)
	if in.Kind != KindRegular {
		panic(fmt.Sprintf("fsmeta: TruncateRegular: inode %d is not regular", inode))
	}

	name := hostFileName(inode)

	if h, ok := s.fileObjects[inode]; ok {
		if err := h.Close(); err != nil {
			return err
		}
		delete(s.fileObjects, inode)
	}

	if err := s.gateway.RemoveFile(name); err != nil {
		return err
	}

	h, err := s.gateway.OpenFile(name, true)
	if err != nil {
		return err
	}
	s.fileObjects[inode] = h

	in.Attr.Size = 0
	in.Attr.Mtime = s.clock.Now()
	return nil
}

// GetOrOpenFileObject returns the host handle backing inode's contents,
// opening it on first demand.
//
// EXCLUSIVE_LOCKS_REQUIRED(s.mu)
func (s *Store) GetOrOpenFileObject(inode InodeNum) (*hostio.Handle, error) {
	if h, ok := s.fileObjects[inode]; ok {
		return h, nil
	}

	h, err := s.gateway.OpenFile(hostFileName(inode), true)
	if err != nil {
		return nil, err
	}
	s.fileObjects[inode] = h
	return h, nil
}

func hostFileName(inode InodeNum) string {
	return fmt.Sprintf("%s%d", FileDataPrefix, inode)
}

// BaseName returns the final path component of normalized, the name under
// which it would be looked up in its parent's child map.
func BaseName(normalized string) string {
	return path.Base(normalized)
}
