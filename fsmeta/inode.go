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

// Package fsmeta is the filesystem metadata store: the inode table, the
// directory tree, and the mapping from a regular inode to its open host
// file object. Every exported method documents the lock its caller must
// already hold.
package fsmeta

import "time"

// InodeNum is a dense, monotonically increasing inode identifier. Once
// assigned it is never reused within a live Store.
type InodeNum uint64

// Kind distinguishes the variants of Inode.
type Kind int

const (
	KindRegular Kind = iota
	KindDirectory
	KindCharDevice
	KindPipe
	KindSocket
)

func (k Kind) String() string {
	switch k {
	case KindRegular:
		return "regular"
	case KindDirectory:
		return "directory"
	case KindCharDevice:
		return "chardev"
	case KindPipe:
		return "pipe"
	case KindSocket:
		return "socket"
	default:
		return "unknown"
	}
}

// Attr holds the attributes common to every inode kind. Not every field is
// meaningful for every Kind (see Inode).
type Attr struct {
	Size      uint64
	Uid       uint32
	Gid       uint32
	Mode      uint32 // permission + historical type bits, POSIX st_mode style
	LinkCount uint32
	RefCount  uint32
	Atime     time.Time
	Ctime     time.Time
	Mtime     time.Time

	// Valid only for KindCharDevice.
	Major uint32
	Minor uint32
}

// Inode is the metadata record for one filesystem object. Children are
// referenced purely by InodeNum, never by pointer, so that the directory
// tree never forms pointer cycles between Inode values. Children holds only
// real entries; "." and ".." are not stored in it.
//
// INVARIANT: every InodeNum in Children exists as a key in the owning
// Store's inode table.
// INVARIANT: Kind == KindDirectory iff Children != nil.
type Inode struct {
	Kind Kind
	Attr Attr

	// Children maps name to inode number. Only populated for directories.
	Children map[string]InodeNum

	// PipeHandle/SocketHandle are opaque handles for the unimplemented
	// datapaths; the core only needs to know they exist, never their
	// contents.
	PipeHandle   interface{}
	SocketHandle interface{}
}

// IsDir reports whether in is a directory.
func (in *Inode) IsDir() bool { return in.Kind == KindDirectory }

// IsRegular reports whether in is a regular file.
func (in *Inode) IsRegular() bool { return in.Kind == KindRegular }
