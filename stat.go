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
	"time"

	"github.com/lindcage/lindcage/fsmeta"
)

// Stat is the result buffer for stat(2)/fstat(2), deliberately a plain
// struct rather than a pointer into inode state: callers get a consistent
// snapshot, not a live view that could change out from under them.
type Stat struct {
	Dev     uint64
	Ino     fsmeta.InodeNum
	Mode    uint32
	Nlink   uint32
	Uid     uint32
	Gid     uint32
	Rdev    uint64
	Size    uint64
	Atime   time.Time
	Mtime   time.Time
	Ctime   time.Time
}

// statFromInode fills out a Stat for a real inode (regular/dir/chardev).
func statFromInode(devID uint64, ino fsmeta.InodeNum, in *fsmeta.Inode) Stat {
	s := Stat{
		Dev:   devID,
		Ino:   ino,
		Mode:  in.Attr.Mode,
		Nlink: in.Attr.LinkCount,
		Uid:   in.Attr.Uid,
		Gid:   in.Attr.Gid,
		Size:  in.Attr.Size,
		Atime: in.Attr.Atime,
		Mtime: in.Attr.Mtime,
		Ctime: in.Attr.Ctime,
	}
	if in.Kind == fsmeta.KindCharDevice {
		s.Rdev = uint64(in.Attr.Major)<<8 | uint64(in.Attr.Minor)
	}
	return s
}

// Sentinel "inode" numbers used for fstat on descriptors that have no real
// backing inode (streams, pipes).
const (
	streamInode fsmeta.InodeNum = 0xfeed0000
	pipeInode   fsmeta.InodeNum = 0xfeef0000
)
