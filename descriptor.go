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
	"sync"
	"sync/atomic"

	"github.com/lindcage/lindcage/fsmeta"
)

// descKind distinguishes the variants of a file descriptor.
type descKind int

const (
	descFile descKind = iota
	descSocket
	descStream
	descPipe
)

// Stream descriptor numbers, pre-populated at cage init.
const (
	StreamStdin  = 0
	StreamStdout = 1
	StreamStderr = 2
)

// sharedDescriptor is the mutable state behind one or more fd-table entries.
// dup and dup2 make two entries point at the same *sharedDescriptor, which
// is how they come to observe the same seek position: there is exactly one
// position field, guarded by mu, no matter how many fd numbers alias it.
//
// aliasCount is the number of fd-table slots (across every cage, including
// ones created by Fork) currently pointing at this descriptor. It is what
// close() consults to decide whether it was the last reference.
type sharedDescriptor struct {
	kind       descKind
	aliasCount int32 // atomic

	mu sync.RWMutex

	// descFile
	inode    fsmeta.InodeNum
	position int64
	flags    int32

	// descSocket
	sock *socketState

	// descStream
	stream int

	// descPipe: the pipe datapath is unimplemented; only enough state to
	// report EOPNOTSUPP on read/write and let close() work uniformly.
	pipeFlags int32
}

func newFileDescriptor(inode fsmeta.InodeNum, position int64, flags int32) *sharedDescriptor {
	return &sharedDescriptor{kind: descFile, inode: inode, position: position, flags: flags, aliasCount: 1}
}

func newStreamDescriptor(stream int) *sharedDescriptor {
	return &sharedDescriptor{kind: descStream, stream: stream, aliasCount: 1}
}

func newSocketDescriptor(domain, typ, protocol int) *sharedDescriptor {
	return &sharedDescriptor{
		kind:       descSocket,
		sock:       &socketState{domain: domain, typ: typ, protocol: protocol, state: SocketUnbound},
		aliasCount: 1,
	}
}

// addAlias registers one more fd-table slot pointing at sd.
func (sd *sharedDescriptor) addAlias() { atomic.AddInt32(&sd.aliasCount, 1) }

// dropAlias unregisters one fd-table slot and reports whether sd has no
// remaining references anywhere.
func (sd *sharedDescriptor) dropAlias() bool {
	return atomic.AddInt32(&sd.aliasCount, -1) == 0
}
