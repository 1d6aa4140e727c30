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

	"github.com/jacobsa/timeutil"
	"github.com/lindcage/lindcage/fsmeta"
	"github.com/lindcage/lindcage/hostio"
	"github.com/lindcage/lindcage/internal/cagetrace"
	"golang.org/x/net/context"
)

// RootCageID is the identifier of the cage created by Init.
const RootCageID int32 = 1

// CageTable is the process-wide singleton owning every live Cage plus the
// state they all share: the filesystem metadata store, the host I/O
// gateway, the socket bind registry and the diagnostic trace sink. Callers
// reach it through Init/NewCageTable rather than constructing it directly.
type CageTable struct {
	store   *fsmeta.Store
	gateway *hostio.Gateway
	clock   timeutil.Clock
	sockets *socketRegistry
	trace   *cagetrace.Ring
	log     cagetrace.Logger

	defaultUID, defaultGID uint32

	mu     sync.RWMutex
	cages  map[int32]*Cage // GUARDED_BY(mu)
	nextID int32           // GUARDED_BY(mu)
}

// Option configures a CageTable at construction time.
type Option func(*CageTable)

// WithClock overrides the timeutil.Clock used for inode timestamps. The
// gateway's Timestamp keeps reading the clock it was constructed with.
// Tests use this to inject a fake clock.
func WithClock(clock timeutil.Clock) Option {
	return func(t *CageTable) { t.clock = clock }
}

// WithLogger overrides the diagnostic logger every syscall span reports
// through. Defaults to the package logger gated by the -lindcage.debug flag.
func WithLogger(log cagetrace.Logger) Option {
	return func(t *CageTable) { t.log = log }
}

// WithTraceRingSize overrides the capacity of the recent-diagnostics ring
// buffer (default 256).
func WithTraceRingSize(n int) Option {
	return func(t *CageTable) {
		t.trace = cagetrace.NewRing(n)
	}
}

// WithOwner sets the uid/gid stamped onto every inode this table creates.
func WithOwner(uid, gid uint32) Option {
	return func(t *CageTable) {
		t.defaultUID = uid
		t.defaultGID = gid
	}
}

// NewCageTable constructs a CageTable backed by gateway, with no cages yet
// running. Most callers want Init, which also creates the root cage.
func NewCageTable(gateway *hostio.Gateway, devID uint64, opts ...Option) *CageTable {
	t := &CageTable{
		gateway: gateway,
		clock:   timeutil.RealClock(),
		sockets: newSocketRegistry(),
		trace:   cagetrace.NewRing(256),
		log:     defaultLogf,
		cages:   make(map[int32]*Cage),
		nextID:  RootCageID,
	}
	for _, opt := range opts {
		opt(t)
	}
	t.store = fsmeta.NewStore(gateway, t.clock, devID)
	t.seedDevices()
	return t
}

// seedDevices populates /dev with the well-known character devices, the
// way a real boot would before any cage's syscalls run.
func (t *CageTable) seedDevices() {
	t.store.Lock()
	defer t.store.Unlock()

	now := t.clock.Now()
	dirAttr := fsmeta.Attr{
		Mode:      0o755,
		Uid:       t.defaultUID,
		Gid:       t.defaultGID,
		LinkCount: 2,
		Atime:     now,
		Ctime:     now,
		Mtime:     now,
	}
	devDir := t.store.AllocateInode(fsmeta.KindDirectory, dirAttr)
	t.store.LinkIntoParent(fsmeta.RootInode, "dev", devDir)

	devices := []struct {
		name         string
		major, minor uint32
	}{
		{"null", DevNullMajor, DevNullMinor},
		{"zero", DevZeroMajor, DevZeroMinor},
		{"random", DevRandomMajor, DevRandomMinor},
		{"urandom", DevURandomMajor, DevURandomMinor},
	}

	for _, d := range devices {
		attr := fsmeta.Attr{
			Mode:      0o666,
			Uid:       t.defaultUID,
			Gid:       t.defaultGID,
			LinkCount: 1,
			Atime:     now,
			Ctime:     now,
			Mtime:     now,
			Major:     d.major,
			Minor:     d.minor,
		}
		ino := t.store.AllocateInode(fsmeta.KindCharDevice, attr)
		t.store.LinkIntoParent(devDir, d.name, ino)
	}
}

// Init constructs a CageTable and starts its root cage rooted at "/".
func Init(gateway *hostio.Gateway, devID uint64, opts ...Option) (*CageTable, *Cage) {
	t := NewCageTable(gateway, devID, opts...)
	root := t.initRootCage()
	return t, root
}

func (t *CageTable) initRootCage() *Cage {
	t.mu.Lock()
	defer t.mu.Unlock()

	id := t.nextID
	t.nextID++

	c := newCage(id, 0, t, "/")
	t.cages[id] = c
	return c
}

// Get returns the live cage with the given id, if any.
func (t *CageTable) Get(id int32) (*Cage, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	c, ok := t.cages[id]
	return c, ok
}

// Fork creates a new cage that inherits parent's working directory and fd
// table by reference sharing, POSIX fork style: the child's descriptors
// alias the parent's and observe the same seek positions, exactly as Dup
// aliases two fds within one cage.
func (t *CageTable) Fork(parentID int32) (*Cage, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	parent, ok := t.cages[parentID]
	if !ok {
		return nil, fmt.Errorf("lindcage: fork: unknown parent cage %d", parentID)
	}

	id := t.nextID
	t.nextID++

	parent.mu.Lock()
	cwd := parent.cwd
	c := &Cage{id: id, parentID: parentID, table: t, cwd: cwd, fds: make(map[int]*sharedDescriptor, len(parent.fds))}
	for fd, sd := range parent.fds {
		sd.addAlias()
		c.fds[fd] = sd
	}
	parent.mu.Unlock()

	t.cages[id] = c
	return c, nil
}

// remove drops id from the live cage set. Called by Cage.Exit once its
// descriptors have all been released.
func (t *CageTable) remove(id int32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.cages, id)
}

// Finalize tears down every remaining cage. It is idempotent: calling it
// twice, or calling it after every cage has already exited on its own, is a
// no-op.
func (t *CageTable) Finalize() {
	t.mu.Lock()
	remaining := make([]*Cage, 0, len(t.cages))
	for _, c := range t.cages {
		remaining = append(remaining, c)
	}
	t.mu.Unlock()

	for _, c := range remaining {
		c.Exit(nil)
	}
}

// Recent returns the most recent diagnostic records recorded by failed
// syscalls across every cage.
func (t *CageTable) Recent() []cagetrace.Record { return t.trace.Recent() }

func (t *CageTable) startSpan(ctx context.Context, name string) (context.Context, *cagetrace.Span) {
	if ctx == nil {
		ctx = context.Background()
	}
	return cagetrace.Start(ctx, name, t.log, t.trace)
}

func (t *CageTable) logger(calldepth int, format string, v ...interface{}) {
	if t.log != nil {
		t.log(calldepth+1, format, v...)
	}
}
