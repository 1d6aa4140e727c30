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

package lindcage_test

import (
	"io/ioutil"
	"os"
	"testing"
	"time"

	"github.com/jacobsa/timeutil"
	"github.com/kylelemons/godebug/pretty"
	"github.com/lindcage/lindcage"
	"github.com/lindcage/lindcage/hostio"
	"golang.org/x/net/context"
	"golang.org/x/sys/unix"
	. "github.com/jacobsa/oglematchers"
	. "github.com/jacobsa/ogletest"
)

func TestCage(t *testing.T) { RunTests(t) }

type CageTest struct {
	clock   timeutil.SimulatedClock
	tmpDir  string
	table   *lindcage.CageTable
	cage    *lindcage.Cage
	ctx     context.Context
}

func init() { RegisterTestSuite(&CageTest{}) }

func (t *CageTest) SetUp(ti *TestInfo) {
	t.clock.SetTime(time.Date(2012, 8, 15, 22, 56, 0, 0, time.Local))

	var err error
	t.tmpDir, err = ioutil.TempDir("", "lindcage-cage-test")
	AssertEq(nil, err)

	gw, err := hostio.NewGateway(&t.clock, t.tmpDir)
	AssertEq(nil, err)

	t.table, t.cage = lindcage.Init(gw, 1, lindcage.WithClock(&t.clock))
	t.ctx = context.Background()
}

func (t *CageTest) TearDown() {
	os.RemoveAll(t.tmpDir)
}

// Scenario 1: write then read round-trip.
func (t *CageTest) WriteThenReadRoundTrip() {
	fd := t.cage.Open(t.ctx, "/foobar", unix.O_CREAT|unix.O_TRUNC|unix.O_RDWR, 0o777)
	AssertTrue(fd >= 0)

	ExpectEq(12, t.cage.Write(t.ctx, fd, []byte("hello there!")))
	ExpectEq(0, t.cage.Lseek(t.ctx, fd, 0, lindcage.SeekSet))

	buf := make([]byte, 5)
	ExpectEq(5, t.cage.Read(t.ctx, fd, buf))
	ExpectEq("hello", string(buf))

	ExpectEq(6, t.cage.Write(t.ctx, fd, []byte(" world")))
	ExpectEq(0, t.cage.Lseek(t.ctx, fd, 0, lindcage.SeekSet))

	buf = make([]byte, 12)
	ExpectEq(12, t.cage.Read(t.ctx, fd, buf))
	ExpectEq("hello world!", string(buf))
}

// Scenario 2: positional I/O never disturbs the descriptor's seek position.
func (t *CageTest) PositionalIO() {
	fd := t.cage.Open(t.ctx, "/foobar2", unix.O_CREAT|unix.O_TRUNC|unix.O_RDWR, 0o777)
	AssertTrue(fd >= 0)

	ExpectEq(12, t.cage.Pwrite(t.ctx, fd, []byte("hello there!"), 0))

	buf := make([]byte, 5)
	ExpectEq(5, t.cage.Pread(t.ctx, fd, buf, 0))
	ExpectEq("hello", string(buf))

	ExpectEq(6, t.cage.Pwrite(t.ctx, fd, []byte(" world"), 5))

	buf = make([]byte, 12)
	ExpectEq(12, t.cage.Pread(t.ctx, fd, buf, 0))
	ExpectEq("hello world!", string(buf))
}

// Scenario 3: /dev/zero reads back nulls regardless of what was written.
func (t *CageTest) CharacterDevices() {
	fd := t.cage.Open(t.ctx, "/dev/zero", unix.O_RDWR, 0o777)
	AssertTrue(fd >= 0)

	payload := make([]byte, 55)
	for i := range payload {
		payload[i] = 'x'
	}
	ExpectEq(55, t.cage.Pwrite(t.ctx, fd, payload, 0))

	buf := make([]byte, 1000)
	for i := range buf {
		buf[i] = 'z'
	}
	ExpectEq(1000, t.cage.Pread(t.ctx, fd, buf, 0))

	for i, b := range buf {
		if b != 0 {
			AddFailure("buf[%d] = %d, want 0", i, b)
			break
		}
	}
}

// Scenario 4: dup aliases share one seek position.
func (t *CageTest) DupSharesSeekPosition() {
	fd := t.cage.Open(t.ctx, "/dupfile", unix.O_CREAT|unix.O_TRUNC|unix.O_RDWR, 0o777)
	AssertTrue(fd >= 0)

	ExpectEq(2, t.cage.Write(t.ctx, fd, []byte("12")))

	fd2 := t.cage.Dup(t.ctx, fd)
	AssertTrue(fd2 >= 0)
	fd3 := t.cage.Dup(t.ctx, fd)
	AssertTrue(fd3 >= 0)
	ExpectEq(0, t.cage.Close(t.ctx, fd3))

	end1 := t.cage.Lseek(t.ctx, fd, 0, lindcage.SeekEnd)
	end2 := t.cage.Lseek(t.ctx, fd2, 0, lindcage.SeekEnd)
	ExpectEq(2, end1)
	ExpectEq(2, end2)

	ExpectEq(2, t.cage.Write(t.ctx, fd, []byte("34")))
	ExpectEq(4, t.cage.Lseek(t.ctx, fd, 0, lindcage.SeekCur))
	ExpectEq(4, t.cage.Lseek(t.ctx, fd2, 0, lindcage.SeekCur))
}

// Scenario 5: bind EADDRINUSE semantics, gated by SO_REUSEPORT and socket type.
func (t *CageTest) BindSemantics() {
	addr := lindcage.SockAddr{V4Addr: [4]byte{127, 0, 0, 1}, Port: 50102}

	s1 := t.cage.Socket(t.ctx, lindcage.AFInet, lindcage.SockStream, 0)
	AssertTrue(s1 >= 0)
	ExpectEq(0, t.cage.Bind(t.ctx, s1, addr))

	ExpectLt(t.cage.Bind(t.ctx, s1, addr), 0) // already bound -> -EINVAL

	s2 := t.cage.Socket(t.ctx, lindcage.AFInet, lindcage.SockStream, 0)
	AssertTrue(s2 >= 0)
	ExpectLt(t.cage.Bind(t.ctx, s2, addr), 0) // -EADDRINUSE

	s3 := t.cage.Socket(t.ctx, lindcage.AFInet, lindcage.SockDgram, 0)
	AssertTrue(s3 >= 0)
	ExpectEq(0, t.cage.Bind(t.ctx, s3, addr)) // different type, ok
}

// Scenario 6: getsockname before/after bind.
func (t *CageTest) GetsocknameBeforeAndAfterBind() {
	s := t.cage.Socket(t.ctx, lindcage.AFInet, lindcage.SockStream, 0)
	AssertTrue(s >= 0)

	var addr lindcage.SockAddr
	ExpectEq(0, t.cage.Getsockname(t.ctx, s, &addr))
	ExpectEq(uint16(0), addr.Port)
	ExpectThat(addr.V4Addr, DeepEquals([4]byte{}))

	want := lindcage.SockAddr{V4Addr: [4]byte{127, 0, 0, 1}, Port: 50109}
	ExpectEq(0, t.cage.Bind(t.ctx, s, want))

	ExpectEq(0, t.cage.Getsockname(t.ctx, s, &addr))
	ExpectEq(want.Port, addr.Port)
	ExpectThat(addr.V4Addr, DeepEquals(want.V4Addr))
}

// Property: after an open/close round trip with no other operations,
// refcount returns to its pre-open value — here, zero descriptors open.
func (t *CageTest) OpenCloseRoundTripRestoresState() {
	fd := t.cage.Open(t.ctx, "/roundtrip", unix.O_CREAT|unix.O_TRUNC|unix.O_RDWR, 0o644)
	AssertTrue(fd >= 0)
	ExpectEq(0, t.cage.Close(t.ctx, fd))

	fd2 := t.cage.Open(t.ctx, "/roundtrip", unix.O_RDWR, 0)
	AssertTrue(fd2 >= 0)
	ExpectEq(0, t.cage.Close(t.ctx, fd2))
}

func (t *CageTest) UnknownPathYieldsENOENT() {
	var st lindcage.Stat
	ExpectEq(-int(lindcage.ENOENT), t.cage.Stat(t.ctx, "/does/not/exist", &st))

	records := t.table.Recent()
	AssertTrue(len(records) > 0)
	last := records[len(records)-1]
	ExpectEq("stat", last.Syscall)
	ExpectEq(lindcage.ENOENT, last.Errno)
}

func (t *CageTest) FstatOnADirectory() {
	fd := t.cage.Open(t.ctx, "/dev", unix.O_RDONLY, 0)
	AssertTrue(fd >= 0)

	var st lindcage.Stat
	ExpectEq(0, t.cage.Fstat(t.ctx, fd, &st))
	ExpectEq(uint32(0o755), st.Mode)

	buf := make([]byte, 4)
	ExpectEq(-int(lindcage.EISDIR), t.cage.Read(t.ctx, fd, buf))

	ExpectEq(0, t.cage.Close(t.ctx, fd))
}

// Property: two O_CREAT|O_EXCL opens of the same missing path from two
// cages racing each other: exactly one wins a descriptor, the other gets
// EEXIST.
func (t *CageTest) ExclusiveCreateRace() {
	child, err := t.table.Fork(t.cage.ID())
	AssertEq(nil, err)

	results := make(chan int, 2)
	for _, c := range []*lindcage.Cage{t.cage, child} {
		c := c
		go func() {
			results <- c.Open(t.ctx, "/exclusive", unix.O_CREAT|unix.O_EXCL|unix.O_RDWR, 0o644)
		}()
	}

	a, b := <-results, <-results
	if a > b {
		a, b = b, a
	}
	ExpectEq(-int(lindcage.EEXIST), a)
	ExpectTrue(b >= 0)

	child.Exit(t.ctx)
}

func (t *CageTest) MkdirThenChdir() {
	ExpectEq(0, t.cage.Mkdir(t.ctx, "/sub", 0o755))
	ExpectEq(0, t.cage.Chdir(t.ctx, "/sub"))
	ExpectEq("/sub", t.cage.Cwd())

	fd := t.cage.Open(t.ctx, "relative.txt", unix.O_CREAT|unix.O_RDWR, 0o644)
	AssertTrue(fd >= 0)

	var st lindcage.Stat
	ExpectEq(0, t.cage.Stat(t.ctx, "/sub/relative.txt", &st))
}

// Unlink of a still-open file defers reclaim to last close.
func (t *CageTest) UnlinkOfOpenFileDefersReclaim() {
	fd := t.cage.Open(t.ctx, "/unlinkme", unix.O_CREAT|unix.O_TRUNC|unix.O_RDWR, 0o644)
	AssertTrue(fd >= 0)
	ExpectEq(4, t.cage.Write(t.ctx, fd, []byte("data")))

	ExpectEq(0, t.cage.Unlink(t.ctx, "/unlinkme"))

	var st lindcage.Stat
	ExpectLt(t.cage.Stat(t.ctx, "/unlinkme", &st), 0)

	buf := make([]byte, 4)
	ExpectEq(4, t.cage.Pread(t.ctx, fd, buf, 0))
	ExpectEq("data", string(buf))

	ExpectEq(0, t.cage.Close(t.ctx, fd))
}

// Double close returns EBADF the second time.
func (t *CageTest) DoubleCloseIsEBADF() {
	fd := t.cage.Open(t.ctx, "/closeme", unix.O_CREAT|unix.O_RDWR, 0o644)
	AssertTrue(fd >= 0)
	ExpectEq(0, t.cage.Close(t.ctx, fd))
	ExpectLt(t.cage.Close(t.ctx, fd), 0)
}

// Fork shares the parent's fd table by reference, so a forked cage's
// descriptors observe the same seek position as the parent's.
func (t *CageTest) ForkSharesFdTableByReference() {
	fd := t.cage.Open(t.ctx, "/forkfile", unix.O_CREAT|unix.O_TRUNC|unix.O_RDWR, 0o644)
	AssertTrue(fd >= 0)
	ExpectEq(2, t.cage.Write(t.ctx, fd, []byte("ab")))

	child, err := t.table.Fork(t.cage.ID())
	AssertEq(nil, err)

	ExpectEq(2, child.Lseek(t.ctx, fd, 0, lindcage.SeekCur))

	ExpectEq(2, child.Write(t.ctx, fd, []byte("cd")))
	ExpectEq(4, t.cage.Lseek(t.ctx, fd, 0, lindcage.SeekCur))

	buf := make([]byte, 4)
	ExpectEq(4, t.cage.Pread(t.ctx, fd, buf, 0))
	ExpectEq("abcd", string(buf))

	child.Exit(t.ctx)
}

// Mknod creates a character device that behaves per its device number.
func (t *CageTest) MknodCreatesACharacterDevice() {
	ExpectEq(0, t.cage.Mknod(t.ctx, "/mynull", 0o666, lindcage.DevNullMajor, lindcage.DevNullMinor))

	fd := t.cage.Open(t.ctx, "/mynull", unix.O_RDWR, 0)
	AssertTrue(fd >= 0)

	ExpectEq(4, t.cage.Write(t.ctx, fd, []byte("gone")))

	buf := make([]byte, 16)
	ExpectEq(0, t.cage.Read(t.ctx, fd, buf))

	ExpectEq(0, t.cage.Close(t.ctx, fd))

	ExpectLt(t.cage.Mknod(t.ctx, "/mynull", 0o666, lindcage.DevNullMajor, lindcage.DevNullMinor), 0)
}

// Fsync succeeds on a regular file and rejects unknown fds.
func (t *CageTest) FsyncFlushesARegularFile() {
	fd := t.cage.Open(t.ctx, "/syncme", unix.O_CREAT|unix.O_TRUNC|unix.O_RDWR, 0o644)
	AssertTrue(fd >= 0)

	ExpectEq(5, t.cage.Write(t.ctx, fd, []byte("fsync")))
	ExpectEq(0, t.cage.Fsync(t.ctx, fd))

	ExpectEq(0, t.cage.Close(t.ctx, fd))
	ExpectLt(t.cage.Fsync(t.ctx, fd), 0)
}

// Stat reports the cumulative size of sequential writes, and every field a
// fresh regular file should carry.
func (t *CageTest) StatReflectsWrites() {
	fd := t.cage.Open(t.ctx, "/sized", unix.O_CREAT|unix.O_TRUNC|unix.O_RDWR, 0o644)
	AssertTrue(fd >= 0)

	ExpectEq(3, t.cage.Write(t.ctx, fd, []byte("abc")))
	ExpectEq(3, t.cage.Write(t.ctx, fd, []byte("def")))

	var got lindcage.Stat
	AssertEq(0, t.cage.Stat(t.ctx, "/sized", &got))

	now := t.clock.Now()
	want := lindcage.Stat{
		Dev:   1,
		Ino:   got.Ino,
		Mode:  0o644,
		Nlink: 1,
		Size:  6,
		Atime: now,
		Mtime: now,
		Ctime: now,
	}

	if diff := pretty.Compare(want, got); diff != "" {
		AddFailure("Stat mismatch (-want +got):\n%s", diff)
	}
}
