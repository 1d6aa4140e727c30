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

package hostio_test

import (
	"io/ioutil"
	"os"
	"testing"

	"github.com/jacobsa/timeutil"
	"github.com/lindcage/lindcage/hostio"
	. "github.com/jacobsa/ogletest"
)

func TestGateway(t *testing.T) { RunTests(t) }

type GatewayTest struct {
	clock  timeutil.SimulatedClock
	tmpDir string
	gw     *hostio.Gateway
}

func init() { RegisterTestSuite(&GatewayTest{}) }

func (t *GatewayTest) SetUp(ti *TestInfo) {
	var err error
	t.tmpDir, err = ioutil.TempDir("", "lindcage-hostio-test")
	AssertEq(nil, err)

	t.gw, err = hostio.NewGateway(&t.clock, t.tmpDir)
	AssertEq(nil, err)
}

func (t *GatewayTest) TearDown() {
	os.RemoveAll(t.tmpDir)
}

func (t *GatewayTest) ReopeningAnOpenNameFails() {
	h, err := t.gw.OpenFile("dup.dat", true)
	AssertEq(nil, err)
	defer h.Close()

	_, err = t.gw.OpenFile("dup.dat", true)
	ExpectEq(hostio.ErrFileInUse, err)
}

func (t *GatewayTest) CloseFreesTheNameForReopen() {
	h, err := t.gw.OpenFile("reuse.dat", true)
	AssertEq(nil, err)
	AssertEq(nil, h.Close())

	h2, err := t.gw.OpenFile("reuse.dat", true)
	AssertEq(nil, err)
	AssertEq(nil, h2.Close())
}

func (t *GatewayTest) RemoveFileRejectsOpenName() {
	h, err := t.gw.OpenFile("busy.dat", true)
	AssertEq(nil, err)
	defer h.Close()

	if err := t.gw.RemoveFile("busy.dat"); err == nil {
		AddFailure("RemoveFile on an open name succeeded; want an error")
	}
}

func (t *GatewayTest) WriteAtExtendsThenReadAtSeesIt() {
	h, err := t.gw.OpenFile("content.dat", true)
	AssertEq(nil, err)
	defer h.Close()

	n, err := h.WriteAt([]byte("hello"), 0)
	AssertEq(nil, err)
	ExpectEq(5, n)

	buf := make([]byte, 5)
	n, err = h.ReadAt(buf, 0)
	AssertTrue(err == nil || n == 5)
	ExpectEq(5, n)
	ExpectEq("hello", string(buf))
}

func (t *GatewayTest) FillZeroAndFillRandom() {
	zeros := make([]byte, 32)
	for i := range zeros {
		zeros[i] = 0xff
	}
	ExpectEq(32, t.gw.FillZero(zeros))
	for _, b := range zeros {
		ExpectEq(byte(0), b)
	}

	random := make([]byte, 32)
	ExpectEq(32, t.gw.FillRandom(random))
}
