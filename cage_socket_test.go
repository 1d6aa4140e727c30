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
	"github.com/lindcage/lindcage"
	. "github.com/jacobsa/oglematchers"
	. "github.com/jacobsa/ogletest"
)

// Getpeername before Connect is ENOTCONN.
func (t *CageTest) GetpeernameBeforeConnectIsENOTCONN() {
	s := t.cage.Socket(t.ctx, lindcage.AFInet, lindcage.SockStream, 0)
	AssertTrue(s >= 0)

	var addr lindcage.SockAddr
	ExpectLt(t.cage.Getpeername(t.ctx, s, &addr), 0)
}

// Connect transitions to Connected and getpeername reports the peer.
func (t *CageTest) ConnectThenGetpeername() {
	s := t.cage.Socket(t.ctx, lindcage.AFInet, lindcage.SockStream, 0)
	AssertTrue(s >= 0)

	peer := lindcage.SockAddr{V4Addr: [4]byte{10, 0, 0, 1}, Port: 9000}
	ExpectEq(0, t.cage.Connect(t.ctx, s, peer))

	var addr lindcage.SockAddr
	ExpectEq(0, t.cage.Getpeername(t.ctx, s, &addr))
	ExpectEq(peer.Port, addr.Port)
	ExpectThat(addr.V4Addr, DeepEquals(peer.V4Addr))
}

// A second connect on a SOCK_STREAM socket already Connected is EISCONN;
// SOCK_DGRAM may re-target instead.
func (t *CageTest) ReconnectStreamIsEISCONNButDgramRetargets() {
	stream := t.cage.Socket(t.ctx, lindcage.AFInet, lindcage.SockStream, 0)
	AssertTrue(stream >= 0)
	ExpectEq(0, t.cage.Connect(t.ctx, stream, lindcage.SockAddr{Port: 1}))
	ExpectLt(t.cage.Connect(t.ctx, stream, lindcage.SockAddr{Port: 2}), 0)

	dgram := t.cage.Socket(t.ctx, lindcage.AFInet, lindcage.SockDgram, 0)
	AssertTrue(dgram >= 0)
	ExpectEq(0, t.cage.Connect(t.ctx, dgram, lindcage.SockAddr{Port: 1}))
	ExpectEq(0, t.cage.Connect(t.ctx, dgram, lindcage.SockAddr{Port: 2}))

	var addr lindcage.SockAddr
	ExpectEq(0, t.cage.Getpeername(t.ctx, dgram, &addr))
	ExpectEq(uint16(2), addr.Port)
}

// fstat has nothing sensible to report for a socket descriptor.
func (t *CageTest) FstatOnASocketIsEOPNOTSUPP() {
	s := t.cage.Socket(t.ctx, lindcage.AFInet, lindcage.SockStream, 0)
	AssertTrue(s >= 0)

	var st lindcage.Stat
	ExpectEq(-int(lindcage.EOPNOTSUPP), t.cage.Fstat(t.ctx, s, &st))
}

// SO_REUSEPORT lets two same-type sockets share a bind address.
func (t *CageTest) ReusePortAllowsSharedBind() {
	addr := lindcage.SockAddr{V4Addr: [4]byte{127, 0, 0, 1}, Port: 50200}

	s1 := t.cage.Socket(t.ctx, lindcage.AFInet, lindcage.SockStream, 0)
	AssertTrue(s1 >= 0)
	ExpectEq(0, t.cage.Setsockopt(t.ctx, s1, lindcage.SOReusePort, true))
	ExpectEq(0, t.cage.Bind(t.ctx, s1, addr))

	s2 := t.cage.Socket(t.ctx, lindcage.AFInet, lindcage.SockStream, 0)
	AssertTrue(s2 >= 0)
	ExpectLt(t.cage.Bind(t.ctx, s2, addr), 0) // s2 hasn't opted in yet

	ExpectEq(0, t.cage.Setsockopt(t.ctx, s2, lindcage.SOReusePort, true))
	ExpectEq(0, t.cage.Bind(t.ctx, s2, addr))
}
