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

import "sync"

// SocketState is a state in the socket descriptor state machine:
// Unbound -> Bound -> Connected.
type SocketState int

const (
	SocketUnbound SocketState = iota
	SocketBound
	SocketConnected
)

// Domain/type constants, spelled out here rather than imported from the
// syscall package so the surface is usable without a specific OS's socket
// constant values in mind. The values are Linux's: callers on Linux that
// already have unix.AF_INET etc. can pass them through unchanged, but
// elsewhere AF_INET6 may differ (Darwin uses 30).
const (
	AFInet     = 2
	AFInet6    = 10
	SockStream = 1
	SockDgram  = 2
)

const SOReusePort = 1 << 0

// SockAddr is a socket address, either IPv4 or IPv6 per the V6 tag.
type SockAddr struct {
	V6   bool
	Port uint16

	// V4 fields.
	V4Addr [4]byte

	// V6 fields.
	V6Addr   [16]byte
	FlowInfo uint32
	ScopeID  uint32
}

func (a SockAddr) equalAddr(b SockAddr) bool {
	if a.V6 != b.V6 {
		return false
	}
	if a.V6 {
		return a.V6Addr == b.V6Addr
	}
	return a.V4Addr == b.V4Addr
}

// socketState is the mutable state of one Socket file descriptor.
type socketState struct {
	domain, typ, protocol int
	local, remote         *SockAddr
	state                 SocketState
	options               uint32
}

func (s *socketState) reusePort() bool {
	return s.options&SOReusePort != 0
}

// bindKey identifies a (local address, port, socket type) tuple for the
// purposes of EADDRINUSE checking: two sockets of different types may share
// a port, but two of the same type may not unless both opted into
// SO_REUSEPORT before bind.
type bindKey struct {
	addr SockAddr
	typ  int
}

// socketRegistry is process-wide (owned by CageTable) bind-address
// bookkeeping.
type socketRegistry struct {
	mu    sync.Mutex
	bound map[bindKey][]*sharedDescriptor
}

func newSocketRegistry() *socketRegistry {
	return &socketRegistry{bound: make(map[bindKey][]*sharedDescriptor)}
}

// bind attempts to claim addr for sd. It returns EADDRINUSE if another
// socket of the same type already holds addr and the two don't mutually
// agree to SO_REUSEPORT.
func (r *socketRegistry) bind(sd *sharedDescriptor, addr SockAddr) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := bindKey{addr: addr, typ: sd.sock.typ}
	holders := r.bound[key]

	for _, h := range holders {
		h.mu.RLock()
		reusable := h.sock.reusePort()
		h.mu.RUnlock()

		if !reusable || !sd.sock.reusePort() {
			return errnoResult(EADDRINUSE)
		}
	}

	r.bound[key] = append(holders, sd)
	return 0
}

// release removes sd from every bind-address entry it holds. Called when sd
// is closed for good (aliasCount reaches zero).
func (r *socketRegistry) release(sd *sharedDescriptor) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for key, holders := range r.bound {
		for i, h := range holders {
			if h == sd {
				r.bound[key] = append(holders[:i], holders[i+1:]...)
				break
			}
		}
		if len(r.bound[key]) == 0 {
			delete(r.bound, key)
		}
	}
}
