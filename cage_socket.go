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

	"golang.org/x/net/context"
)

// Socket implements socket(2): it reserves a new fd bound to a fresh,
// unbound socket descriptor.
func (c *Cage) Socket(ctx context.Context, domain, typ, protocol int) int {
	_, finish := c.span(ctx, "socket")
	var result int
	defer func() { finish(result, fmt.Sprintf("domain=%d type=%d", domain, typ)) }()

	if domain != AFInet && domain != AFInet6 {
		result = errnoResult(EOPNOTSUPP)
		return result
	}
	if typ != SockStream && typ != SockDgram {
		result = errnoResult(EOPNOTSUPP)
		return result
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	fd, ok := c.reserveFD(0, false)
	if !ok {
		result = errnoResult(ENFILE)
		return result
	}

	c.fds[fd] = newSocketDescriptor(domain, typ, protocol)
	result = fd
	return result
}

func (c *Cage) socketDescriptor(fd int) (*sharedDescriptor, int) {
	c.mu.RLock()
	sd, ok := c.fds[fd]
	c.mu.RUnlock()
	if !ok {
		return nil, errnoResult(EBADF)
	}
	if sd.kind != descSocket {
		return nil, errnoResult(EBADF)
	}
	return sd, 0
}

// Bind implements bind(2): claims addr process-wide for fd's socket,
// failing with EADDRINUSE unless every same-type holder of addr, and the
// caller, set SO_REUSEPORT before bind.
func (c *Cage) Bind(ctx context.Context, fd int, addr SockAddr) int {
	_, finish := c.span(ctx, "bind")
	var result int
	defer func() { finish(result, fmt.Sprintf("fd=%d", fd)) }()

	sd, errRes := c.socketDescriptor(fd)
	if sd == nil {
		result = errRes
		return result
	}

	sd.mu.Lock()
	defer sd.mu.Unlock()

	if sd.sock.state != SocketUnbound {
		result = errnoResult(EINVAL)
		return result
	}

	if rc := c.table.sockets.bind(sd, addr); rc != 0 {
		result = rc
		return result
	}

	local := addr
	sd.sock.local = &local
	sd.sock.state = SocketBound
	result = 0
	return result
}

// Connect implements connect(2): records remote as fd's peer and advances
// the socket to Connected, regardless of whether addr is actually reachable
// (there is no real network datapath behind these sockets). Only SOCK_DGRAM
// sockets may re-connect once already Connected, re-targeting the remote
// address in place; other types get EISCONN.
func (c *Cage) Connect(ctx context.Context, fd int, addr SockAddr) int {
	_, finish := c.span(ctx, "connect")
	var result int
	defer func() { finish(result, fmt.Sprintf("fd=%d", fd)) }()

	sd, errRes := c.socketDescriptor(fd)
	if sd == nil {
		result = errRes
		return result
	}

	sd.mu.Lock()
	defer sd.mu.Unlock()

	if sd.sock.state == SocketConnected && sd.sock.typ != SockDgram {
		result = errnoResult(EISCONN)
		return result
	}

	remote := addr
	sd.sock.remote = &remote
	sd.sock.state = SocketConnected
	result = 0
	return result
}

// Getsockname implements getsockname(2). Before bind, the socket's local
// address is the unspecified address of its domain (port/address all zero),
// matching POSIX's "not yet bound" behavior rather than erroring.
func (c *Cage) Getsockname(ctx context.Context, fd int, out *SockAddr) int {
	_, finish := c.span(ctx, "getsockname")
	var result int
	defer func() { finish(result, fmt.Sprintf("fd=%d", fd)) }()

	sd, errRes := c.socketDescriptor(fd)
	if sd == nil {
		result = errRes
		return result
	}

	sd.mu.RLock()
	defer sd.mu.RUnlock()

	if sd.sock.local != nil {
		*out = *sd.sock.local
	} else {
		*out = SockAddr{V6: sd.sock.domain == AFInet6}
	}
	result = 0
	return result
}

// Getpeername implements getpeername(2): ENOTCONN until Connect has run.
func (c *Cage) Getpeername(ctx context.Context, fd int, out *SockAddr) int {
	_, finish := c.span(ctx, "getpeername")
	var result int
	defer func() { finish(result, fmt.Sprintf("fd=%d", fd)) }()

	sd, errRes := c.socketDescriptor(fd)
	if sd == nil {
		result = errRes
		return result
	}

	sd.mu.RLock()
	defer sd.mu.RUnlock()

	if sd.sock.state != SocketConnected || sd.sock.remote == nil {
		result = errnoResult(ENOTCONN)
		return result
	}

	*out = *sd.sock.remote
	result = 0
	return result
}

// Setsockopt implements setsockopt(2), limited to the options the socket
// state machine actually consults: SO_REUSEPORT. Every other option is
// accepted and ignored rather than rejecting programs that set them.
func (c *Cage) Setsockopt(ctx context.Context, fd int, option uint32, value bool) int {
	_, finish := c.span(ctx, "setsockopt")
	var result int
	defer func() { finish(result, fmt.Sprintf("fd=%d opt=%d", fd, option)) }()

	sd, errRes := c.socketDescriptor(fd)
	if sd == nil {
		result = errRes
		return result
	}

	sd.mu.Lock()
	defer sd.mu.Unlock()

	if option == SOReusePort {
		if value {
			sd.sock.options |= SOReusePort
		} else {
			sd.sock.options &^= SOReusePort
		}
	}

	result = 0
	return result
}
