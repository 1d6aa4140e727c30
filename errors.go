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

import "golang.org/x/sys/unix"

// Errno values a syscall may return as -errno. These are
// golang.org/x/sys/unix's errno constants, re-exported so callers need not
// import unix directly.
const (
	ENOENT     = unix.ENOENT
	EEXIST     = unix.EEXIST
	EBADF      = unix.EBADF
	EISDIR     = unix.EISDIR
	ENOTDIR    = unix.ENOTDIR
	EACCES     = unix.EACCES
	ENFILE     = unix.ENFILE
	EINVAL     = unix.EINVAL
	EPERM      = unix.EPERM
	EADDRINUSE = unix.EADDRINUSE
	EOPNOTSUPP = unix.EOPNOTSUPP
	ENOTCONN   = unix.ENOTCONN
	ENOTEMPTY  = unix.ENOTEMPTY
	EISCONN    = unix.EISCONN
)

// errnoResult turns a POSIX errno into the negative-int return value
// syscalls use to signal failure.
func errnoResult(e unix.Errno) int { return -int(e) }
