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

import "github.com/lindcage/lindcage/fsmeta"

// Well-known character device (major, minor) pairs.
const (
	DevNullMajor, DevNullMinor       = 1, 3
	DevZeroMajor, DevZeroMinor       = 1, 5
	DevRandomMajor, DevRandomMinor   = 1, 8
	DevURandomMajor, DevURandomMinor = 1, 9
)

// readCharDevice implements read(2) for the four well-known devices: null
// always reads zero bytes, zero and the two random devices fill buf.
func (c *Cage) readCharDevice(in *fsmeta.Inode, buf []byte) int {
	switch {
	case in.Attr.Major == DevNullMajor && in.Attr.Minor == DevNullMinor:
		return 0
	case in.Attr.Major == DevZeroMajor && in.Attr.Minor == DevZeroMinor:
		return c.table.gateway.FillZero(buf)
	case in.Attr.Major == DevRandomMajor && in.Attr.Minor == DevRandomMinor,
		in.Attr.Major == DevURandomMajor && in.Attr.Minor == DevURandomMinor:
		return c.table.gateway.FillRandom(buf)
	default:
		return errnoResult(EOPNOTSUPP)
	}
}

// writeCharDevice implements write(2) for the well-known devices: each
// accepts and silently discards the write, still reporting the full count
// back to the caller.
func (c *Cage) writeCharDevice(in *fsmeta.Inode, buf []byte) int {
	switch {
	case in.Attr.Major == DevNullMajor && in.Attr.Minor == DevNullMinor,
		in.Attr.Major == DevZeroMajor && in.Attr.Minor == DevZeroMinor,
		in.Attr.Major == DevRandomMajor && in.Attr.Minor == DevRandomMinor,
		in.Attr.Major == DevURandomMajor && in.Attr.Minor == DevURandomMinor:
		return len(buf)
	default:
		return errnoResult(EOPNOTSUPP)
	}
}
