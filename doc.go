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

// Package lindcage implements a user-space POSIX-like kernel personality: a
// set of process-like "cages", each with its own file-descriptor table and
// current working directory, that invoke kernel-like syscalls against a
// filesystem tree shared across cages.
//
// The primary elements of interest are:
//
//   - CageTable, the process-wide registry of cages, created with Init.
//
//   - Cage, which exposes the syscall surface (Open, Read, Write, Stat,
//     Dup, Bind, Connect, ...).
//
//   - Package fsmeta, which holds the actual inode table and directory
//     tree that every Cage's syscalls operate against.
//
// Actual positional byte I/O against host files is delegated to package
// hostio; cooperative locking between cages is provided by package
// advisorylock.
package lindcage
