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

package fsmeta

import "strings"

// Normalize converts a possibly-relative path to an absolute, normalized
// path: cwd is prepended when raw does not already start with "/", then "."
// and ".." components and redundant separators are collapsed. The result
// always starts with "/" and never ends with "/" unless it is the root
// itself.
func Normalize(cwd, raw string) string {
	full := raw
	if !strings.HasPrefix(raw, "/") {
		full = cwd + "/" + raw
	}

	parts := strings.Split(full, "/")
	var stack []string
	for _, p := range parts {
		switch p {
		case "", ".":
			continue
		case "..":
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		default:
			stack = append(stack, p)
		}
	}

	if len(stack) == 0 {
		return "/"
	}
	return "/" + strings.Join(stack, "/")
}

// Components splits a normalized absolute path into its non-empty
// components. Components("/") returns an empty slice.
func Components(normalized string) []string {
	trimmed := strings.Trim(normalized, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

// WalkResult is the outcome of WalkWithParent: the terminal component's
// inode (if any) and its parent directory's inode (if any);
// HasChild/HasParent report presence.
type WalkResult struct {
	Child     InodeNum
	HasChild  bool
	Parent    InodeNum
	HasParent bool
}

// Walk resolves normalized to the inode number of its terminal component,
// returning ok == false if any component along the way is missing or if a
// non-directory is crossed.
//
// SHARED_LOCKS_REQUIRED(s.mu)
func (s *Store) Walk(normalized string) (InodeNum, bool) {
	wr := s.WalkWithParent(normalized)
	return wr.Child, wr.HasChild
}

// WalkWithParent resolves normalized and also returns the inode of the
// terminal component's parent directory, when one exists. The walk fails at
// the first missing component; crossing a non-directory component yields
// (false, false) for both child and parent, leaving it to the caller to
// decide between ENOTDIR and ENOENT based on which syscall is asking.
//
// SHARED_LOCKS_REQUIRED(s.mu)
func (s *Store) WalkWithParent(normalized string) WalkResult {
	comps := Components(normalized)

	current := s.root
	var parent InodeNum
	haveParent := false

	if len(comps) == 0 {
		return WalkResult{Child: s.root, HasChild: true}
	}

	for i, name := range comps {
		dir, ok := s.inodes[current]
		if !ok || !dir.IsDir() {
			return WalkResult{}
		}

		child, ok := dir.Children[name]
		if !ok {
			if i == len(comps)-1 {
				return WalkResult{Parent: current, HasParent: true}
			}
			return WalkResult{}
		}

		parent = current
		haveParent = true
		current = child
	}

	return WalkResult{Child: current, HasChild: true, Parent: parent, HasParent: haveParent}
}
