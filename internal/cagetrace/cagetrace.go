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

// Package cagetrace adapts reqtrace spans and the log sink into the
// (syscall, detail, errno) diagnostic records that failed syscalls emit.
package cagetrace

import (
	"fmt"
	"sync"

	"github.com/jacobsa/reqtrace"
	"golang.org/x/net/context"
	"golang.org/x/sys/unix"
)

// Logger is a calldepth-aware logging function, so the same adapter can
// sit in front of either the standard log package or a test-capturing
// sink.
type Logger func(calldepth int, format string, v ...interface{})

// Record is one diagnostic emitted by an errno-producing syscall.
type Record struct {
	Syscall string
	Detail  string
	Errno   unix.Errno
}

// Ring is a small fixed-capacity ring buffer of recent diagnostics, enough
// for tests and interactive debugging to inspect what went wrong without
// wiring up an external sink.
type Ring struct {
	mu       sync.Mutex
	capacity int
	records  []Record
}

// NewRing returns a Ring holding at most capacity records.
func NewRing(capacity int) *Ring {
	return &Ring{capacity: capacity}
}

// Push appends rec, evicting the oldest record if the ring is full.
func (r *Ring) Push(rec Record) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.records = append(r.records, rec)
	if len(r.records) > r.capacity {
		r.records = r.records[len(r.records)-r.capacity:]
	}
}

// Recent returns a copy of the records currently held, oldest first.
func (r *Ring) Recent() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Record, len(r.records))
	copy(out, r.records)
	return out
}

// Span wraps one syscall invocation: it opens a reqtrace span named name,
// and on Finish logs and records the outcome.
type Span struct {
	name   string
	log    Logger
	ring   *Ring
	ctx    context.Context
	report reqtrace.ReportFunc
}

// Start begins a span for the syscall named name.
func Start(ctx context.Context, name string, log Logger, ring *Ring) (context.Context, *Span) {
	spanCtx, report := reqtrace.StartSpan(ctx, name)
	return spanCtx, &Span{name: name, log: log, ring: ring, ctx: spanCtx, report: report}
}

// Finish reports result (a syscall return value: >= 0 success, -errno
// failure) to the trace span, and on failure logs and records a diagnostic
// with detail.
func (s *Span) Finish(result int, detail string) {
	if result >= 0 {
		s.report(nil)
		if s.log != nil {
			s.log(2, "-> (%s) ok: %d", s.name, result)
		}
		return
	}

	errno := unix.Errno(-result)
	s.report(errno)

	if s.log != nil {
		s.log(2, "-> (%s) error: %s (%v)", s.name, detail, errno)
	}
	if s.ring != nil {
		s.ring.Push(Record{Syscall: s.name, Detail: detail, Errno: errno})
	}
}

// DefaultLogger adapts the standard log package to the Logger shape.
func DefaultLogger(calldepth int, format string, v ...interface{}) {
	msg := fmt.Sprintf(format, v...)
	_ = stdLogOutput(calldepth+1, msg)
}
