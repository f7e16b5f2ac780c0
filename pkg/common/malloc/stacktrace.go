// Copyright 2025 The varbox Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package malloc

import (
	"hash/maphash"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"unsafe"
)

// StacktraceID identifies an interned call stack. Stacks are kept forever;
// the number of distinct allocation sites is bounded in practice.
type StacktraceID uint64

func GetStacktraceID(skip int) StacktraceID {
	pcs := pcsPool.Get().(*[]uintptr)

	n := runtime.Callers(2+skip, *pcs)
	*pcs = (*pcs)[:n]

	hasher := hasherPool.Get().(*maphash.Hash)
	defer func() {
		hasher.Reset()
		hasherPool.Put(hasher)
	}()
	for _, pc := range *pcs {
		hasher.Write(
			unsafe.Slice((*byte)(unsafe.Pointer(&pc)), unsafe.Sizeof(pc)),
		)
	}
	id := StacktraceID(hasher.Sum64())

	if _, ok := stackIDToPCs.Load(id); ok {
		// recycle
		*pcs = (*pcs)[:cap(*pcs)]
		pcsPool.Put(pcs)
		return id
	}

	_, loaded := stackIDToPCs.LoadOrStore(id, pcs)
	if loaded {
		// recycle
		*pcs = (*pcs)[:cap(*pcs)]
		pcsPool.Put(pcs)
	}

	return id
}

var stackIDToPCs sync.Map // StacktraceID -> *[]uintptr

var pcsPool = sync.Pool{
	New: func() any {
		slice := make([]uintptr, 64)
		return &slice
	},
}

var hasherPool = sync.Pool{
	New: func() any {
		hasher := new(maphash.Hash)
		hasher.SetSeed(hashSeed)
		return hasher
	},
}

var hashSeed = maphash.MakeSeed()

func (s StacktraceID) PCs() []uintptr {
	v, ok := stackIDToPCs.Load(s)
	if !ok {
		panic("bad stack id")
	}
	return *(v.(*[]uintptr))
}

func (s StacktraceID) String() string {
	return pcsToString(s.PCs())
}

func pcsToString(pcs []uintptr) string {
	buf := new(strings.Builder)

	frames := runtime.CallersFrames(pcs)
	for {
		frame, more := frames.Next()

		buf.WriteString(frame.Function)
		buf.WriteString("\n")
		buf.WriteString("\t")
		buf.WriteString(frame.File)
		buf.WriteString(":")
		buf.WriteString(strconv.Itoa(frame.Line))
		buf.WriteString("\n")

		if !more {
			break
		}
	}

	return buf.String()
}
