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

package util

import (
	"unsafe"
)

// UnsafeBytesToString returns a string sharing the slice's memory. The
// caller must not mutate the slice afterwards.
func UnsafeBytesToString(b []byte) string {
	return *(*string)(unsafe.Pointer(&b))
}

// UnsafeStringToBytes returns a slice sharing the string's memory. The
// returned slice must not be mutated.
func UnsafeStringToBytes(s string) []byte {
	return unsafe.Slice(unsafe.StringData(s), len(s))
}

// UnsafeToBytes views the object pointed to by p as its raw bytes.
func UnsafeToBytes[T any](p *T) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(p)), unsafe.Sizeof(*p))
}

// UnsafeToBytesWithLength views length bytes starting at p.
func UnsafeToBytesWithLength[T any](p *T, length int) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(p)), length)
}

// UnsafeSliceCast reinterprets the backing memory of s as a slice of B.
// The byte length of s must be a multiple of the size of B; a trailing
// partial element is dropped.
func UnsafeSliceCast[B any, A any](s []A) []B {
	if s == nil {
		return nil
	}
	bytes := uintptr(len(s)) * unsafe.Sizeof(*new(A))
	n := bytes / unsafe.Sizeof(*new(B))
	return unsafe.Slice(
		(*B)(unsafe.Pointer(unsafe.SliceData(s))),
		int(n),
	)
}

// UnsafeUintptr returns the address of p. The result carries no reference;
// it must not be used to keep the object alive.
func UnsafeUintptr[T any](p *T) uintptr {
	return uintptr(unsafe.Pointer(p))
}
