// Copyright 2025 The gVisor Authors.
//
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

// Package errors holds the standardized error definition for artos.
package errors

import "fmt"

// Code classifies an Error.
type Code int

// Error codes.
const (
	// OutOfMemory means no physical frame was available for a translation
	// table.
	OutOfMemory Code = iota + 1

	// NotMapped means no translation exists for an address.
	NotMapped

	// NotInitialized means the translation regime has not been set up.
	NotInitialized

	// InvalidArgument means an address or option is outside its permitted
	// range.
	InvalidArgument

	// Corrupted means a translation table violates a structural invariant.
	Corrupted
)

var codeNames = map[Code]string{
	OutOfMemory:     "out of memory",
	NotMapped:       "not mapped",
	NotInitialized:  "not initialized",
	InvalidArgument: "invalid argument",
	Corrupted:       "corrupted",
}

// String implements fmt.Stringer.
func (c Code) String() string {
	if s, ok := codeNames[c]; ok {
		return s
	}
	return fmt.Sprintf("Code(%d)", int(c))
}

// Error represents a failure with a code and a descriptive message.
type Error struct {
	code    Code
	message string
}

// New creates a new *Error.
func New(code Code, message string) *Error {
	return &Error{
		code:    code,
		message: message,
	}
}

// Error implements error.Error.
func (e *Error) Error() string { return e.message }

// Code returns the underlying Code value.
func (e *Error) Code() Code { return e.code }

// Is reports whether target is an *Error with the same code, so that
// wrapped errors built with Errorf match the sentinel they came from.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.code == e.code
}

// Errorf returns an error that wraps base with additional context.
func Errorf(base *Error, format string, v ...any) error {
	return fmt.Errorf("%w: %s", base, fmt.Sprintf(format, v...))
}
