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

package log

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"
)

// GoogleEmitter is a wrapper that emits logs in a format compatible with
// package github.com/golang/glog.
type GoogleEmitter struct {
	*Writer
}

// caller returns "file:line" of the frame depth levels above its caller,
// without the directory.
func caller(depth int) string {
	_, file, line, ok := runtime.Caller(depth + 1)
	if !ok {
		return "???:0"
	}
	if slash := strings.LastIndexByte(file, '/'); slash >= 0 {
		file = file[slash+1:]
	}
	return file + ":" + strconv.Itoa(line)
}

// levelLetters are the first characters of glog headers, by Level.
var levelLetters = [...]byte{Warning: 'W', Info: 'I', Debug: 'D'}

// pid is the thread ID column of the header. glog pads it to 7 columns.
var pid = fmt.Sprintf("%7d", os.Getpid())

// Emit emits the message, google-style:
//
//	Lmmdd hh:mm:ss.uuuuuu pid file:line] msg
//
// L is the level letter. The time is printed in the timestamp's own
// location with microsecond precision.
func (g GoogleEmitter) Emit(depth int, level Level, timestamp time.Time, format string, args ...any) {
	header := make([]byte, 0, 64)
	if int(level) < len(levelLetters) {
		header = append(header, levelLetters[level])
	} else {
		header = append(header, '?')
	}
	header = timestamp.AppendFormat(header, "0102 15:04:05.000000")
	header = append(header, ' ')
	header = append(header, pid...)
	header = append(header, ' ')
	header = append(header, caller(depth+1)...)
	header = append(header, "] "...)

	// The header is spliced into the format so the Writer formats once.
	g.Writer.Emit(depth+1, level, timestamp, strings.ReplaceAll(string(header), "%", "%%")+format+"\n", args...)
}
