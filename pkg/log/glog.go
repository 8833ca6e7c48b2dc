// Copyright 2026 The gVisor Authors.
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
	"path/filepath"
	"runtime"
	"strings"
	"time"
)

// GoogleEmitter emits lines in the format of github.com/golang/glog:
//
//	Lmmdd hh:mm:ss.uuuuuu pid file:line] msg
//
// L is the level letter and pid is space padded to seven columns.
type GoogleEmitter struct {
	*Writer
}

var levelLetters = [...]byte{Warning: 'W', Info: 'I', Debug: 'D'}

var pid = os.Getpid()

// caller returns "file:line" of the function depth frames above its caller.
func caller(depth int) (string, bool) {
	_, file, line, ok := runtime.Caller(depth + 1)
	if !ok {
		return "???:0", false
	}
	return fmt.Sprintf("%s:%d", filepath.Base(file), line), true
}

// Emit implements Emitter.Emit.
func (g GoogleEmitter) Emit(depth int, level Level, timestamp time.Time, format string, args ...any) {
	letter := byte('?')
	if int(level) < len(levelLetters) {
		letter = levelLetters[level]
	}
	where, _ := caller(depth + 1)
	header := fmt.Sprintf("%c%s %7d %s] ", letter, timestamp.Format("0102 15:04:05.000000"), pid, where)
	// The header becomes part of the format.
	g.Writer.Emit(depth+1, level, timestamp, strings.ReplaceAll(header, "%", "%%")+format+"\n", args...)
}
