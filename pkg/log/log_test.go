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
	"strings"
	"testing"
	"time"
)

type testWriter struct {
	lines []string
	fail  bool
}

func (w *testWriter) Write(bytes []byte) (int, error) {
	if w.fail {
		return 0, fmt.Errorf("simulated failure")
	}
	w.lines = append(w.lines, string(bytes))
	return len(bytes), nil
}

func TestDropMessages(t *testing.T) {
	tw := &testWriter{}
	w := Writer{Next: tw}
	if _, err := w.Write([]byte("line 1\n")); err != nil {
		t.Fatalf("Write failed, err: %v", err)
	}

	tw.fail = true
	if _, err := w.Write([]byte("error\n")); err == nil {
		t.Fatalf("Write should have failed")
	}
	if _, err := w.Write([]byte("error\n")); err == nil {
		t.Fatalf("Write should have failed")
	}

	tw.fail = false
	if _, err := w.Write([]byte("line 2\n")); err != nil {
		t.Fatalf("Write failed, err: %v", err)
	}

	expected := []string{
		"line 1\n",
		"line 2\n",
		"\n*** Dropped 2 log messages ***\n",
	}
	if len(tw.lines) != len(expected) {
		t.Fatalf("Writer should have logged %d lines, got: %q, expected: %q", len(expected), tw.lines, expected)
	}
	for i, l := range tw.lines {
		if l != expected[i] {
			t.Errorf("line %d doesn't match, got: %q, expected: %q", i, l, expected[i])
		}
	}
}

func TestLevelFiltering(t *testing.T) {
	tw := &testWriter{}
	l := NewBasicLogger(Info, &Writer{Next: tw})
	l.Debugf("hidden")
	l.Infof("shown %d", 1)
	l.Warningf("shown %d", 2)
	if got, want := strings.Join(tw.lines, ""), "shown 1\nshown 2\n"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}

	l.SetLevel(Debug)
	l.Debugf("now visible")
	if got := tw.lines[len(tw.lines)-2]; got != "now visible" {
		t.Errorf("last line = %q, want %q", got, "now visible")
	}
}

func TestGoogleEmitterHeader(t *testing.T) {
	tw := &testWriter{}
	e := GoogleEmitter{&Writer{Next: tw}}
	ts := time.Date(2026, time.May, 4, 13, 2, 3, 4000, time.UTC)
	e.Emit(0, Warning, ts, "frame %s", "leak")
	if len(tw.lines) == 0 {
		t.Fatalf("nothing written")
	}
	line := tw.lines[0]
	if !strings.HasPrefix(line, "W0504 13:02:03.000004 ") {
		t.Errorf("bad header: %q", line)
	}
	if !strings.Contains(line, "log_test.go:") || !strings.HasSuffix(line, "] frame leak\n") {
		t.Errorf("bad caller or message: %q", line)
	}
}

func TestMultiEmitter(t *testing.T) {
	a, b := &testWriter{}, &testWriter{}
	m := MultiEmitter{&Writer{Next: a}, &Writer{Next: b}}
	m.Emit(0, Info, time.Now(), "x=%d\n", 7)
	if len(a.lines) != 1 || len(b.lines) != 1 || a.lines[0] != "x=7\n" || b.lines[0] != "x=7\n" {
		t.Errorf("got a=%q b=%q", a.lines, b.lines)
	}
}

func TestRateLimitedLogger(t *testing.T) {
	tw := &testWriter{}
	rl := RateLimitedLogger(NewBasicLogger(Debug, &Writer{Next: tw}), time.Hour)
	for i := 0; i < 10; i++ {
		rl.Warningf("fault %d\n", i)
	}
	if len(tw.lines) != 1 || tw.lines[0] != "fault 0\n" {
		t.Errorf("got %q, want only the first message", tw.lines)
	}
}

func TestParseFormat(t *testing.T) {
	for _, f := range []string{"", "text", "json", "JSON"} {
		if _, err := ParseFormat(f, &testWriter{}); err != nil {
			t.Errorf("ParseFormat(%q) failed: %v", f, err)
		}
	}
	if _, err := ParseFormat("xml", &testWriter{}); err == nil {
		t.Errorf("ParseFormat(xml) succeeded")
	}
}
