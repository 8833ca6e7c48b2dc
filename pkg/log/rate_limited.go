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
	"time"

	"golang.org/x/time/rate"
)

// rateLimited forwards to logger while limit has budget.
type rateLimited struct {
	logger Logger
	limit  *rate.Limiter
}

// allow reports whether a message at level should be forwarded. Messages the
// logger would drop anyway do not use up the budget.
func (r *rateLimited) allow(level Level) bool {
	return r.logger.IsLogging(level) && r.limit.Allow()
}

// Debugf implements Logger.Debugf.
func (r *rateLimited) Debugf(format string, v ...any) {
	if r.allow(Debug) {
		r.logger.Debugf(format, v...)
	}
}

// Infof implements Logger.Infof.
func (r *rateLimited) Infof(format string, v ...any) {
	if r.allow(Info) {
		r.logger.Infof(format, v...)
	}
}

// Warningf implements Logger.Warningf.
func (r *rateLimited) Warningf(format string, v ...any) {
	if r.allow(Warning) {
		r.logger.Warningf(format, v...)
	}
}

// IsLogging implements Logger.IsLogging.
func (r *rateLimited) IsLogging(level Level) bool {
	return r.logger.IsLogging(level)
}

// BasicRateLimitedLogger returns a Logger that forwards to the global logger
// at most once per every.
func BasicRateLimitedLogger(every time.Duration) Logger {
	return RateLimitedLogger(Log(), every)
}

// RateLimitedLogger returns a Logger that forwards to logger at most once per
// every.
func RateLimitedLogger(logger Logger, every time.Duration) Logger {
	return &rateLimited{
		logger: logger,
		limit:  rate.NewLimiter(rate.Every(every), 1),
	}
}
