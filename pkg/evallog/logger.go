/*
   Copyright Docker attest authors

   Licensed under the Apache License, Version 2.0 (the "License");
   you may not use this file except in compliance with the License.
   You may obtain a copy of the License at

       http://www.apache.org/licenses/LICENSE-2.0

   Unless required by applicable law or agreed to in writing, software
   distributed under the License is distributed on an "AS IS" BASIS,
   WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
   See the License for the specific language governing permissions and
   limitations under the License.
*/

package evallog

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/docker/artifact-policy-check/pkg/pipeline"
	"github.com/sirupsen/logrus"
)

// RemoteSink is an append-only log stream for one evaluation, e.g. a pipeline timeline record.
type RemoteSink interface {
	Append(ctx context.Context, text string) error
	Close(ctx context.Context) error
}

// Logger fans progress messages out to the process log, an optional remote sink and an
// optional in-memory capture. Remote sink failures are logged locally and never returned.
type Logger struct {
	local     logrus.FieldLogger
	remote    RemoteSink
	variables *pipeline.Variables

	mu      sync.Mutex
	capture *strings.Builder

	closeOnce sync.Once
	closeErr  error
}

type Option func(*Logger)

func WithRemoteSink(sink RemoteSink) Option {
	return func(l *Logger) {
		l.remote = sink
	}
}

// WithVariables expands $(name) references in messages.
func WithVariables(vars *pipeline.Variables) Option {
	return func(l *Logger) {
		l.variables = vars
	}
}

// WithCapture keeps every message so it can be returned by Output.
func WithCapture() Option {
	return func(l *Logger) {
		l.capture = new(strings.Builder)
	}
}

func New(local logrus.FieldLogger, opts ...Option) *Logger {
	if local == nil {
		local = logrus.StandardLogger()
	}
	l := &Logger{local: local}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Logger) Log(ctx context.Context, message string) {
	message = Expand(message, l.variables)
	l.local.Info(message)

	if l.capture != nil {
		l.mu.Lock()
		l.capture.WriteString(message)
		if !strings.HasSuffix(message, "\n") {
			l.capture.WriteByte('\n')
		}
		l.mu.Unlock()
	}

	if l.remote != nil {
		if err := l.remote.Append(ctx, message); err != nil {
			l.local.WithError(err).Warn("failed to write to remote log")
		}
	}
}

func (l *Logger) Logf(ctx context.Context, format string, args ...any) {
	l.Log(ctx, fmt.Sprintf(format, args...))
}

// Output returns the captured messages, or "" when capture is disabled.
func (l *Logger) Output() string {
	if l.capture == nil {
		return ""
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.capture.String()
}

// Close releases the remote sink. Only the first call has an effect.
func (l *Logger) Close(ctx context.Context) error {
	l.closeOnce.Do(func() {
		if l.remote == nil {
			return
		}
		l.closeErr = l.remote.Close(ctx)
		if l.closeErr != nil {
			l.local.WithError(l.closeErr).Warn("failed to close remote log")
		}
	})
	return l.closeErr
}

type loggerKeyType struct{}

var loggerKey loggerKeyType

// WithLogger sets the evaluation logger in the context.
func WithLogger(ctx context.Context, l *Logger) context.Context {
	return context.WithValue(ctx, loggerKey, l)
}

// FromContext gets the evaluation logger from the context, defaulting to one that
// only writes to the standard process logger.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerKey).(*Logger); ok {
		return l
	}
	return New(logrus.StandardLogger())
}
