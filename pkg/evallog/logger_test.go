package evallog

import (
	"context"
	"errors"
	"testing"

	"github.com/docker/artifact-policy-check/pkg/pipeline"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type spySink struct {
	lines     []string
	appendErr error
	closeErr  error
	closes    int
}

func (s *spySink) Append(_ context.Context, text string) error {
	s.lines = append(s.lines, text)
	return s.appendErr
}

func (s *spySink) Close(_ context.Context) error {
	s.closes++
	return s.closeErr
}

func TestLoggerFanOut(t *testing.T) {
	local, hook := test.NewNullLogger()
	sink := &spySink{}
	l := New(local, WithRemoteSink(sink), WithCapture())

	l.Log(context.Background(), "first")
	l.Logf(context.Background(), "second %d", 2)

	assert.Equal(t, []string{"first", "second 2"}, sink.lines)
	assert.Equal(t, "first\nsecond 2\n", l.Output())
	require.Len(t, hook.Entries, 2)
	assert.Equal(t, "second 2", hook.LastEntry().Message)
}

func TestLoggerRemoteFailureIsSwallowed(t *testing.T) {
	local, hook := test.NewNullLogger()
	sink := &spySink{appendErr: errors.New("timeline unavailable")}
	l := New(local, WithRemoteSink(sink))

	l.Log(context.Background(), "message")

	require.Len(t, hook.Entries, 2)
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
	assert.Equal(t, "", l.Output())
}

func TestLoggerCloseOnce(t *testing.T) {
	local, _ := test.NewNullLogger()
	sink := &spySink{closeErr: errors.New("boom")}
	l := New(local, WithRemoteSink(sink))

	err := l.Close(context.Background())
	require.Error(t, err)
	err = l.Close(context.Background())
	require.Error(t, err)
	assert.Equal(t, 1, sink.closes)

	// no remote sink
	require.NoError(t, New(local).Close(context.Background()))
}

func TestExpand(t *testing.T) {
	vars := pipeline.VariablesFromPairs("outer", "$(inner)!", "inner", "value", "image", "alpine")
	assert.Equal(t, "evaluating alpine: value!", Expand("evaluating $(image): $(outer)", vars))
	assert.Equal(t, "unknown $(missing)", Expand("unknown $(missing)", vars))
	assert.Equal(t, "plain", Expand("plain", nil))
}

func TestFromContext(t *testing.T) {
	local, _ := test.NewNullLogger()
	l := New(local)
	ctx := WithLogger(context.Background(), l)
	assert.Same(t, l, FromContext(ctx))
	assert.NotNil(t, FromContext(context.Background()))
}
