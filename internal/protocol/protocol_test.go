package protocol

import (
	"bytes"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randomizedcoder/go-test-swarm/internal/status"
)

func collect(r *Reader) []Message {
	go r.Run()
	var out []Message
	for m := range r.Messages() {
		out = append(out, m)
	}
	return out
}

func TestWriterReader_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	require.NoError(t, w.Ready())
	require.NoError(t, w.Final(Final{
		TestName: "strings.TestStrings.test_upper",
		Status:   status.Failed,
		Duration: 1.25,
		Retries:  3,
		Message:  "expected FOO",
	}))

	msgs := collect(NewReader("strings.TestStrings.test_upper", &buf))
	require.Len(t, msgs, 2)
	assert.True(t, msgs[0].Ready)
	require.NotNil(t, msgs[1].Final)
	assert.Equal(t, status.Failed, msgs[1].Final.Status)
	assert.Equal(t, 3, msgs[1].Final.Retries)
	assert.Equal(t, 1250*time.Millisecond, msgs[1].Final.DurationValue())
}

func TestReader_WireFormat(t *testing.T) {
	in := "0\n{\"test_name\":\"a.B.c\",\"status\":\"PASSED\",\"duration\":0.5,\"retries\":1}\n"
	msgs := collect(NewReader("a.B.c", strings.NewReader(in)))
	require.Len(t, msgs, 2)
	assert.True(t, msgs[0].Ready)
	assert.Equal(t, status.Passed, msgs[1].Final.Status)
}

func TestReader_Violations(t *testing.T) {
	testCases := []struct {
		name  string
		input string
	}{
		{name: "non zero sentinel", input: "1\n"},
		{name: "garbage first line", input: "hello\n"},
		{name: "garbage final", input: "0\n{not json\n"},
		{name: "non terminal final", input: "0\n{\"test_name\":\"x\",\"status\":\"RUNNING\"}\n"},
		{name: "extra message", input: "0\n{\"test_name\":\"x\",\"status\":\"PASSED\"}\n0\n"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			msgs := collect(NewReader("x", strings.NewReader(tc.input)))
			require.NotEmpty(t, msgs)
			last := msgs[len(msgs)-1]
			var perr *ProtocolError
			require.ErrorAs(t, last.Err, &perr)
			assert.Equal(t, "x", perr.TestName)
		})
	}
}

func TestReader_SilenceClosesChannel(t *testing.T) {
	msgs := collect(NewReader("x", strings.NewReader("")))
	assert.Empty(t, msgs)
}

func TestReadGrant(t *testing.T) {
	pr, pw := io.Pipe()
	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	go func() {
		_ = NewWriter(pw).Grant(Grant{TestName: "a.B.c", MaxReruns: 3, SessionID: "s1", SessionStart: start})
		pw.Close()
	}()

	g, err := ReadGrant(pr)
	require.NoError(t, err)
	assert.Equal(t, "a.B.c", g.TestName)
	assert.Equal(t, 3, g.MaxReruns)
	assert.True(t, start.Equal(g.SessionStart))

	_, err = ReadGrant(strings.NewReader(""))
	require.Error(t, err)

	_, err = ReadGrant(strings.NewReader("{}\n"))
	require.Error(t, err)
}

func TestProtocolError_Unwrap(t *testing.T) {
	err := &ProtocolError{TestName: "x", Reason: "child exited", Err: ErrNoFinal}
	require.ErrorIs(t, err, ErrNoFinal)
	assert.Contains(t, err.Error(), "child exited")
}
