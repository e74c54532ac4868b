package unit

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randomizedcoder/go-test-swarm/internal/catalog"
	"github.com/randomizedcoder/go-test-swarm/internal/logging"
	"github.com/randomizedcoder/go-test-swarm/internal/protocol"
	"github.com/randomizedcoder/go-test-swarm/internal/status"
	"github.com/randomizedcoder/go-test-swarm/internal/testcase"
)

// failFirst returns a catalog with one test that fails its first k
// attempts and then passes.
func failFirst(t *testing.T, k int, failure error) (*catalog.Catalog, *int) {
	t.Helper()
	attempts := 0
	c := catalog.New()
	require.NoError(t, catalog.AddSuite(c, "retry", "Retry", catalog.TagNone, func() testcase.Base { return testcase.Base{} },
		catalog.M("test_retry", func(testcase.Base, *testcase.T) error {
			attempts++
			if attempts <= k {
				return failure
			}
			return nil
		}),
	))
	return c, &attempts
}

func serve(t *testing.T, c *catalog.Catalog, g protocol.Grant) []protocol.Message {
	t.Helper()
	var in, out, stderr bytes.Buffer
	require.NoError(t, protocol.NewWriter(&in).Grant(g))
	require.NoError(t, Serve(context.Background(), c, &in, &out, &stderr))

	r := protocol.NewReader(g.TestName, &out)
	go r.Run()
	var msgs []protocol.Message
	for m := range r.Messages() {
		msgs = append(msgs, m)
	}
	require.Len(t, msgs, 2)
	require.True(t, msgs[0].Ready)
	require.NotNil(t, msgs[1].Final)
	return msgs
}

func TestServe_RetryCount(t *testing.T) {
	testCases := []struct {
		name        string
		failures    int
		failure     error
		maxReruns   int
		wantStatus  status.Status
		wantRetries int
	}{
		{name: "passes first time", failures: 0, maxReruns: 3, wantStatus: status.Passed, wantRetries: 1},
		{name: "passes on third", failures: 2, failure: testcase.Fail("nope"), maxReruns: 3, wantStatus: status.Passed, wantRetries: 3},
		{name: "always fails", failures: 10, failure: testcase.Fail("nope"), maxReruns: 3, wantStatus: status.Failed, wantRetries: 3},
		{name: "always errors", failures: 10, failure: errors.New("io"), maxReruns: 2, wantStatus: status.Error, wantRetries: 2},
		{name: "zero reruns runs once", failures: 10, failure: testcase.Fail("nope"), maxReruns: 0, wantStatus: status.Failed, wantRetries: 1},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			c, attempts := failFirst(t, tc.failures, tc.failure)
			msgs := serve(t, c, protocol.Grant{TestName: "retry.Retry.test_retry", MaxReruns: tc.maxReruns})

			f := msgs[1].Final
			assert.Equal(t, "retry.Retry.test_retry", f.TestName)
			assert.Equal(t, tc.wantStatus, f.Status)
			assert.Equal(t, tc.wantRetries, f.Retries)
			assert.Equal(t, tc.wantRetries, *attempts)
		})
	}
}

func TestServe_UnknownTest(t *testing.T) {
	msgs := serve(t, catalog.New(), protocol.Grant{TestName: "no.Such.test", MaxReruns: 3})
	f := msgs[1].Final
	assert.Equal(t, status.Error, f.Status)
	assert.Equal(t, 1, f.Retries)
	assert.Contains(t, f.Message, "not found")
}

func TestServe_PanickingFactory(t *testing.T) {
	c := catalog.New()
	require.NoError(t, c.Register(catalog.Descriptor{Module: "m", Class: "C", Method: "test_x"},
		func() testcase.Case { panic("cannot build") }))

	msgs := serve(t, c, protocol.Grant{TestName: "m.C.test_x", MaxReruns: 2})
	assert.Equal(t, status.Error, msgs[1].Final.Status)
	assert.Equal(t, 2, msgs[1].Final.Retries)
}

func TestServe_DurationIsLastAttempt(t *testing.T) {
	c := catalog.New()
	require.NoError(t, catalog.AddSuite(c, "m", "C", catalog.TagNone, func() testcase.Base { return testcase.Base{} },
		catalog.M("test_sleep", func(testcase.Base, *testcase.T) error {
			time.Sleep(50 * time.Millisecond)
			return nil
		}),
	))
	msgs := serve(t, c, protocol.Grant{TestName: "m.C.test_sleep", MaxReruns: 1})
	assert.GreaterOrEqual(t, msgs[1].Final.Duration, 0.05)
	assert.Less(t, msgs[1].Final.Duration, 5.0)
}

func TestServe_WritesSessionLog(t *testing.T) {
	c, _ := failFirst(t, 1, testcase.Fail("first attempt"))
	dir := t.TempDir()
	start := time.Date(2026, 5, 6, 7, 8, 9, 0, time.UTC)

	serve(t, c, protocol.Grant{TestName: "retry.Retry.test_retry", MaxReruns: 3, LogDir: dir, SessionStart: start})

	data, err := os.ReadFile(filepath.Join(logging.SessionDir(dir, start), "retry.Retry.test_retry.log"))
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(string(data), "msg=test_started"))
	assert.Contains(t, string(data), "test_exception")
	assert.Contains(t, string(data), "status=PASSED")
}

func TestServe_ChannelClosedBeforeGrant(t *testing.T) {
	var out bytes.Buffer
	err := Serve(context.Background(), catalog.New(), strings.NewReader(""), &out, &bytes.Buffer{})
	require.Error(t, err)
	assert.Zero(t, out.Len(), "no readiness without a grant")
}
