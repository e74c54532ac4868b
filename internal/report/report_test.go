package report

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/randomizedcoder/go-test-swarm/internal/catalog"
	"github.com/randomizedcoder/go-test-swarm/internal/history"
	"github.com/randomizedcoder/go-test-swarm/internal/status"
)

func sampleData() *Data {
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	return NewData("sess-1", start, 4321*time.Millisecond, 3, []status.Result{
		{TestName: "test_strings.TestString.test_upper", Status: status.Passed, Duration: 4012 * time.Millisecond, Retries: 1},
		{TestName: "test_strings.TestString.test_upper_failed", Status: status.Failed, Duration: 10 * time.Millisecond, Retries: 3, Message: "not equal\nstack"},
		{TestName: "test_strings.TestString.test_center_errored", Status: status.Error, Retries: 3, Message: "boom"},
		{TestName: "slow.Slow.test_hang", Status: status.Timeout, Duration: 10 * time.Second, Retries: 1},
		{TestName: "never.Never.test_started", Status: status.NotRun},
	})
}

func TestNewData(t *testing.T) {
	d := sampleData()
	assert.Equal(t, Stats{Total: 5, Passed: 1, Failed: 1, Errored: 1, Timeout: 1, NotRun: 1}, d.Stats)
	assert.Equal(t, 4.32, d.Duration)
	assert.Equal(t, 4.01, d.Tests[0].Duration)
	assert.True(t, d.HasFailures())

	passing := NewData("s", time.Now(), time.Second, 1, []status.Result{{TestName: "a", Status: status.Passed}})
	assert.False(t, passing.HasFailures())
}

func TestTableFormatter(t *testing.T) {
	out, err := NewTableFormatter("Test Results", false).Format(sampleData())
	require.NoError(t, err)

	assert.Contains(t, out, "Test Results")
	assert.Contains(t, out, "test_strings.TestString.test_upper")
	assert.Contains(t, out, "TIMEOUT")
	assert.Contains(t, out, "4.01s")
	assert.Contains(t, out, "FAIL")
	assert.Contains(t, out, "not equal")
	assert.NotContains(t, out, "stack")
	// No ANSI escapes without color.
	assert.NotContains(t, out, "\x1b[")
}

func TestTableFormatter_Color(t *testing.T) {
	out, err := NewTableFormatter("Test Results", true).Format(sampleData())
	require.NoError(t, err)
	assert.Contains(t, out, "\x1b[")
}

func TestJSONFormatter(t *testing.T) {
	out, err := JSONFormatter{}.Format(sampleData())
	require.NoError(t, err)

	var back Data
	require.NoError(t, json.Unmarshal([]byte(out), &back))
	assert.Equal(t, "sess-1", back.SessionID)
	require.Len(t, back.Tests, 5)
	assert.Equal(t, status.Timeout, back.Tests[3].Status)
	assert.Contains(t, out, `"status": "FAILED"`)
}

func TestYAMLFormatter(t *testing.T) {
	out, err := YAMLFormatter{}.Format(sampleData())
	require.NoError(t, err)
	assert.Contains(t, out, "status: PASSED")

	var back Data
	require.NoError(t, yaml.Unmarshal([]byte(out), &back))
	assert.Equal(t, 3, back.Concurrency)
	assert.Equal(t, status.NotRun, back.Tests[4].Status)
}

func TestNewFormatter(t *testing.T) {
	for _, name := range []string{"", "table", "json", "YAML", "yml"} {
		f, err := NewFormatter(name, false)
		require.NoError(t, err, name)
		assert.NotNil(t, f)
	}
	_, err := NewFormatter("csv", false)
	require.Error(t, err)
}

func TestWriteFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.json")
	require.NoError(t, WriteFile(path, "json", sampleData()))

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(b), "{"))

	require.Error(t, WriteFile(path, "csv", sampleData()))
}

func TestCatalogTable(t *testing.T) {
	descs := []catalog.Descriptor{
		{Module: "test_strings", Class: "TestString", Method: "test_upper", Tag: catalog.TagSmoke},
		{Module: "selfcheck", Class: "Checks", Method: "test_pass"},
	}
	out := CatalogTable(descs)
	assert.Contains(t, out, "test_strings.TestString.test_upper")
	assert.Contains(t, out, "SMOKE")
	assert.Contains(t, out, "2 tests")

	rows := CatalogRows(descs)
	assert.Equal(t, "-", rows[1][3])
}

func TestSessionsTable(t *testing.T) {
	out := SessionsTable([]history.Session{{
		Name:    "test_session_2024-01-02__03-04-05",
		Started: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		Logs:    []string{"a", "b"},
	}})
	assert.Contains(t, out, "test_session_2024-01-02__03-04-05")
	assert.Contains(t, out, "2024-01-02 03:04:05")
}
