package stringsuite

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randomizedcoder/go-test-swarm/internal/catalog"
	"github.com/randomizedcoder/go-test-swarm/internal/status"
	"github.com/randomizedcoder/go-test-swarm/internal/testcase"
)

func TestHelpers(t *testing.T) {
	assert.Equal(t, " text ", center("text", 6))
	assert.Equal(t, "text", center("text", 2))
	assert.Equal(t, "Text", capitalize("tEXT"))
	assert.Equal(t, "", capitalize(""))
}

func TestRegister(t *testing.T) {
	c := catalog.New()
	require.NoError(t, Register(c))
	assert.Equal(t, 6, c.Len())
	assert.Len(t, c.Select(catalog.TagSmoke), 6)

	expected := map[string]status.Status{
		"test_strings.TestString.test_center":            status.Passed,
		"test_strings.TestString.test_upper_failed":      status.Failed,
		"test_strings.TestString.test_center_errored":    status.Error,
		"test_strings.TestString.test_capitalize_failed": status.Failed,
	}
	for id, want := range expected {
		_, factory, ok := c.Lookup(id)
		require.True(t, ok, id)
		out := testcase.Execute(factory(), testcase.NewT(id, nil))
		assert.Equal(t, want, out.Status, id)
	}
}
