package jsonutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type label string

func TestMarshalNoEscape(t *testing.T) {
	raw, err := MarshalNoEscape(map[string]string{"q": "a<b&c"})
	require.NoError(t, err)
	assert.Equal(t, `{"q":"a<b&c"}`, string(raw))
}

func TestNormalizeObject(t *testing.T) {
	m, err := NormalizeObject(map[string]any{
		"tags":  []string{"x"},
		"count": 3,
		"name":  label("n"),
	})
	require.NoError(t, err)
	assert.Equal(t, []any{"x"}, m["tags"])
	assert.Equal(t, 3.0, m["count"])
	assert.Equal(t, "n", m["name"])

	m, err = NormalizeObject(nil)
	require.NoError(t, err)
	assert.Empty(t, m)

	_, err = NormalizeObject([]int{1})
	assert.Error(t, err)
}

func TestDecodeObject(t *testing.T) {
	m, err := DecodeObject(` {"job_id":"j1"} `)
	require.NoError(t, err)
	assert.Equal(t, "j1", m["job_id"])

	m, err = DecodeObject(`"{\"job_id\":\"j2\"}"`)
	require.NoError(t, err)
	assert.Equal(t, "j2", m["job_id"])

	for _, bad := range []string{"", "j3", "null", "[1]", `"plain"`} {
		_, err := DecodeObject(bad)
		assert.Error(t, err, bad)
	}
}
