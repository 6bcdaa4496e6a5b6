package json

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeObjectKeepsNumbers(t *testing.T) {
	obj, err := DecodeObject(strings.NewReader(`{"impressions": 12345678901234, "ctr": 0.25}`))
	require.NoError(t, err)

	n, ok := obj["impressions"].(Number)
	require.True(t, ok)
	assert.Equal(t, "12345678901234", n.String())

	f, ok := obj["ctr"].(Number)
	require.True(t, ok)
	v, err := f.Float64()
	require.NoError(t, err)
	assert.Equal(t, 0.25, v)
}

func TestDecodeObjectRejectsGarbage(t *testing.T) {
	_, err := DecodeObject(strings.NewReader("<html>"))
	assert.Error(t, err)
}

func TestEncoderDoesNotEscapeHTML(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, GetEncoder(&buf).Encode(map[string]string{"name": "A&B <promo>"}))
	assert.Equal(t, "{\"name\":\"A&B <promo>\"}\n", buf.String())
}

func TestUnmarshal(t *testing.T) {
	var v struct {
		Count Number `json:"count"`
	}
	require.NoError(t, Unmarshal([]byte(`{"count": 3}`), &v))
	assert.Equal(t, Number("3"), v.Count)
}
