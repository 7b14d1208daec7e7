package db

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSonicCodec_SortsMapKeys(t *testing.T) {
	c := SonicCodec{}
	data, err := c.Marshal(map[string]any{"z": 1, "a": []string{"x"}, "m": nil})
	require.NoError(t, err)
	assert.Equal(t, `{"a":["x"],"m":null,"z":1}`, string(data))

	var out map[string]any
	require.NoError(t, c.Unmarshal(data, &out))
	assert.Equal(t, float64(1), out["z"])
}

func TestSonicCodec_RejectsInvalidJSON(t *testing.T) {
	var out map[string]any
	assert.Error(t, SonicCodec{}.Unmarshal([]byte(`{"a":`), &out))
}
