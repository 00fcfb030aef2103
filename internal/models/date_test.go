package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDate_UnmarshalJSON(t *testing.T) {
	var v struct {
		At *Date `json:"at"`
	}

	require.NoError(t, json.Unmarshal([]byte(`{"at":"2025-01-10"}`), &v))
	require.NotNil(t, v.At)
	assert.True(t, time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC).Equal(v.At.Time))

	require.NoError(t, json.Unmarshal([]byte(`{"at":"2025-01-10T09:30:00+13:00"}`), &v))
	assert.True(t, time.Date(2025, 1, 9, 20, 30, 0, 0, time.UTC).Equal(v.At.Time))

	v.At = nil
	require.NoError(t, json.Unmarshal([]byte(`{"at":null}`), &v))
	assert.Nil(t, v.At)
	assert.Nil(t, v.At.TimePtr())

	assert.Error(t, json.Unmarshal([]byte(`{"at":"10/01/2025"}`), &v))
	assert.Error(t, json.Unmarshal([]byte(`{"at":20250110}`), &v))
}
