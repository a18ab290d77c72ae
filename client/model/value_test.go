package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNumber_Unmarshal(t *testing.T) {
	tests := []struct {
		in   string
		want Number
	}{
		{in: `50`, want: 50},
		{in: `12.5`, want: 12.5},
		{in: `"20"`, want: 20},
		{in: `null`, want: 0},
		{in: `"n/a"`, want: 0},
		{in: `{"x":1}`, want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			var n Number
			require.NoError(t, json.Unmarshal([]byte(tt.in), &n))
			assert.Equal(t, tt.want, n)
		})
	}
}

func TestNumber_String(t *testing.T) {
	assert.Equal(t, "50", Number(50).String())
	assert.Equal(t, "12.5", Number(12.5).String())
	assert.Equal(t, 12, Number(12.5).Int())
}

func TestTime_Unmarshal(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want time.Time
	}{
		{name: "rfc3339", in: `"2024-02-01T10:00:00Z"`, want: time.Date(2024, 2, 1, 10, 0, 0, 0, time.UTC)},
		{name: "zone-less", in: `"2024-02-01T10:00:00"`, want: time.Date(2024, 2, 1, 10, 0, 0, 0, time.UTC)},
		{name: "zone-less fraction", in: `"2024-02-01T10:00:00.250"`, want: time.Date(2024, 2, 1, 10, 0, 0, 250e6, time.UTC)},
		{name: "space separated", in: `"2024-02-01 10:00:00"`, want: time.Date(2024, 2, 1, 10, 0, 0, 0, time.UTC)},
		{name: "date only", in: `"2024-02-01"`, want: time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)},
		{name: "unix millis", in: `1706781600000`, want: time.Date(2024, 2, 1, 10, 0, 0, 0, time.UTC)},
		{name: "garbage", in: `"soon"`},
		{name: "object", in: `{"when":"later"}`},
		{name: "null", in: `null`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var v Time
			require.NoError(t, json.Unmarshal([]byte(tt.in), &v))
			assert.True(t, tt.want.Equal(v.Time), "got %v", v.Time)
		})
	}
}

func TestBadge_Unmarshal(t *testing.T) {
	var b Badge
	err := json.Unmarshal([]byte(`{"id":"b1","name":"Week Warrior","unlockedAt":"2024-02-01T10:00:00","rarity":"Rare"}`), &b)
	require.NoError(t, err)
	assert.Equal(t, "Week Warrior", b.Name)
	assert.Equal(t, RarityRare, b.Rarity)
	assert.Equal(t, 2024, b.UnlockedAt.Year())

	out, err := json.Marshal(Badge{ID: "b2"})
	require.NoError(t, err)
	assert.Contains(t, string(out), `"unlockedAt":null`)
}
