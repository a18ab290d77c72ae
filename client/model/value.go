package model

import (
	"bytes"
	"encoding/json"
	"strconv"
	"time"
)

// Number is a JSON number as the server sends it: integral or not, sometimes
// quoted. Anything that is not a number decodes to zero instead of failing
// the whole payload.
type Number float64

func (n *Number) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 1 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err == nil {
			b = []byte(s)
		}
	}
	v, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		*n = 0
		return nil
	}
	*n = Number(v)
	return nil
}

func (n Number) Int() int {
	return int(n)
}

// String formats n the shortest way, so 50 stays "50" and 12.5 stays "12.5".
func (n Number) String() string {
	return strconv.FormatFloat(float64(n), 'f', -1, 64)
}

// Time layouts accepted from the server, zone-less ones are taken as UTC.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

// Time is a timestamp that tolerates the formats backends actually emit:
// RFC 3339, zone-less date-times, plain dates and unix milliseconds.
// Unparsable values decode to the zero time.
type Time struct {
	time.Time
}

func (t *Time) UnmarshalJSON(b []byte) error {
	t.Time = time.Time{}
	b = bytes.TrimSpace(b)

	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		if ms, err := strconv.ParseFloat(string(b), 64); err == nil {
			t.Time = time.UnixMilli(int64(ms)).UTC()
		}
		return nil
	}
	for _, layout := range timeLayouts {
		if v, err := time.Parse(layout, s); err == nil {
			t.Time = v
			return nil
		}
	}
	return nil
}

func (t Time) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return t.Time.MarshalJSON()
}
