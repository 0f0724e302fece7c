package pagination

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecode(t *testing.T) {
	ts := time.Date(2026, 3, 14, 9, 26, 53, 589793238, time.UTC)

	cursor, err := Decode(Encode(ts, "txn_abc.123"))
	require.NoError(t, err)
	require.NotNil(t, cursor)
	assert.True(t, ts.Equal(cursor.CreatedAt))
	assert.Equal(t, "txn_abc.123", cursor.ID, "ids may contain the separator")
}

func TestDecode_Empty(t *testing.T) {
	cursor, err := Decode("")
	assert.NoError(t, err)
	assert.Nil(t, cursor)
}

func TestDecode_Invalid(t *testing.T) {
	enc := func(s string) string { return base64.RawURLEncoding.EncodeToString([]byte(s)) }
	tests := map[string]string{
		"not base64":      "%%%",
		"no version":      enc("1700000000|txn_1"),
		"wrong version":   enc("t0.1700000000.txn_1"),
		"missing id":      enc("t1.1700000000."),
		"bad timestamp":   enc("t1.yesterday.txn_1"),
		"oversized id":    enc("t1.1." + string(make([]byte, maxCursorID+1))),
		"legacy encoding": base64.URLEncoding.EncodeToString([]byte("1700000000|txn_1")),
	}
	for name, in := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Decode(in)
			assert.ErrorIs(t, err, ErrInvalidCursor)
		})
	}
}

func TestCursor_After(t *testing.T) {
	ts := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	c := &Cursor{CreatedAt: ts, ID: "txn_m"}

	assert.True(t, c.After(ts.Add(-time.Second), "txn_z"), "older rows follow")
	assert.False(t, c.After(ts.Add(time.Second), "txn_a"), "newer rows precede")
	assert.True(t, c.After(ts, "txn_a"), "ties break on lower id")
	assert.False(t, c.After(ts, "txn_m"), "the cursor row itself is excluded")

	var first *Cursor
	assert.True(t, first.After(ts, "anything"))
}

type row struct {
	at time.Time
	id string
}

func TestComputePage(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rows := []row{{base.Add(3), "c"}, {base.Add(2), "b"}, {base.Add(1), "a"}}
	key := func(r row) (time.Time, string) { return r.at, r.id }

	page, next, more := ComputePage(rows, 2, key)
	assert.Len(t, page, 2)
	assert.True(t, more)
	c, err := Decode(next)
	require.NoError(t, err)
	assert.Equal(t, "b", c.ID)

	page, next, more = ComputePage(rows[:2], 2, key)
	assert.Len(t, page, 2)
	assert.False(t, more)
	assert.Empty(t, next)
}

func TestLimit(t *testing.T) {
	assert.Equal(t, 50, Limit("", 50, 200))
	assert.Equal(t, 50, Limit("abc", 50, 200))
	assert.Equal(t, 50, Limit("-3", 50, 200))
	assert.Equal(t, 10, Limit("10", 50, 200))
	assert.Equal(t, 200, Limit("5000", 50, 200))
}
