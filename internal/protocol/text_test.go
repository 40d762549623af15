package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	marketdatav1 "github.com/muhammadchandra19/feedhandler/internal/domain/marketdata/v1"
)

func TestParseTextTick(t *testing.T) {
	testCases := []struct {
		name string
		line string
		want marketdatav1.Tick
		err  error
	}{
		{
			name: "plain record",
			line: "1 AAPL 100 10",
			want: marketdatav1.Tick{Timestamp: 1, Symbol: "AAPL", Price: 100, Volume: 10},
		},
		{
			name: "tabs, runs of whitespace, leading space and trailing CR",
			line: "  1\t AAPL\t 100.5 \t 20\r",
			want: marketdatav1.Tick{Timestamp: 1, Symbol: "AAPL", Price: 100.5, Volume: 20},
		},
		{
			name: "negative price and volume",
			line: "5 OIL -3.25 -100",
			want: marketdatav1.Tick{Timestamp: 5, Symbol: "OIL", Price: float64(float32(-3.25)), Volume: -100},
		},
		{
			name: "zero everything",
			line: "0 Z 0 0",
			want: marketdatav1.Tick{Timestamp: 0, Symbol: "Z", Price: 0, Volume: 0},
		},
		{
			name: "seven-byte symbol",
			line: "1 ABCDEFG 1 1",
			want: marketdatav1.Tick{Timestamp: 1, Symbol: "ABCDEFG", Price: 1, Volume: 1},
		},
		{
			name: "empty line",
			line: "",
			err:  ErrEmptyLine,
		},
		{
			name: "whitespace-only line",
			line: " \t ",
			err:  ErrEmptyLine,
		},
		{
			name: "missing field",
			line: "1 AAPL 100",
			err:  ErrFieldCount,
		},
		{
			name: "extra field",
			line: "1 AAPL 100 10 junk",
			err:  ErrFieldCount,
		},
		{
			name: "free text",
			line: "bad line",
			err:  ErrFieldCount,
		},
		{
			name: "symbol too long",
			line: "1 ABCDEFGH 100 10",
			err:  ErrSymbolTooLong,
		},
		{
			name: "non-numeric timestamp",
			line: "x AAPL 100 10",
			err:  ErrInvalidNumber,
		},
		{
			name: "negative timestamp",
			line: "-1 AAPL 100 10",
			err:  ErrInvalidNumber,
		},
		{
			name: "non-numeric price",
			line: "1 AAPL abc 10",
			err:  ErrInvalidNumber,
		},
		{
			name: "price overflows binary32",
			line: "1 AAPL 1e40 10",
			err:  ErrInvalidNumber,
		},
		{
			name: "non-numeric volume",
			line: "1 AAPL 100 ten",
			err:  ErrInvalidNumber,
		},
		{
			name: "volume overflows int64",
			line: "1 AAPL 100 9223372036854775808",
			err:  ErrInvalidNumber,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			tick, err := ParseTextTick(tc.line)
			if tc.err != nil {
				assert.ErrorIs(t, err, tc.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, tick)
		})
	}
}

func TestAppendTextTickRoundTrip(t *testing.T) {
	tick := marketdatav1.Tick{Timestamp: 1700000000, Symbol: "AAPL", Price: float64(float32(187.25)), Volume: 300}

	line := AppendTextTick(nil, tick)
	require.Equal(t, byte('\n'), line[len(line)-1])

	parsed, err := ParseTextTick(string(line[:len(line)-1]))
	require.NoError(t, err)
	assert.Equal(t, tick, parsed)
}
