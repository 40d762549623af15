package protocol

import (
	"errors"
	"strconv"
	"strings"

	marketdatav1 "github.com/muhammadchandra19/feedhandler/internal/domain/marketdata/v1"
)

// MaxTextSymbolLen bounds the symbol field of a text record.
const MaxTextSymbolLen = 7

// Text parse errors. They are per-line; the stream continues.
var (
	ErrEmptyLine      = errors.New("protocol: empty line")
	ErrFieldCount     = errors.New("protocol: wrong field count")
	ErrSymbolTooLong  = errors.New("protocol: symbol exceeds 7 bytes")
	ErrInvalidNumber  = errors.New("protocol: non-numeric or overflowing field")
)

// ParseTextTick parses one record of the text protocol:
//
//	timestamp symbol price volume
//
// Fields are separated by runs of spaces or tabs; leading whitespace and a
// trailing CR are tolerated. Negative prices and volumes are accepted, as
// are zero values.
func ParseTextTick(line string) (marketdatav1.Tick, error) {
	line = strings.TrimSuffix(line, "\r")

	fields := strings.Fields(line)
	if len(fields) == 0 {
		return marketdatav1.Tick{}, ErrEmptyLine
	}
	if len(fields) != 4 {
		return marketdatav1.Tick{}, ErrFieldCount
	}

	if len(fields[1]) > MaxTextSymbolLen {
		return marketdatav1.Tick{}, ErrSymbolTooLong
	}

	timestamp, err := strconv.ParseUint(fields[0], 10, 64)
	if err != nil {
		return marketdatav1.Tick{}, ErrInvalidNumber
	}

	price, err := strconv.ParseFloat(fields[2], 32)
	if err != nil {
		return marketdatav1.Tick{}, ErrInvalidNumber
	}

	volume, err := strconv.ParseInt(fields[3], 10, 64)
	if err != nil {
		return marketdatav1.Tick{}, ErrInvalidNumber
	}

	return marketdatav1.Tick{
		Timestamp: timestamp,
		Symbol:    fields[1],
		Price:     price,
		Volume:    volume,
	}, nil
}

// AppendTextTick appends the text rendering of a tick, newline-terminated.
// Used by tests and tools; the hot path only parses.
func AppendTextTick(dst []byte, tick marketdatav1.Tick) []byte {
	dst = strconv.AppendUint(dst, tick.Timestamp, 10)
	dst = append(dst, ' ')
	dst = append(dst, tick.Symbol...)
	dst = append(dst, ' ')
	dst = strconv.AppendFloat(dst, tick.Price, 'f', -1, 32)
	dst = append(dst, ' ')
	dst = strconv.AppendInt(dst, tick.Volume, 10)
	return append(dst, '\n')
}
