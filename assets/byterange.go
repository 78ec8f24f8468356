package assets

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	// ErrMalformedRange is returned when a range unit is not numeric
	ErrMalformedRange = errors.New("malformed byte range")
	// ErrUnsatisfiableRange is returned when a range does not overlap the resource
	ErrUnsatisfiableRange = errors.New("unsatisfiable byte range")
)

// ByteRange is an inclusive, zero-based interval of resource bytes
type ByteRange struct {
	Start int64
	End   int64
}

// ParseByteRange parses a single range unit ("200-499", "-500", "9500-", "42")
// against a resource of the given length. The "bytes=" prefix and the commas
// between units must already be stripped.
//
// The start of an open range is not checked against length; use Satisfiable.
func ParseByteRange(unit string, length int64) (ByteRange, error) {
	dash := strings.IndexByte(unit, '-')
	switch {
	case dash < 0:
		start, err := parseOffset(unit)
		if err != nil {
			return ByteRange{}, err
		}
		return ByteRange{Start: start, End: length - 1}, nil

	case dash == 0:
		count, err := parseOffset(unit[1:])
		if err != nil {
			return ByteRange{}, err
		}
		start := length - count
		if start < 0 {
			start = 0
		}
		return ByteRange{Start: start, End: length - 1}, nil

	default:
		start, err := parseOffset(unit[:dash])
		if err != nil {
			return ByteRange{}, err
		}
		endText := unit[dash+1:]
		if endText == "" {
			return ByteRange{Start: start, End: length - 1}, nil
		}
		end, err := parseOffset(endText)
		if err != nil {
			return ByteRange{}, err
		}
		if end > length-1 {
			end = length - 1
		}
		return ByteRange{Start: start, End: end}, nil
	}
}

// Satisfiable reports whether the range lies within a resource of the given length
func (r ByteRange) Satisfiable(length int64) bool {
	return r.Start >= 0 && r.Start <= r.End && r.End < length
}

// Len returns the number of bytes covered by the range
func (r ByteRange) Len() int64 {
	return r.End - r.Start + 1
}

func (r ByteRange) String() string {
	return fmt.Sprintf("%d-%d", r.Start, r.End)
}

// maxRangeFactor bounds the bytes a single Range header may ask for, as a
// multiple of the resource length.
const maxRangeFactor = 2

// parseRangeHeader parses every unit of a Range header value. A header without
// "=" yields no ranges.
func parseRangeHeader(header string, length int64) ([]ByteRange, error) {
	eq := strings.IndexByte(header, '=')
	if eq < 0 {
		return nil, nil
	}

	units := strings.Split(header[eq+1:], ",")
	ranges := make([]ByteRange, 0, len(units))
	var total int64
	for _, unit := range units {
		r, err := ParseByteRange(strings.TrimSpace(unit), length)
		if err != nil {
			return nil, err
		}
		if !r.Satisfiable(length) {
			return nil, fmt.Errorf("%w: %s of %d bytes", ErrUnsatisfiableRange, r, length)
		}
		total += r.Len()
		if total > maxRangeFactor*length {
			return nil, fmt.Errorf("%w: ranges ask for more than %d times %d bytes", ErrUnsatisfiableRange, maxRangeFactor, length)
		}
		ranges = append(ranges, r)
	}
	return ranges, nil
}

func contentRange(ranges []ByteRange, length int64) string {
	units := make([]string, len(ranges))
	for i, r := range ranges {
		units[i] = r.String()
	}
	return fmt.Sprintf("bytes %s/%d", strings.Join(units, ","), length)
}

// parseOffset accepts unsigned decimal digits only.
func parseOffset(s string) (int64, error) {
	if s == "" {
		return 0, fmt.Errorf("%w: empty offset", ErrMalformedRange)
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return 0, fmt.Errorf("%w: %q", ErrMalformedRange, s)
		}
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrMalformedRange, err)
	}
	return n, nil
}
