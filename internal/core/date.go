package core

import (
	"bytes"
	"encoding/json"
	"errors"
	"reflect"
	"strconv"
	"strings"
	"time"
)

const (
	DateLayout  = "2006-01-02"
	MonthLayout = "2006-01"
)

var ErrInvalidDate = errors.New("invalid date")

// Years outside this range do not round-trip through YYYY-MM-DD.
const (
	minYear = 1
	maxYear = 9999
)

// Date is a calendar date held at midnight UTC.
type Date struct {
	time.Time
}

// NewDate creates a new Date from year, month, day
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// DateOf truncates t to its UTC calendar date.
func DateOf(t time.Time) Date {
	y, m, d := t.UTC().Date()
	return NewDate(y, int(m), d)
}

// ParseDate coerces a date-like string. It accepts YYYY-MM-DD and RFC 3339
// timestamps, which are truncated to their UTC date.
func ParseDate(s string) (Date, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Date{}, ErrInvalidDate
	}
	if t, err := time.Parse(DateLayout, s); err == nil {
		return checkedDate(t)
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return checkedDate(t)
	}
	return Date{}, ErrInvalidDate
}

func checkedDate(t time.Time) (Date, error) {
	d := DateOf(t)
	if y := d.Year(); y < minYear || y > maxYear {
		return Date{}, ErrInvalidDate
	}
	return d, nil
}

func (d Date) Validate() error {
	if d.IsZero() {
		return errors.New("date cannot be zero")
	}
	return nil
}

func (d Date) String() string {
	return d.Format(DateLayout)
}

// MonthKey returns the YYYY-MM bucket the date falls in.
func (d Date) MonthKey() string {
	return d.Format(MonthLayout)
}

func (d Date) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.String() + `"`), nil
}

// UnmarshalJSON accepts a date string or a unix-millisecond number.
func (d *Date) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	var (
		parsed Date
		err    error
	)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err = json.Unmarshal(b, &s); err != nil {
			return err
		}
		parsed, err = ParseDate(s)
	} else {
		var ms int64
		if ms, err = strconv.ParseInt(string(b), 10, 64); err == nil {
			parsed, err = checkedDate(time.UnixMilli(ms))
		}
	}
	if err != nil {
		return &json.UnmarshalTypeError{Value: "date " + string(b), Type: reflect.TypeOf(Date{})}
	}
	*d = parsed
	return nil
}
