package core

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	// DisplayLayout is how list responses and the UI render dates.
	DisplayLayout = "02/01/2006"
	// WireLayout is the date format write operations send.
	WireLayout = "2006-01-02"
)

// Date is a calendar day without time of day, stored as UTC midnight.
type Date struct {
	time.Time
}

// DateRange is an inclusive range of calendar days.
type DateRange struct {
	From Date
	To   Date
}

// NewDate creates a new Date from year, month, day
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// Today returns the current calendar day as seen in loc.
func Today(now time.Time, loc *time.Location) Date {
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := now.In(loc).Date()
	return NewDate(y, int(m), d)
}

func (d Date) Validate() error {
	if d.IsZero() {
		return fmt.Errorf("%w: date cannot be zero", ErrInvalidDate)
	}
	_, month, day := d.Date()
	if day < 1 || day > 31 {
		return ErrInvalidDay
	}
	if month < 1 || month > 12 {
		return ErrInvalidMonth
	}
	return nil
}

// AddDays moves the date by n calendar days.
func (d Date) AddDays(n int) Date {
	return Date{Time: d.Time.AddDate(0, 0, n)}
}

// Display formats the date as dd/mm/yyyy.
func (d Date) Display() string {
	return d.Format(DisplayLayout)
}

// Wire formats the date as yyyy-mm-dd.
func (d Date) Wire() string {
	return d.Format(WireLayout)
}

// ParseDisplayDate parses dd/mm/yyyy. Single digit day and month are accepted.
func ParseDisplayDate(s string) (Date, error) {
	parts := strings.Split(strings.TrimSpace(s), "/")
	if len(parts) != 3 {
		return Date{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
	}
	return dateFromParts(s, parts[2], parts[1], parts[0])
}

// ParseWireDate parses yyyy-mm-dd.
func ParseWireDate(s string) (Date, error) {
	parts := strings.Split(strings.TrimSpace(s), "-")
	if len(parts) != 3 {
		return Date{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
	}
	return dateFromParts(s, parts[0], parts[1], parts[2])
}

// ParseAnyDate accepts either the display or the wire format.
func ParseAnyDate(s string) (Date, error) {
	if strings.Contains(s, "/") {
		return ParseDisplayDate(s)
	}
	return ParseWireDate(s)
}

// ParseDateRange parses both bounds in either format and checks from <= to.
func ParseDateRange(from, to string) (DateRange, error) {
	if strings.TrimSpace(from) == "" || strings.TrimSpace(to) == "" {
		return DateRange{}, fmt.Errorf("%w: please select a date range", ErrInvalidDate)
	}
	f, err := ParseAnyDate(from)
	if err != nil {
		return DateRange{}, err
	}
	t, err := ParseAnyDate(to)
	if err != nil {
		return DateRange{}, err
	}
	r := DateRange{From: f, To: t}
	return r, r.Validate()
}

func (r DateRange) Validate() error {
	if err := r.From.Validate(); err != nil {
		return err
	}
	if err := r.To.Validate(); err != nil {
		return err
	}
	if r.From.After(r.To.Time) {
		return ErrInvalidRange
	}
	return nil
}

// Contains reports whether d falls inside the inclusive range.
func (r DateRange) Contains(d Date) bool {
	return !d.Before(r.From.Time) && !d.After(r.To.Time)
}

// LastDays returns the range ending today and starting n days earlier.
func LastDays(today Date, n int) DateRange {
	return DateRange{From: today.AddDays(-n), To: today}
}

// DisplayToWire converts dd/mm/yyyy to yyyy-mm-dd. Values already in wire
// format, or not recognisable, are returned unchanged.
func DisplayToWire(s string) string {
	d, err := ParseDisplayDate(s)
	if err != nil {
		return s
	}
	return d.Wire()
}

// WireToDisplay converts yyyy-mm-dd to dd/mm/yyyy. Values already in display
// format, or not recognisable, are returned unchanged.
func WireToDisplay(s string) string {
	if strings.Contains(s, "/") {
		return s
	}
	d, err := ParseWireDate(s)
	if err != nil {
		return s
	}
	return d.Display()
}

func dateFromParts(raw, ys, ms, ds string) (Date, error) {
	y, err1 := strconv.Atoi(strings.TrimSpace(ys))
	m, err2 := strconv.Atoi(strings.TrimSpace(ms))
	d, err3 := strconv.Atoi(strings.TrimSpace(ds))
	if err1 != nil || err2 != nil || err3 != nil {
		return Date{}, fmt.Errorf("%w: %q", ErrInvalidDate, raw)
	}
	if m < 1 || m > 12 {
		return Date{}, fmt.Errorf("%w: %q", ErrInvalidMonth, raw)
	}
	if d < 1 || d > 31 {
		return Date{}, fmt.Errorf("%w: %q", ErrInvalidDay, raw)
	}
	date := NewDate(y, m, d)
	// time.Date normalises 31/02 into March; reject that instead.
	if date.Day() != d || int(date.Month()) != m {
		return Date{}, fmt.Errorf("%w: %q", ErrInvalidDate, raw)
	}
	return date, nil
}
