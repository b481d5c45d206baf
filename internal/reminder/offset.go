package reminder

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Offset is how long before the anchor instant a reminder fires.
//
// Days are subtracted with calendar arithmetic (AddDate), so "1 day before a
// local midnight" stays at local midnight across a DST change. Clock is a plain
// duration subtracted afterwards. Offset is comparable and used in registry keys.
type Offset struct {
	Days  int
	Clock time.Duration
}

// MaxOffset bounds custom offsets so recurrence scans stay short.
const MaxOffset = 366 * 24 * time.Hour

// StandardOffset is the closed picker list presented to users.
type StandardOffset int

const (
	Before5Minutes StandardOffset = iota + 1
	Before15Minutes
	Before30Minutes
	Before1Hour
	Before1Day
)

// StandardOffsets lists the picker entries in display order.
var StandardOffsets = []StandardOffset{Before5Minutes, Before15Minutes, Before30Minutes, Before1Hour, Before1Day}

func (s StandardOffset) Offset() Offset {
	switch s {
	case Before5Minutes:
		return Offset{Clock: 5 * time.Minute}
	case Before15Minutes:
		return Offset{Clock: 15 * time.Minute}
	case Before30Minutes:
		return Offset{Clock: 30 * time.Minute}
	case Before1Hour:
		return Offset{Clock: time.Hour}
	case Before1Day:
		return Offset{Days: 1}
	default:
		return Offset{}
	}
}

func (s StandardOffset) String() string { return s.Offset().String() }

// Custom returns a custom clock offset. It is validated when the config is built.
func Custom(d time.Duration) Offset { return Offset{Clock: d} }

// CustomDays returns a custom offset of whole calendar days plus a clock remainder.
func CustomDays(days int, clock time.Duration) Offset { return Offset{Days: days, Clock: clock} }

// IsStandard reports whether o matches one of the picker entries.
func (o Offset) IsStandard() bool {
	for _, s := range StandardOffsets {
		if s.Offset() == o {
			return true
		}
	}
	return false
}

func (o Offset) IsZero() bool { return o.Days == 0 && o.Clock == 0 }

// Validate rejects zero and negative offsets.
func (o Offset) Validate() error {
	if o.Days < 0 || o.Clock < 0 {
		return fmt.Errorf("%w: negative offset %s", ErrInvalidConfig, o)
	}
	if o.IsZero() {
		return fmt.Errorf("%w: zero offset", ErrInvalidConfig)
	}
	if o.Approx() > MaxOffset {
		return fmt.Errorf("%w: offset %s exceeds %d days", ErrInvalidConfig, o, int(MaxOffset/(24*time.Hour)))
	}
	return nil
}

// Before returns the instant o before t.
func (o Offset) Before(t time.Time) time.Time {
	if o.Days != 0 {
		t = t.AddDate(0, 0, -o.Days)
	}
	return t.Add(-o.Clock)
}

// Approx is the offset expressed as an absolute duration, ignoring DST.
// Only use it for bounds, never for computing fire instants.
func (o Offset) Approx() time.Duration {
	return time.Duration(o.Days)*24*time.Hour + o.Clock
}

// String renders the canonical compact form: "15m", "1h", "1d", "1d2h30m".
func (o Offset) String() string {
	var b strings.Builder
	if o.Days != 0 {
		b.WriteString(strconv.Itoa(o.Days))
		b.WriteString("d")
	}
	if o.Clock != 0 || o.Days == 0 {
		b.WriteString(compactDuration(o.Clock))
	}
	return b.String()
}

// Label renders a human label for notification content, e.g. "30 minutes".
func (o Offset) Label() string {
	parts := make([]string, 0, 4)
	if o.Days != 0 {
		parts = append(parts, plural(o.Days, "day"))
	}
	d := o.Clock
	if h := int(d / time.Hour); h > 0 {
		parts = append(parts, plural(h, "hour"))
		d -= time.Duration(h) * time.Hour
	}
	if m := int(d / time.Minute); m > 0 {
		parts = append(parts, plural(m, "minute"))
		d -= time.Duration(m) * time.Minute
	}
	if s := int(d / time.Second); s > 0 {
		parts = append(parts, plural(s, "second"))
	}
	if len(parts) == 0 {
		return "0 minutes"
	}
	return strings.Join(parts, " ")
}

var reDays = regexp.MustCompile(`^(\d+)d(.*)$`)

// ParseOffset parses the canonical form produced by String. A "custom:" prefix
// is accepted for values typed into the picker's custom entry.
func ParseOffset(raw string) (Offset, error) {
	s := strings.TrimSpace(strings.ToLower(raw))
	s = strings.TrimPrefix(s, "custom:")
	s = strings.TrimSpace(s)
	if s == "" {
		return Offset{}, fmt.Errorf("%w: offset required", ErrInvalidConfig)
	}
	var o Offset
	if m := reDays.FindStringSubmatch(s); m != nil {
		days, err := strconv.Atoi(m[1])
		if err != nil {
			return Offset{}, fmt.Errorf("%w: invalid offset %q", ErrInvalidConfig, raw)
		}
		o.Days = days
		s = m[2]
	}
	if s != "" {
		d, err := time.ParseDuration(s)
		if err != nil {
			return Offset{}, fmt.Errorf("%w: invalid offset %q: %v", ErrInvalidConfig, raw, err)
		}
		o.Clock = d
	}
	if err := o.Validate(); err != nil {
		return Offset{}, err
	}
	return o, nil
}

func (o Offset) MarshalText() ([]byte, error) { return []byte(o.String()), nil }

func (o *Offset) UnmarshalText(b []byte) error {
	v, err := ParseOffset(string(b))
	if err != nil {
		return err
	}
	*o = v
	return nil
}

func compactDuration(d time.Duration) string {
	s := d.String()
	if strings.HasSuffix(s, "m0s") {
		s = strings.TrimSuffix(s, "0s")
	}
	if strings.HasSuffix(s, "h0m") {
		s = strings.TrimSuffix(s, "0m")
	}
	return s
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return strconv.Itoa(n) + " " + unit + "s"
}
