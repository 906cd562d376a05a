// Package calendar computes order/delivery dates and protection windows
// from a set of valid order/delivery days-of-week, a base lead time, and
// a holiday calendar. Every function here is a pure computation over its
// inputs (spec.md §4.1): no clock access, no I/O.
package calendar

import (
	"time"

	"github.com/pinggolf/stockledger/internal/apperr"
)

// Lane selects which delivery rule next_receipt_date applies.
type Lane string

const (
	// LaneStandard returns the first valid delivery day on or after
	// order_date + BaseLeadTimeDays, skipping holidays.
	LaneStandard Lane = "STANDARD"
	// LaneSaturday is Friday-only: the following Saturday.
	LaneSaturday Lane = "SATURDAY"
	// LaneMonday is Friday-only: the following Monday.
	LaneMonday Lane = "MONDAY"
)

// Calendar is immutable configuration: valid order/delivery weekdays,
// base lead time, and the holiday set.
type Calendar struct {
	ValidOrderDays    map[time.Weekday]bool
	ValidDeliveryDays map[time.Weekday]bool
	BaseLeadTimeDays  int
	Holidays          map[string]bool // "YYYY-MM-DD"
}

// New builds a Calendar from day-of-week lists (0=Sunday..6=Saturday).
func New(orderDays, deliveryDays []int, baseLeadTimeDays int, holidays []string) *Calendar {
	c := &Calendar{
		ValidOrderDays:    toWeekdaySet(orderDays),
		ValidDeliveryDays: toWeekdaySet(deliveryDays),
		BaseLeadTimeDays:  baseLeadTimeDays,
		Holidays:          make(map[string]bool, len(holidays)),
	}
	for _, h := range holidays {
		c.Holidays[h] = true
	}
	return c
}

func toWeekdaySet(days []int) map[time.Weekday]bool {
	set := make(map[time.Weekday]bool, len(days))
	for _, d := range days {
		set[time.Weekday(((d%7)+7)%7)] = true
	}
	return set
}

func dateKey(d time.Time) string {
	return d.Format("2006-01-02")
}

func (c *Calendar) isHoliday(d time.Time) bool {
	return c.Holidays[dateKey(d)]
}

func truncate(d time.Time) time.Time {
	return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)
}

// NextReceiptDate returns the first valid delivery date satisfying the
// lane rule, skipping holidays. LaneSaturday/LaneMonday require orderDate
// to be a Friday and fail with apperr.InvalidInput otherwise.
func (c *Calendar) NextReceiptDate(orderDate time.Time, lane Lane) (time.Time, error) {
	orderDate = truncate(orderDate)

	switch lane {
	case LaneSaturday:
		if orderDate.Weekday() != time.Friday {
			return time.Time{}, apperr.New(apperr.InvalidInput, "lane SATURDAY requires a Friday order_date, got %s", orderDate.Weekday())
		}
		return c.skipHolidaysForward(orderDate.AddDate(0, 0, 1)), nil
	case LaneMonday:
		if orderDate.Weekday() != time.Friday {
			return time.Time{}, apperr.New(apperr.InvalidInput, "lane MONDAY requires a Friday order_date, got %s", orderDate.Weekday())
		}
		return c.skipHolidaysForward(orderDate.AddDate(0, 0, 3)), nil
	case LaneStandard:
		candidate := orderDate.AddDate(0, 0, c.BaseLeadTimeDays)
		return c.nextValidDeliveryDay(candidate), nil
	default:
		return time.Time{}, apperr.New(apperr.InvalidInput, "unknown lane %q", lane)
	}
}

// skipHolidaysForward walks d forward (inclusive) until it lands on a day
// that is not a holiday. It does not re-check the day-of-week, since the
// Friday dual-lane rule fixes the target weekday (Saturday or Monday).
func (c *Calendar) skipHolidaysForward(d time.Time) time.Time {
	for c.isHoliday(d) {
		d = d.AddDate(0, 0, 1)
	}
	return d
}

// nextValidDeliveryDay walks forward from d (inclusive) until it lands on
// a configured delivery weekday that is not a holiday.
func (c *Calendar) nextValidDeliveryDay(d time.Time) time.Time {
	for i := 0; i < 366; i++ {
		if c.ValidDeliveryDays[d.Weekday()] && !c.isHoliday(d) {
			return d
		}
		d = d.AddDate(0, 0, 1)
	}
	return d
}

// nextValidOrderDay walks forward from d (inclusive) until it lands on a
// configured order weekday that is not a holiday.
func (c *Calendar) nextValidOrderDay(d time.Time) time.Time {
	for i := 0; i < 366; i++ {
		if c.ValidOrderDays[d.Weekday()] && !c.isHoliday(d) {
			return d
		}
		d = d.AddDate(0, 0, 1)
	}
	return d
}

// ProtectionWindow returns (r1, r2, P): this order's receipt date, the
// next order's receipt date, and the number of days between them. The
// "next order" is placed on the first valid order day strictly after r1,
// and its receipt date is computed via the STANDARD lane (the Friday dual-lane rule
// is composed by the caller — see internal/policy — not here).
func (c *Calendar) ProtectionWindow(orderDate time.Time, lane Lane) (r1, r2 time.Time, p int, err error) {
	r1, err = c.NextReceiptDate(orderDate, lane)
	if err != nil {
		return time.Time{}, time.Time{}, 0, err
	}

	// Spec: r2 is the next order's receipt date "computed by recursing the
	// calendar forward from r1" — the next order is placed on the first
	// valid order day after this order's own receipt date.
	nextOrderDate := c.nextValidOrderDay(r1.AddDate(0, 0, 1))
	r2, err = c.NextReceiptDate(nextOrderDate, LaneStandard)
	if err != nil {
		return time.Time{}, time.Time{}, 0, err
	}

	p = int(r2.Sub(r1).Hours() / 24)
	if p < 0 {
		return time.Time{}, time.Time{}, 0, apperr.New(apperr.InvalidInput, "computed negative protection period (r1=%s, r2=%s)", dateKey(r1), dateKey(r2))
	}
	return r1, r2, p, nil
}

// String satisfies fmt.Stringer for Lane so error messages read cleanly.
func (l Lane) String() string { return string(l) }
