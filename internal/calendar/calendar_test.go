package calendar

import (
	"testing"
	"time"

	"github.com/pinggolf/stockledger/internal/apperr"
)

func mustDate(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := time.Parse("2006-01-02", s)
	if err != nil {
		t.Fatalf("bad date %q: %v", s, err)
	}
	return d
}

func weekdayCal() *Calendar {
	return New([]int{1, 2, 3, 4, 5}, []int{1, 2, 3, 4, 5, 6}, 2, nil)
}

func TestNextReceiptDateStandardSkipsWeekendAndHoliday(t *testing.T) {
	c := weekdayCal()
	c.Holidays["2026-02-09"] = true // Monday holiday

	// 2026-02-06 is a Friday; +2 lead time lands on Sunday 2026-02-08,
	// which is not a valid delivery day, and Monday 2026-02-09 is a
	// holiday, so it rolls to Tuesday 2026-02-10.
	orderDate := mustDate(t, "2026-02-06")
	got, err := c.NextReceiptDate(orderDate, LaneStandard)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := mustDate(t, "2026-02-10"); !got.Equal(want) {
		t.Fatalf("NextReceiptDate = %s, want %s", got.Format("2006-01-02"), want.Format("2006-01-02"))
	}
}

func TestInvalidLaneOnNonFriday(t *testing.T) {
	c := weekdayCal()
	monday := mustDate(t, "2026-02-09")
	if _, err := c.NextReceiptDate(monday, LaneSaturday); err == nil {
		t.Fatal("expected error for SATURDAY lane on a Monday order date")
	} else if kind, ok := apperr.KindOf(err); !ok || kind != apperr.InvalidInput {
		t.Fatalf("expected InvalidInput, got %v (ok=%v)", kind, ok)
	}
	if _, err := c.NextReceiptDate(monday, LaneMonday); err == nil {
		t.Fatal("expected error for MONDAY lane on a Monday order date")
	}
}

func TestFridayDualLaneReceiptDates(t *testing.T) {
	c := weekdayCal()
	friday := mustDate(t, "2026-02-06")

	sat, err := c.NextReceiptDate(friday, LaneSaturday)
	if err != nil {
		t.Fatalf("SATURDAY: %v", err)
	}
	if want := mustDate(t, "2026-02-07"); !sat.Equal(want) {
		t.Fatalf("SATURDAY receipt = %s, want %s", sat, want)
	}

	mon, err := c.NextReceiptDate(friday, LaneMonday)
	if err != nil {
		t.Fatalf("MONDAY: %v", err)
	}
	if want := mustDate(t, "2026-02-09"); !mon.Equal(want) {
		t.Fatalf("MONDAY receipt = %s, want %s", mon, want)
	}
}

func TestProtectionWindowIsPositiveAndConsistent(t *testing.T) {
	c := weekdayCal()
	friday := mustDate(t, "2026-02-06")

	r1, r2, p, err := c.ProtectionWindow(friday, LaneStandard)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !r2.After(r1) {
		t.Fatalf("expected r2 after r1, got r1=%s r2=%s", r1, r2)
	}
	wantP := int(r2.Sub(r1).Hours() / 24)
	if p != wantP {
		t.Fatalf("P = %d, want %d", p, wantP)
	}
}

func TestProtectionWindowDeterministic(t *testing.T) {
	c := weekdayCal()
	orderDate := mustDate(t, "2026-03-10")
	r1a, r2a, pa, err := c.ProtectionWindow(orderDate, LaneStandard)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	r1b, r2b, pb, err := c.ProtectionWindow(orderDate, LaneStandard)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !r1a.Equal(r1b) || !r2a.Equal(r2b) || pa != pb {
		t.Fatalf("ProtectionWindow is not deterministic across calls")
	}
}
