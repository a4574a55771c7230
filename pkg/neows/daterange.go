package neows

import "time"

// DateLayout is the calendar date format NeoWs expects.
const DateLayout = "2006-01-02"

// DateRange is a pair of caller-supplied dates. Neither value is checked.
type DateRange struct {
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
}

// WindowEndingAt returns the inclusive window of days calendar days that ends
// on t's UTC date. days below 1 is treated as 1.
func WindowEndingAt(t time.Time, days int) DateRange {
	if days < 1 {
		days = 1
	}
	end := t.UTC()
	start := end.AddDate(0, 0, -(days - 1))
	return DateRange{
		StartDate: start.Format(DateLayout),
		EndDate:   end.Format(DateLayout),
	}
}

func (r DateRange) String() string {
	return r.StartDate + ".." + r.EndDate
}
