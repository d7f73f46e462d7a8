// Package analytics aggregates booking rows into the figures shown on the
// dashboard, analytics and report screens. Everything here is pure: callers
// fetch the rows for a range and hand them in.
package analytics

import (
	"errors"
	"math"
	"sort"
	"strings"
	"time"

	"courier-console-api/internal/billing"
	"courier-console-api/internal/booking"

	"github.com/shopspring/decimal"
)

type Granularity string

const (
	Day   Granularity = "day"
	Week  Granularity = "week"
	Month Granularity = "month"
)

const (
	DefaultWindowDays = 30
	MaxRangeDays      = 366
	TopN              = 10
)

var (
	ErrInvalidDate        = errors.New("dates must be YYYY-MM-DD or RFC 3339")
	ErrInvalidRange       = errors.New("from must not be after to")
	ErrRangeTooLong       = errors.New("range exceeds 366 days")
	ErrInvalidGranularity = errors.New("granularity must be day, week or month")
)

// Range is a half-open interval [From, To).
type Range struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// ParseRange reads from/to query values. A date-only "to" covers that whole
// day. Missing bounds default to the last DefaultWindowDays ending at now.
func ParseRange(from, to string, now time.Time) (Range, error) {
	now = now.UTC()
	r := Range{To: now}

	if to != "" {
		t, dateOnly, err := parseTime(to)
		if err != nil {
			return r, err
		}
		if dateOnly {
			t = t.AddDate(0, 0, 1)
		}
		r.To = t
	}
	if from != "" {
		t, _, err := parseTime(from)
		if err != nil {
			return r, err
		}
		r.From = t
	} else {
		r.From = r.To.AddDate(0, 0, -DefaultWindowDays)
	}

	if r.From.After(r.To) {
		return r, ErrInvalidRange
	}
	if r.To.Sub(r.From) > MaxRangeDays*24*time.Hour {
		return r, ErrRangeTooLong
	}
	return r, nil
}

func parseTime(s string) (time.Time, bool, error) {
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, true, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), false, nil
	}
	return time.Time{}, false, ErrInvalidDate
}

// ParseBound reads a single filter bound. A date-only upper bound is moved
// to the start of the next day so the day itself is included.
func ParseBound(s string, upper bool) (time.Time, error) {
	t, dateOnly, err := parseTime(s)
	if err != nil {
		return t, err
	}
	if upper && dateOnly {
		t = t.AddDate(0, 0, 1)
	}
	return t, nil
}

func ParseGranularity(s string) (Granularity, error) {
	switch Granularity(s) {
	case "":
		return Day, nil
	case Day, Week, Month:
		return Granularity(s), nil
	}
	return "", ErrInvalidGranularity
}

// Truncate returns the start of the bucket holding t. Weeks start on Monday.
func (g Granularity) Truncate(t time.Time) time.Time {
	t = t.UTC()
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	switch g {
	case Week:
		offset := (int(day.Weekday()) + 6) % 7
		return day.AddDate(0, 0, -offset)
	case Month:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	}
	return day
}

func (g Granularity) next(t time.Time) time.Time {
	switch g {
	case Week:
		return t.AddDate(0, 0, 7)
	case Month:
		return t.AddDate(0, 1, 0)
	}
	return t.AddDate(0, 0, 1)
}

// BookingRow is the projection of a booking the aggregations need.
type BookingRow struct {
	ID              int64
	CreatedAt       time.Time
	Status          string
	Amount          decimal.Decimal
	PickupCity      string
	DeliveryCity    string
	OfficeAccountID *int64
}

type Point struct {
	Bucket   time.Time       `json:"bucket"`
	Bookings int             `json:"bookings"`
	Revenue  decimal.Decimal `json:"revenue"`
}

// Series buckets rows over r. Every bucket in the range is present, so a
// quiet day shows as zero rather than a gap in the chart.
func Series(rows []BookingRow, r Range, g Granularity) []Point {
	var points []Point
	index := make(map[time.Time]int)
	for b := g.Truncate(r.From); b.Before(r.To); b = g.next(b) {
		index[b] = len(points)
		points = append(points, Point{Bucket: b, Revenue: decimal.Zero})
	}

	for _, row := range rows {
		i, ok := index[g.Truncate(row.CreatedAt)]
		if !ok {
			continue
		}
		points[i].Bookings++
		if billing.CountsAsRevenue(row.Status) {
			points[i].Revenue = points[i].Revenue.Add(row.Amount)
		}
	}
	return points
}

type StatusCount struct {
	Status string `json:"status"`
	Count  int    `json:"count"`
}

// StatusBreakdown counts rows per status in lifecycle order, zeros included.
func StatusBreakdown(rows []BookingRow) []StatusCount {
	counts := make(map[string]int, len(booking.Statuses))
	for _, row := range rows {
		counts[row.Status]++
	}
	out := make([]StatusCount, 0, len(booking.Statuses))
	for _, s := range booking.Statuses {
		out = append(out, StatusCount{Status: s, Count: counts[s]})
	}
	return out
}

type Route struct {
	From     string          `json:"from"`
	To       string          `json:"to"`
	Bookings int             `json:"bookings"`
	Revenue  decimal.Decimal `json:"revenue"`
}

// TopRoutes ranks pickup→delivery pairs by bookings, then revenue, then name.
func TopRoutes(rows []BookingRow, n int) []Route {
	type key struct{ from, to string }
	agg := make(map[key]*Route)
	for _, row := range rows {
		k := key{normalizeCity(row.PickupCity), normalizeCity(row.DeliveryCity)}
		rt, ok := agg[k]
		if !ok {
			rt = &Route{From: k.from, To: k.to, Revenue: decimal.Zero}
			agg[k] = rt
		}
		rt.Bookings++
		if billing.CountsAsRevenue(row.Status) {
			rt.Revenue = rt.Revenue.Add(row.Amount)
		}
	}

	out := make([]Route, 0, len(agg))
	for _, rt := range agg {
		out = append(out, *rt)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Bookings != b.Bookings {
			return a.Bookings > b.Bookings
		}
		if c := a.Revenue.Cmp(b.Revenue); c != 0 {
			return c > 0
		}
		if a.From != b.From {
			return a.From < b.From
		}
		return a.To < b.To
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

type CityCount struct {
	City     string          `json:"city"`
	Bookings int             `json:"bookings"`
	Revenue  decimal.Decimal `json:"revenue"`
}

// TopCities ranks cities by the bookings picked up or delivered there. A
// booking within one city counts once for it.
func TopCities(rows []BookingRow, n int) []CityCount {
	agg := make(map[string]*CityCount)
	add := func(city string, row BookingRow) {
		c, ok := agg[city]
		if !ok {
			c = &CityCount{City: city, Revenue: decimal.Zero}
			agg[city] = c
		}
		c.Bookings++
		if billing.CountsAsRevenue(row.Status) {
			c.Revenue = c.Revenue.Add(row.Amount)
		}
	}
	for _, row := range rows {
		pickup, delivery := normalizeCity(row.PickupCity), normalizeCity(row.DeliveryCity)
		add(pickup, row)
		if delivery != pickup {
			add(delivery, row)
		}
	}

	out := make([]CityCount, 0, len(agg))
	for _, c := range agg {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Bookings != out[j].Bookings {
			return out[i].Bookings > out[j].Bookings
		}
		return out[i].City < out[j].City
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

type Summary struct {
	TotalBookings int             `json:"total_bookings"`
	Revenue       decimal.Decimal `json:"revenue"`
	AverageValue  decimal.Decimal `json:"average_value"`
	Pending       int             `json:"pending"`
	InProgress    int             `json:"in_progress"`
	Delivered     int             `json:"delivered"`
	Cancelled     int             `json:"cancelled"`
	Returned      int             `json:"returned"`
	DeliveryRate  float64         `json:"delivery_rate"`
}

// Summarize computes headline figures. Average value is revenue over the
// bookings that count as revenue; delivery rate is delivered over all
// bookings, as a percentage with one decimal.
func Summarize(rows []BookingRow) Summary {
	s := Summary{Revenue: decimal.Zero, AverageValue: decimal.Zero}
	counted := 0
	for _, row := range rows {
		s.TotalBookings++
		switch {
		case row.Status == booking.StatusPending:
			s.Pending++
		case booking.IsInProgress(row.Status):
			s.InProgress++
		case row.Status == booking.StatusDelivered:
			s.Delivered++
		case row.Status == booking.StatusCancelled:
			s.Cancelled++
		case row.Status == booking.StatusReturned:
			s.Returned++
		}
		if billing.CountsAsRevenue(row.Status) {
			s.Revenue = s.Revenue.Add(row.Amount)
			counted++
		}
	}
	if counted > 0 {
		s.AverageValue = s.Revenue.Div(decimal.NewFromInt(int64(counted))).Round(2)
	}
	s.DeliveryRate = Percent(s.Delivered, s.TotalBookings)
	return s
}

// Percent is part/whole×100 with one decimal, 0 when whole is 0.
func Percent(part, whole int) float64 {
	if whole <= 0 {
		return 0
	}
	return math.Round(float64(part)/float64(whole)*1000) / 10
}

// Report is the full analytics payload for a range.
type Report struct {
	Range       Range         `json:"range"`
	Granularity Granularity   `json:"granularity"`
	Summary     Summary       `json:"summary"`
	Series      []Point       `json:"series"`
	Statuses    []StatusCount `json:"statuses"`
	TopRoutes   []Route       `json:"top_routes"`
	TopCities   []CityCount   `json:"top_cities"`
}

func Build(rows []BookingRow, r Range, g Granularity) Report {
	return Report{
		Range:       r,
		Granularity: g,
		Summary:     Summarize(rows),
		Series:      Series(rows, r, g),
		Statuses:    StatusBreakdown(rows),
		TopRoutes:   TopRoutes(rows, TopN),
		TopCities:   TopCities(rows, TopN),
	}
}

func normalizeCity(c string) string {
	c = strings.TrimSpace(c)
	if c == "" {
		return "Unknown"
	}
	return c
}
