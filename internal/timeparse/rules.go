package timeparse

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/enviroquery/aqroute/internal/model"
)

var (
	reMachineSplit = regexp.MustCompile(`\s*(?:[,~]|至|到)\s*`)
	reYMD          = regexp.MustCompile(`(\d{4})年(\d{1,2})月(\d{1,2})[日号]`)
	reYMDSlash     = regexp.MustCompile(`(\d{4})[-/](\d{1,2})[-/](\d{1,2})`)
	reYM           = regexp.MustCompile(`(\d{4})年(\d{1,2})月`)
	reYear         = regexp.MustCompile(`(\d{4})年`)
	reQuarter      = regexp.MustCompile(`(?:(\d{4})年)?第?([一二三四1-4])季度`)
	reRecentN      = regexp.MustCompile(`(?:最近|过去|近)(\d+|[一二三四五六七八九十]+)天`)
)

var cnDigits = map[string]int{
	"一": 1, "二": 2, "三": 3, "四": 4, "五": 5,
	"六": 6, "七": 7, "八": 8, "九": 9, "十": 10,
}

func parseCount(s string) (int, error) {
	if n, err := strconv.Atoi(s); err == nil {
		return n, nil
	}
	if n, ok := cnDigits[s]; ok {
		return n, nil
	}
	return 0, eris.Errorf("timeparse: unsupported count %q", s)
}

// parsePhrase applies the deterministic rule table to one extracted phrase
// against a reference clock. Bare month and month-day phrases have no rule
// here: tier 2 retries them with the current year prefixed.
func parsePhrase(ph Phrase, now time.Time) (model.TimeRange, error) {
	switch ph.Kind {
	case KindMachineRange:
		return parseMachineRange(ph.Text)
	case KindAbsoluteDate:
		return parseAbsoluteDate(ph.Text, now)
	case KindAbsoluteMonth:
		return parseAbsoluteMonth(ph.Text, now)
	case KindAbsoluteYear:
		return parseAbsoluteYear(ph.Text, now)
	case KindQuarter:
		return parseQuarter(ph.Text, now)
	case KindRecentN:
		return parseRecentN(ph.Text, now)
	case KindRelativeDay, KindRelativeWeek, KindRelativeMonth, KindRelativeYear, KindRecentVagueMarker:
		return parseRelative(ph.Text, now)
	case KindMonthDay, KindMonthOnly:
		return model.TimeRange{}, eris.Errorf("timeparse: phrase %q needs year completion", ph.Text)
	default:
		return model.TimeRange{}, eris.Errorf("timeparse: no rule for kind %s", ph.Kind)
	}
}

func parseMachineRange(text string) (model.TimeRange, error) {
	parts := reMachineSplit.Split(text, 2)
	if len(parts) != 2 {
		return model.TimeRange{}, eris.Errorf("timeparse: malformed machine range %q", text)
	}
	r, ok := model.ParseWireRange([]string{parts[0], parts[1]})
	if !ok {
		return model.TimeRange{}, eris.Errorf("timeparse: invalid machine range %q", text)
	}
	return r, nil
}

func parseAbsoluteDate(text string, now time.Time) (model.TimeRange, error) {
	m := reYMD.FindStringSubmatch(text)
	if m == nil {
		m = reYMDSlash.FindStringSubmatch(text)
	}
	if m == nil {
		return model.TimeRange{}, eris.Errorf("timeparse: unrecognized date %q", text)
	}
	year, _ := strconv.Atoi(m[1])
	month, _ := strconv.Atoi(m[2])
	day, _ := strconv.Atoi(m[3])
	d := time.Date(year, time.Month(month), day, 0, 0, 0, 0, now.Location())
	if d.Year() != year || int(d.Month()) != month || d.Day() != day {
		return model.TimeRange{}, eris.Errorf("timeparse: impossible date %q", text)
	}
	return model.DayRange(d, d), nil
}

func parseAbsoluteMonth(text string, now time.Time) (model.TimeRange, error) {
	m := reYM.FindStringSubmatch(text)
	if m == nil {
		return model.TimeRange{}, eris.Errorf("timeparse: unrecognized month %q", text)
	}
	year, _ := strconv.Atoi(m[1])
	month, _ := strconv.Atoi(m[2])
	if month < 1 || month > 12 {
		return model.TimeRange{}, eris.Errorf("timeparse: impossible month %q", text)
	}
	first := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, now.Location())
	last := first.AddDate(0, 1, -1)
	return model.DayRange(first, last), nil
}

func parseAbsoluteYear(text string, now time.Time) (model.TimeRange, error) {
	m := reYear.FindStringSubmatch(text)
	if m == nil {
		return model.TimeRange{}, eris.Errorf("timeparse: unrecognized year %q", text)
	}
	year, _ := strconv.Atoi(m[1])
	first := time.Date(year, time.January, 1, 0, 0, 0, 0, now.Location())
	last := time.Date(year, time.December, 31, 0, 0, 0, 0, now.Location())
	return model.DayRange(first, last), nil
}

func parseQuarter(text string, now time.Time) (model.TimeRange, error) {
	m := reQuarter.FindStringSubmatch(text)
	if m == nil {
		return model.TimeRange{}, eris.Errorf("timeparse: unrecognized quarter %q", text)
	}
	year := now.Year()
	if m[1] != "" {
		year, _ = strconv.Atoi(m[1])
	}
	q := map[string]int{"一": 1, "1": 1, "二": 2, "2": 2, "三": 3, "3": 3, "四": 4, "4": 4}[m[2]]
	if q == 0 {
		return model.TimeRange{}, eris.Errorf("timeparse: unrecognized quarter %q", text)
	}
	first := time.Date(year, time.Month((q-1)*3+1), 1, 0, 0, 0, 0, now.Location())
	last := first.AddDate(0, 3, -1)
	return model.DayRange(first, last), nil
}

func parseRecentN(text string, now time.Time) (model.TimeRange, error) {
	m := reRecentN.FindStringSubmatch(text)
	if m == nil {
		return model.TimeRange{}, eris.Errorf("timeparse: unrecognized span %q", text)
	}
	n, err := parseCount(m[1])
	if err != nil {
		return model.TimeRange{}, err
	}
	if n < 1 {
		return model.TimeRange{}, eris.Errorf("timeparse: non-positive span %q", text)
	}
	return model.DayRange(now.AddDate(0, 0, -(n-1)), now), nil
}

func parseRelative(text string, now time.Time) (model.TimeRange, error) {
	switch text {
	case "今天", "今日":
		return model.DayRange(now, now), nil
	case "昨天", "昨日":
		d := now.AddDate(0, 0, -1)
		return model.DayRange(d, d), nil
	case "前天":
		d := now.AddDate(0, 0, -2)
		return model.DayRange(d, d), nil
	case "本周", "这周":
		return model.DayRange(mondayOf(now), now), nil
	case "上周":
		monday := mondayOf(now).AddDate(0, 0, -7)
		return model.DayRange(monday, monday.AddDate(0, 0, 6)), nil
	case "本月", "这个月":
		first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
		return model.DayRange(first, now), nil
	case "上月", "上个月":
		first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location()).AddDate(0, -1, 0)
		return model.DayRange(first, first.AddDate(0, 1, -1)), nil
	case "今年":
		first := time.Date(now.Year(), time.January, 1, 0, 0, 0, 0, now.Location())
		return model.DayRange(first, now), nil
	case "去年":
		return yearBounds(now.Year()-1, now.Location()), nil
	case "前年":
		return yearBounds(now.Year()-2, now.Location()), nil
	default:
		return model.TimeRange{}, eris.Errorf("timeparse: unrecognized relative %q", text)
	}
}

func yearBounds(year int, loc *time.Location) model.TimeRange {
	return model.DayRange(
		time.Date(year, time.January, 1, 0, 0, 0, 0, loc),
		time.Date(year, time.December, 31, 0, 0, 0, 0, loc),
	)
}

// mondayOf returns the Monday of the week containing d.
func mondayOf(d time.Time) time.Time {
	wd := int(d.Weekday())
	if wd == 0 {
		wd = 7
	}
	return d.AddDate(0, 0, -(wd - 1))
}

// completeYear prefixes the current year onto a bare month or month-day
// phrase for the tier-2 retry.
func completeYear(text string, now time.Time) string {
	return strconv.Itoa(now.Year()) + "年" + strings.TrimPrefix(text, "年")
}
