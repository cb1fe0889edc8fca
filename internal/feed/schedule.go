package feed

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// minInterval keeps a misconfigured schedule from hammering the catalog.
const minInterval = time.Second

var reHHMM = regexp.MustCompile(`^\s*(\d{1,3}):(\d{2})\s*$`)

// ParseSchedule turns a schedule string into a cron.Schedule.
//
// Supported forms:
//   - Cron: "*/3 * * * *", "@hourly", "@every 3m"
//   - Go duration: "180s", "2h30m"
//   - HH:MM interval: "00:03" (3 minutes)
//
// "cron:" forces cron parsing; "every:" or "interval:" forces an interval.
// An empty string yields every DefaultInterval.
func ParseSchedule(raw string) (cron.Schedule, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return cron.Every(DefaultInterval), nil
	}

	low := strings.ToLower(s)
	switch {
	case strings.HasPrefix(low, "cron:"):
		return parseCron(strings.TrimSpace(s[len("cron:"):]))
	case strings.HasPrefix(low, "interval:"):
		return parseEvery(strings.TrimSpace(s[len("interval:"):]))
	case strings.HasPrefix(low, "every:"):
		return parseEvery(strings.TrimSpace(s[len("every:"):]))
	}

	// Whitespace or a leading '@' means cron.
	if strings.ContainsAny(s, " \t\n\r") || strings.HasPrefix(s, "@") {
		return parseCron(s)
	}
	sched, err := parseEvery(s)
	if err != nil {
		return nil, fmt.Errorf("invalid schedule %q (use cron like '*/3 * * * *', HH:MM like '00:03', or duration like '180s')", raw)
	}
	return sched, nil
}

func parseCron(expr string) (cron.Schedule, error) {
	if expr == "" {
		return nil, fmt.Errorf("cron schedule required")
	}
	sched, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron %q: %w", expr, err)
	}
	return sched, nil
}

func parseEvery(v string) (cron.Schedule, error) {
	d, err := parseInterval(v)
	if err != nil {
		return nil, err
	}
	return cron.Every(d), nil
}

func parseInterval(v string) (time.Duration, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, fmt.Errorf("interval required")
	}
	var d time.Duration
	if m := reHHMM.FindStringSubmatch(v); m != nil {
		hh, _ := strconv.Atoi(m[1])
		mm, _ := strconv.Atoi(m[2])
		if mm > 59 {
			return 0, fmt.Errorf("invalid minutes in %q", v)
		}
		d = time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute
	} else {
		var err error
		if d, err = time.ParseDuration(v); err != nil {
			return 0, fmt.Errorf("invalid interval %q (use HH:MM or Go duration like '180s')", v)
		}
	}
	if d < minInterval {
		return 0, fmt.Errorf("interval must be >= %s", minInterval)
	}
	return d, nil
}
