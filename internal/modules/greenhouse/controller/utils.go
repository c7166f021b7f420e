package controller

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/DroneTales/GreenHouse/internal/modules/greenhouse/service"
	"github.com/DroneTales/GreenHouse/shared/types"
)

const (
	defaultReadingsWindow = 24 * time.Hour
	defaultReadingsLimit  = 1000
	maxReadingsLimit      = 10000
)

type readingView struct {
	Time  time.Time `json:"time"`
	Kind  int       `json:"kind"`
	Label string    `json:"label"`
	Value float64   `json:"value"`
}

func toReadingViews(readings []types.Reading) []readingView {
	out := make([]readingView, 0, len(readings))
	for _, r := range readings {
		out = append(out, readingView{Time: r.Time, Kind: int(r.Kind), Label: r.Kind.Label(), Value: r.Value})
	}
	return out
}

func parseTimeParam(q url.Values, name string) (time.Time, error) {
	s := q.Get(name)
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid '%s' (expected RFC3339)", name)
	}
	return t, nil
}

func parseSeriesQuery(r *http.Request) (service.RangeSelector, types.Group, error) {
	q := r.URL.Query()

	from, err := parseTimeParam(q, "from")
	if err != nil {
		return service.RangeSelector{}, "", err
	}
	to, err := parseTimeParam(q, "to")
	if err != nil {
		return service.RangeSelector{}, "", err
	}

	group, err := types.ParseGroup(q.Get("group"))
	if err != nil {
		return service.RangeSelector{}, "", err
	}

	return service.RangeSelector{
		Preset: strings.TrimSpace(q.Get("range")),
		From:   from,
		To:     to,
	}, group, nil
}

// parseReadingsQuery defaults to the last 24 hours when from/to are absent.
func parseReadingsQuery(r *http.Request, now time.Time) (from time.Time, to time.Time, kinds []types.Kind, limit int, err error) {
	q := r.URL.Query()

	from, err = parseTimeParam(q, "from")
	if err != nil {
		return time.Time{}, time.Time{}, nil, 0, err
	}
	to, err = parseTimeParam(q, "to")
	if err != nil {
		return time.Time{}, time.Time{}, nil, 0, err
	}
	if to.IsZero() {
		to = now
	}
	if from.IsZero() {
		from = to.Add(-defaultReadingsWindow)
	}
	if from.After(to) {
		return time.Time{}, time.Time{}, nil, 0, errors.New("'from' must be <= 'to'")
	}

	for _, s := range q["kind"] {
		code, convErr := strconv.Atoi(s)
		if convErr != nil || code <= 0 {
			return time.Time{}, time.Time{}, nil, 0, fmt.Errorf("invalid 'kind' %q (expected positive kind code)", s)
		}
		kinds = append(kinds, types.Kind(code))
	}

	limit = defaultReadingsLimit
	if s := q.Get("limit"); s != "" {
		n, convErr := strconv.Atoi(s)
		if convErr != nil {
			return time.Time{}, time.Time{}, nil, 0, errors.New("invalid 'limit' (expected integer)")
		}
		if n <= 0 {
			return time.Time{}, time.Time{}, nil, 0, errors.New("'limit' must be > 0")
		}
		if n > maxReadingsLimit {
			return time.Time{}, time.Time{}, nil, 0, fmt.Errorf("'limit' must be <= %d", maxReadingsLimit)
		}
		limit = n
	}

	return from, to, kinds, limit, nil
}

func isBadRequest(err error) bool {
	return errors.Is(err, service.ErrInvalidRange) || errors.Is(err, service.ErrInvalidGroup)
}
