package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/DroneTales/GreenHouse/internal/modules/greenhouse/cache"
	"github.com/DroneTales/GreenHouse/internal/modules/greenhouse/repository"
	"github.com/DroneTales/GreenHouse/shared/topics"
	"github.com/DroneTales/GreenHouse/shared/types"
)

var (
	ErrInvalidRange = errors.New("invalid range")
	ErrInvalidGroup = errors.New("invalid group")
)

const DefaultPreset = "24h"

var presets = map[string]time.Duration{
	"24h": 24 * time.Hour,
	"7d":  7 * 24 * time.Hour,
	"30d": 30 * 24 * time.Hour,
	"1y":  365 * 24 * time.Hour,
}

// PresetNames lists the accepted presets, shortest first.
func PresetNames() []string {
	return []string{"24h", "7d", "30d", "1y"}
}

// RangeSelector is either a named preset relative to now or an explicit
// [From, To) window. The zero value selects DefaultPreset.
type RangeSelector struct {
	Preset string
	From   time.Time
	To     time.Time
}

// SeriesSet holds one series per label of the requested group. Every label is
// present even when it has no points.
type SeriesSet struct {
	From   time.Time                `json:"from"`
	To     time.Time                `json:"to"`
	Group  types.Group              `json:"group"`
	Series map[string][]types.Point `json:"series"`
}

type KindInfo struct {
	Code  int         `json:"code"`
	Name  string      `json:"name"`
	Label string      `json:"label"`
	Group types.Group `json:"group"`
	Topic string      `json:"topic"`
}

type Options struct {
	QueryTimeout time.Duration
	Logger       *slog.Logger
}

type Service struct {
	repository   repository.ReadingRepository
	cache        cache.LatestCache
	mapper       *topics.Mapper
	queryTimeout time.Duration
	logger       *slog.Logger
	now          func() time.Time
}

func NewService(repo repository.ReadingRepository, latest cache.LatestCache, mapper *topics.Mapper, opts Options) *Service {
	if latest == nil {
		latest = cache.Noop{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.QueryTimeout <= 0 {
		opts.QueryTimeout = 5 * time.Second
	}
	return &Service{
		repository:   repo,
		cache:        latest,
		mapper:       mapper,
		queryTimeout: opts.QueryTimeout,
		logger:       opts.Logger,
		now:          time.Now,
	}
}

// Ingest persists r and then refreshes the latest-value cache. The reading is
// durable once Ingest returns nil; cache failures are logged only.
func (s *Service) Ingest(ctx context.Context, r types.Reading) error {
	if !r.Kind.Valid(s.mapper.ZoneCount()) {
		return &repository.StoreError{Op: "insert", Err: fmt.Errorf("%w: kind %d not configured", types.ErrInvalidReading, int(r.Kind))}
	}
	if err := s.repository.Insert(ctx, r); err != nil {
		return err
	}
	if err := s.cache.Set(ctx, r); err != nil {
		s.logger.Warn("latest cache update failed", "kind", r.Kind, "error", err)
	}
	return nil
}

// Resolve turns a selector into a concrete [from, to) window.
func (s *Service) Resolve(sel RangeSelector) (time.Time, time.Time, error) {
	custom := !sel.From.IsZero() || !sel.To.IsZero()
	if sel.Preset != "" && custom {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: use either a preset or from/to, not both", ErrInvalidRange)
	}

	if custom {
		if sel.From.IsZero() || sel.To.IsZero() {
			return time.Time{}, time.Time{}, fmt.Errorf("%w: both from and to are required", ErrInvalidRange)
		}
		if sel.From.After(sel.To) {
			return time.Time{}, time.Time{}, fmt.Errorf("%w: from must be <= to", ErrInvalidRange)
		}
		return sel.From.UTC(), sel.To.UTC(), nil
	}

	preset := sel.Preset
	if preset == "" {
		preset = DefaultPreset
	}
	d, ok := presets[preset]
	if !ok {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: unknown preset %q (allowed: 24h, 7d, 30d, 1y)", ErrInvalidRange, preset)
	}
	to := s.now().UTC().Truncate(time.Millisecond)
	return to.Add(-d), to, nil
}

func (s *Service) GetSeries(ctx context.Context, sel RangeSelector, group types.Group) (SeriesSet, error) {
	if group == "" {
		group = types.GroupAll
	}
	if group != types.GroupTemperature && group != types.GroupBattery && group != types.GroupAll {
		return SeriesSet{}, fmt.Errorf("%w: %q", ErrInvalidGroup, group)
	}
	from, to, err := s.Resolve(sel)
	if err != nil {
		return SeriesSet{}, err
	}

	kinds := group.Kinds(s.mapper.ZoneCount())
	series := make(map[string][]types.Point, len(kinds))
	for _, k := range kinds {
		series[k.Label()] = []types.Point{}
	}

	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	readings, err := s.repository.QueryRange(ctx, from, to, kinds)
	if err != nil {
		return SeriesSet{}, err
	}
	for _, r := range readings {
		label := r.Kind.Label()
		series[label] = append(series[label], types.Point{Time: r.Time, Value: r.Value})
	}

	return SeriesSet{From: from, To: to, Group: group, Series: series}, nil
}

// Readings returns raw readings of the listed kinds in [from, to), oldest first.
func (s *Service) Readings(ctx context.Context, from, to time.Time, kinds []types.Kind, limit int) ([]types.Reading, error) {
	if from.After(to) {
		return nil, fmt.Errorf("%w: from must be <= to", ErrInvalidRange)
	}
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	return s.repository.QueryRangeLimit(ctx, from, to, kinds, limit)
}

// Latest returns the newest reading per kind of group, from the cache when it
// is enabled and from the store for anything the cache does not hold.
func (s *Service) Latest(ctx context.Context, group types.Group) ([]types.Reading, error) {
	if group == "" {
		group = types.GroupAll
	}
	kinds := group.Kinds(s.mapper.ZoneCount())
	if len(kinds) == 0 {
		return nil, fmt.Errorf("%w: %q", ErrInvalidGroup, group)
	}

	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	byKind := make(map[types.Kind]types.Reading, len(kinds))
	if s.cache.Enabled() {
		cached, err := s.cache.Get(ctx, kinds)
		if err != nil {
			s.logger.Warn("latest cache read failed, using store", "error", err)
		}
		for _, r := range cached {
			byKind[r.Kind] = r
		}
	}

	var missing []types.Kind
	for _, k := range kinds {
		if _, ok := byKind[k]; !ok {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		stored, err := s.repository.Latest(ctx, missing)
		if err != nil {
			return nil, err
		}
		for _, r := range stored {
			byKind[r.Kind] = r
		}
	}

	out := make([]types.Reading, 0, len(byKind))
	for _, k := range kinds {
		if r, ok := byKind[k]; ok {
			out = append(out, r)
		}
	}
	return out, nil
}

// Kinds is the catalogue of kinds this deployment records.
func (s *Service) Kinds() []KindInfo {
	kinds := types.GroupAll.Kinds(s.mapper.ZoneCount())
	out := make([]KindInfo, 0, len(kinds))
	for _, k := range kinds {
		topic, _ := s.mapper.Topic(k)
		out = append(out, KindInfo{
			Code:  int(k),
			Name:  k.String(),
			Label: k.Label(),
			Group: types.GroupOf(k),
			Topic: topic,
		})
	}
	return out
}

func (s *Service) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	return s.repository.Ping(ctx)
}
