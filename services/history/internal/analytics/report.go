// Package analytics computes the multi-facet watch-time report for one
// user, live from the history store. Every facet aggregates the same
// derived record set, so cross-facet watch-time sums always agree.
package analytics

import (
	"context"
	"fmt"
	"sort"
	"time"
	"unicode"

	"go.uber.org/zap"

	"github.com/example/video-platform/services/history/internal/store"
)

// Category and language labels.
const (
	CategoryUnknown  = "Unknown"
	CategoryExternal = "External"

	LanguageRegional = "Hindi / Regional"
	LanguageOther    = "English / Other"
)

// Duration bucket labels.
const (
	BucketShort   = "Short (<5 min)"
	BucketMedium  = "Medium (5-20 min)"
	BucketLong    = "Long (>20 min)"
	BucketUnknown = "Unknown"
)

// CategoryResolver batch-maps local video ids to category names.
// Missing ids resolve to CategoryUnknown.
type CategoryResolver interface {
	Categories(ctx context.Context, ids []string) (map[string]string, error)
}

// LanguageClassifier buckets a title by language. It is a best-effort
// heuristic, not a guarantee.
type LanguageClassifier func(title string) string

// ClassifyByScript is the default classifier: any Devanagari rune puts the
// title in the regional bucket, everything else is LanguageOther.
func ClassifyByScript(title string) string {
	for _, r := range title {
		if unicode.Is(unicode.Devanagari, r) {
			return LanguageRegional
		}
	}
	return LanguageOther
}

type Totals struct {
	TotalWatchTime   int     `json:"totalWatchTime"`
	TotalEntries     int     `json:"totalEntries"`
	CompletedCount   int     `json:"completedCount"`
	AverageWatchTime float64 `json:"averageWatchTime"`
}

type PlatformRow struct {
	Platform  store.Platform `json:"platform"`
	WatchTime int            `json:"watchTime"`
	Count     int            `json:"count"`
}

type VideoRow struct {
	VideoID     string         `json:"videoId"`
	Platform    store.Platform `json:"platform"`
	Title       string         `json:"title"`
	Thumbnail   string         `json:"thumbnail"`
	ChannelName string         `json:"channelName"`
	WatchTime   int            `json:"watchTime"`
	Count       int            `json:"count"`
}

type CategoryRow struct {
	Category  string `json:"category"`
	WatchTime int    `json:"watchTime"`
	Count     int    `json:"count"`
}

type ChannelRow struct {
	ChannelName string `json:"channelName"`
	WatchTime   int    `json:"watchTime"`
	Count       int    `json:"count"`
}

type BucketRow struct {
	Bucket    string `json:"bucket"`
	WatchTime int    `json:"watchTime"`
	Count     int    `json:"count"`
}

type LanguageRow struct {
	Language  string `json:"language"`
	WatchTime int    `json:"watchTime"`
	Count     int    `json:"count"`
}

type DayRow struct {
	Date      string `json:"date"` // YYYY-MM-DD
	WatchTime int    `json:"watchTime"`
	Count     int    `json:"count"`
}

type WeekRow struct {
	Year      int `json:"year"` // ISO week-year
	Week      int `json:"week"` // ISO week number
	WatchTime int `json:"watchTime"`
	Count     int `json:"count"`
}

type HourRow struct {
	Hour      int `json:"hour"` // 0-23
	WatchTime int `json:"watchTime"`
	Count     int `json:"count"`
}

// Report is the full analytics answer. It is returned whole or not at all.
type Report struct {
	Totals            Totals        `json:"totals"`
	PlatformBreakdown []PlatformRow `json:"platformBreakdown"`
	PerVideo          []VideoRow    `json:"perVideo"`
	PerCategory       []CategoryRow `json:"perCategory"`
	PerChannel        []ChannelRow  `json:"perChannel"`
	DurationBuckets   []BucketRow   `json:"durationBuckets"`
	LanguageBreakdown []LanguageRow `json:"languageBreakdown"`
	Daily             []DayRow      `json:"daily"`
	Weekly            []WeekRow     `json:"weekly"`
	PeakHours         []HourRow     `json:"peakHours"`
}

const (
	topLimit    = 20
	dailyLimit  = 30
	weeklyLimit = 12
)

// Engine computes reports.
type Engine struct {
	store    store.HistoryStore
	catalog  CategoryResolver
	classify LanguageClassifier
	log      *zap.Logger
}

func NewEngine(st store.HistoryStore, catalog CategoryResolver, classify LanguageClassifier, log *zap.Logger) *Engine {
	if classify == nil {
		classify = ClassifyByScript
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{store: st, catalog: catalog, classify: classify, log: log}
}

// record is one history entry after uniform preprocessing.
type record struct {
	entry     store.Entry
	watchTime int
	category  string
	bucket    string
	language  string
	at        time.Time
}

// Report aggregates the user's full history. Any failure aborts the whole
// report; there is no partial-facet degradation.
func (e *Engine) Report(ctx context.Context, user string) (Report, error) {
	entries, err := e.store.ListAll(ctx, user)
	if err != nil {
		return Report{}, fmt.Errorf("analytics: %w", err)
	}

	records, err := e.preprocess(ctx, entries)
	if err != nil {
		return Report{}, fmt.Errorf("analytics: %w", err)
	}

	r := Report{
		PlatformBreakdown: []PlatformRow{},
		PerVideo:          []VideoRow{},
		PerCategory:       []CategoryRow{},
		PerChannel:        []ChannelRow{},
		DurationBuckets:   []BucketRow{},
		LanguageBreakdown: []LanguageRow{},
		Daily:             []DayRow{},
		Weekly:            []WeekRow{},
		PeakHours:         []HourRow{},
	}
	if len(records) == 0 {
		return r, nil
	}

	r.Totals = totals(records)
	r.PlatformBreakdown = platformBreakdown(records)
	r.PerVideo = perVideo(records)
	r.PerCategory = perCategory(records)
	r.PerChannel = perChannel(records)
	r.DurationBuckets = durationBuckets(records)
	r.LanguageBreakdown = languageBreakdown(records)
	r.Daily = daily(records)
	r.Weekly = weekly(records)
	r.PeakHours = peakHours(records)
	return r, nil
}

// preprocess applies the shared derivations every facet sees: capped watch
// time, resolved category, duration bucket, language and effective
// timestamp. Malformed numerics only zero out a record's contribution;
// they never abort the report.
func (e *Engine) preprocess(ctx context.Context, entries []store.Entry) ([]record, error) {
	var localIDs []string
	seen := map[string]struct{}{}
	for _, en := range entries {
		if en.Platform == store.PlatformLocal {
			if _, ok := seen[en.VideoID]; !ok {
				seen[en.VideoID] = struct{}{}
				localIDs = append(localIDs, en.VideoID)
			}
		}
	}

	categories := map[string]string{}
	if len(localIDs) > 0 && e.catalog != nil {
		var err error
		categories, err = e.catalog.Categories(ctx, localIDs)
		if err != nil {
			return nil, fmt.Errorf("resolve categories: %w", err)
		}
	}

	out := make([]record, 0, len(entries))
	for _, en := range entries {
		progress := clampNonNegative(en.Progress)
		duration := clampNonNegative(en.Duration)

		watchTime := progress
		if duration > 0 && progress > duration {
			watchTime = duration
		}

		category := CategoryExternal
		if en.Platform == store.PlatformLocal {
			category = CategoryUnknown
			if c, ok := categories[en.VideoID]; ok && c != "" {
				category = c
			}
		}

		at := en.WatchedAt
		if at.IsZero() {
			at = en.FirstWatchedAt
		}

		out = append(out, record{
			entry:     en,
			watchTime: watchTime,
			category:  category,
			bucket:    durationBucket(duration),
			language:  e.classify(en.Title),
			at:        at.UTC(),
		})
	}
	return out, nil
}

func clampNonNegative(v int) int {
	if v < 0 {
		return 0
	}
	return v
}

func durationBucket(duration int) string {
	switch {
	case duration <= 0:
		return BucketUnknown
	case duration <= 300:
		return BucketShort
	case duration <= 1200:
		return BucketMedium
	default:
		return BucketLong
	}
}

func totals(records []record) Totals {
	var t Totals
	for _, r := range records {
		t.TotalWatchTime += r.watchTime
		t.TotalEntries++
		if r.entry.Completed {
			t.CompletedCount++
		}
	}
	if t.TotalEntries > 0 {
		t.AverageWatchTime = float64(t.TotalWatchTime) / float64(t.TotalEntries)
	}
	return t
}

// sums is the generic group-by accumulator shared by the simple facets.
type sums struct {
	watchTime int
	count     int
}

func accumulate(records []record, keyOf func(record) string) map[string]sums {
	m := make(map[string]sums)
	for _, r := range records {
		k := keyOf(r)
		s := m[k]
		s.watchTime += r.watchTime
		s.count++
		m[k] = s
	}
	return m
}

// sortKeysByWatchTime orders keys watch-time descending with a
// deterministic key ascending tie-break.
func sortKeysByWatchTime(m map[string]sums) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if m[keys[i]].watchTime != m[keys[j]].watchTime {
			return m[keys[i]].watchTime > m[keys[j]].watchTime
		}
		return keys[i] < keys[j]
	})
	return keys
}

func platformBreakdown(records []record) []PlatformRow {
	m := accumulate(records, func(r record) string { return string(r.entry.Platform) })
	out := make([]PlatformRow, 0, len(m))
	for _, k := range sortKeysByWatchTime(m) {
		out = append(out, PlatformRow{Platform: store.Platform(k), WatchTime: m[k].watchTime, Count: m[k].count})
	}
	return out
}

func perVideo(records []record) []VideoRow {
	type videoKey struct {
		videoID     string
		platform    store.Platform
		title       string
		thumbnail   string
		channelName string
	}
	m := make(map[videoKey]sums)
	for _, r := range records {
		k := videoKey{r.entry.VideoID, r.entry.Platform, r.entry.Title, r.entry.Thumbnail, r.entry.ChannelName}
		s := m[k]
		s.watchTime += r.watchTime
		s.count++
		m[k] = s
	}

	out := make([]VideoRow, 0, len(m))
	for k, s := range m {
		out = append(out, VideoRow{
			VideoID: k.videoID, Platform: k.platform, Title: k.title,
			Thumbnail: k.thumbnail, ChannelName: k.channelName,
			WatchTime: s.watchTime, Count: s.count,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].WatchTime != out[j].WatchTime {
			return out[i].WatchTime > out[j].WatchTime
		}
		if out[i].VideoID != out[j].VideoID {
			return out[i].VideoID < out[j].VideoID
		}
		return out[i].Platform < out[j].Platform
	})
	if len(out) > topLimit {
		out = out[:topLimit]
	}
	return out
}

func perCategory(records []record) []CategoryRow {
	m := accumulate(records, func(r record) string { return r.category })
	out := make([]CategoryRow, 0, len(m))
	for _, k := range sortKeysByWatchTime(m) {
		out = append(out, CategoryRow{Category: k, WatchTime: m[k].watchTime, Count: m[k].count})
	}
	if len(out) > topLimit {
		out = out[:topLimit]
	}
	return out
}

func perChannel(records []record) []ChannelRow {
	m := accumulate(records, func(r record) string { return r.entry.ChannelName })
	out := make([]ChannelRow, 0, len(m))
	for _, k := range sortKeysByWatchTime(m) {
		out = append(out, ChannelRow{ChannelName: k, WatchTime: m[k].watchTime, Count: m[k].count})
	}
	if len(out) > topLimit {
		out = out[:topLimit]
	}
	return out
}

func durationBuckets(records []record) []BucketRow {
	m := accumulate(records, func(r record) string { return r.bucket })
	out := make([]BucketRow, 0, len(m))
	for _, k := range sortKeysByWatchTime(m) {
		out = append(out, BucketRow{Bucket: k, WatchTime: m[k].watchTime, Count: m[k].count})
	}
	return out
}

func languageBreakdown(records []record) []LanguageRow {
	m := accumulate(records, func(r record) string { return r.language })
	out := make([]LanguageRow, 0, len(m))
	for _, k := range sortKeysByWatchTime(m) {
		out = append(out, LanguageRow{Language: k, WatchTime: m[k].watchTime, Count: m[k].count})
	}
	return out
}

func daily(records []record) []DayRow {
	m := accumulate(records, func(r record) string { return r.at.Format("2006-01-02") })
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	// Most recent N days, still ascending.
	if len(keys) > dailyLimit {
		keys = keys[len(keys)-dailyLimit:]
	}
	out := make([]DayRow, 0, len(keys))
	for _, k := range keys {
		out = append(out, DayRow{Date: k, WatchTime: m[k].watchTime, Count: m[k].count})
	}
	return out
}

func weekly(records []record) []WeekRow {
	type weekKey struct {
		year int
		week int
	}
	m := make(map[weekKey]sums)
	for _, r := range records {
		y, w := r.at.ISOWeek()
		k := weekKey{year: y, week: w}
		s := m[k]
		s.watchTime += r.watchTime
		s.count++
		m[k] = s
	}

	keys := make([]weekKey, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].year != keys[j].year {
			return keys[i].year < keys[j].year
		}
		return keys[i].week < keys[j].week
	})
	// Most recent N weeks, still ascending.
	if len(keys) > weeklyLimit {
		keys = keys[len(keys)-weeklyLimit:]
	}
	out := make([]WeekRow, 0, len(keys))
	for _, k := range keys {
		out = append(out, WeekRow{Year: k.year, Week: k.week, WatchTime: m[k].watchTime, Count: m[k].count})
	}
	return out
}

func peakHours(records []record) []HourRow {
	m := make(map[int]sums)
	for _, r := range records {
		h := r.at.Hour()
		s := m[h]
		s.watchTime += r.watchTime
		s.count++
		m[h] = s
	}

	out := make([]HourRow, 0, len(m))
	for h, s := range m {
		out = append(out, HourRow{Hour: h, WatchTime: s.watchTime, Count: s.count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].WatchTime != out[j].WatchTime {
			return out[i].WatchTime > out[j].WatchTime
		}
		return out[i].Hour < out[j].Hour
	})
	return out
}
