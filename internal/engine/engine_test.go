package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/lazypower/foresight/internal/archive"
	"github.com/lazypower/foresight/internal/cachestore"
	"github.com/lazypower/foresight/internal/config"
	"github.com/lazypower/foresight/internal/models"
	"github.com/lazypower/foresight/internal/store"
	"github.com/lazypower/foresight/internal/tier"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

// base is a Monday.
var base = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

func testDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

type fixture struct {
	e     *Engine
	clk   *clock
	fast  *cachestore.Badger
	blobs *archive.Local
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testDB(t)
	fast, err := cachestore.OpenBadger("")
	if err != nil {
		t.Fatalf("OpenBadger: %v", err)
	}
	t.Cleanup(func() { fast.Close() })
	blobs, err := archive.NewLocal(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	cfg := config.Default()
	// Generous budgets so slow CI machines do not trip the fallthrough.
	cfg.Tier.FastTimeout = time.Second
	cfg.Tier.DurableTimeout = 5 * time.Second
	clk := &clock{t: base.Add(21*24*time.Hour + 9*time.Hour + 30*time.Minute)}

	e, err := New(db, fast, blobs, &cfg, WithClock(clk.Now))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return &fixture{e: e, clk: clk, fast: fast, blobs: blobs}
}

func (f *fixture) store(t *testing.T, c models.Content) *models.Content {
	t.Helper()
	out, _, err := f.e.Store(context.Background(), c, models.TierDurable)
	if err != nil {
		t.Fatalf("Store: %v", err)
	}
	return out
}

func TestStoreAssignsIDAndTimestamps(t *testing.T) {
	f := newFixture(t)
	c := f.store(t, models.Content{UserID: "u1", Body: []byte("x")})
	if c.ID == "" {
		t.Fatal("no id assigned")
	}
	if !c.CreatedAt.Equal(f.clk.Now()) || !c.LastAccessAt.Equal(f.clk.Now()) {
		t.Errorf("timestamps = %v / %v, want clock time", c.CreatedAt, c.LastAccessAt)
	}

	if _, _, err := f.e.Store(context.Background(), models.Content{Body: []byte("x")}, models.TierDurable); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("Store without user = %v, want ErrInvalidArgument", err)
	}
}

func TestGetRecordsAccess(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.store(t, models.Content{ID: "c1", UserID: "u1", Body: []byte("x"), LastAccessAt: base})

	got, served, err := f.e.Get(ctx, "c1", models.ContextFrame{Activity: "coding"})
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if served != models.TierDurable || string(got.Body) != "x" {
		t.Errorf("Get = %s %+v", served, got)
	}

	events, _ := f.e.DB.EventsForUser(ctx, "u1", time.Time{})
	if len(events) != 1 || events[0].ContentID != c.ID || events[0].Context.Activity != "coding" {
		t.Errorf("events = %+v, want one access with context", events)
	}
	stored, _ := f.e.DB.GetContent(ctx, "c1")
	if !stored.LastAccessAt.Equal(f.clk.Now()) {
		t.Errorf("last access = %v, want %v", stored.LastAccessAt, f.clk.Now())
	}
	if n := f.e.Freq.Frequency("c1", time.Hour); n != 1 {
		t.Errorf("frequency = %d, want 1", n)
	}
}

func TestGetNotFound(t *testing.T) {
	f := newFixture(t)
	if _, _, err := f.e.Get(context.Background(), "nope", models.ContextFrame{}); !errors.Is(err, tier.ErrNotFound) {
		t.Errorf("err = %v, want tier.ErrNotFound", err)
	}
}

func TestRecordAccessValidates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.store(t, models.Content{ID: "c1", UserID: "u1", Body: []byte("x")})

	tests := []struct {
		name string
		ev   models.AccessEvent
		want error
	}{
		{"missing user", models.AccessEvent{ContentID: "c1"}, ErrInvalidArgument},
		{"unknown content", models.AccessEvent{UserID: "u1", ContentID: "ghost"}, tier.ErrNotFound},
		{"another user's item", models.AccessEvent{UserID: "u2", ContentID: "c1"}, ErrInvalidArgument},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := f.e.RecordAccess(ctx, tt.ev); !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}

	if n := f.e.Freq.Frequency("ghost", time.Hour) + f.e.Freq.Frequency("c1", time.Hour); n != 0 {
		t.Errorf("rejected events counted %d times", n)
	}
	if users, _ := f.e.DB.UsersWithEvents(ctx, time.Time{}); len(users) != 0 {
		t.Errorf("rejected events logged for %v", users)
	}
}

func TestRecordAccessFailedAppendNotCounted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.store(t, models.Content{ID: "c1", UserID: "u1", Body: []byte("x")})
	if _, err := f.e.DB.ExecContext(ctx, `DROP TABLE access_events`); err != nil {
		t.Fatal(err)
	}

	if err := f.e.RecordAccess(ctx, models.AccessEvent{UserID: "u1", ContentID: "c1"}); err == nil {
		t.Fatal("expected the append to fail")
	}
	if n := f.e.Freq.Frequency("c1", time.Hour); n != 0 {
		t.Errorf("frequency = %d after a failed append, want 0", n)
	}
}

func TestPredictPrefersMatchingContext(t *testing.T) {
	f := newFixture(t)
	last := f.clk.Now().Add(-time.Hour)
	f.store(t, models.Content{ID: "match", UserID: "u1", Body: []byte("a"), Context: models.ContextFrame{Activity: "coding"}, LastAccessAt: last})
	f.store(t, models.Content{ID: "other", UserID: "u1", Body: []byte("b"), Context: models.ContextFrame{Activity: "gardening"}, LastAccessAt: last})

	res, err := f.e.Predict(context.Background(), "u1", models.ContextFrame{Activity: "coding"}, 10)
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	if len(res) == 0 || res[0].ContentID != "match" {
		t.Fatalf("results = %+v, want match first", res)
	}
	for _, r := range res[1:] {
		if r.Score >= res[0].Score {
			t.Errorf("%s scored %.3f, not below match %.3f", r.ContentID, r.Score, res[0].Score)
		}
	}
}

func TestPredictFallsBackToDeviceContext(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	last := f.clk.Now().Add(-time.Hour)
	f.store(t, models.Content{ID: "work", UserID: "u1", Body: []byte("a"), Context: models.ContextFrame{Location: "office"}, LastAccessAt: last})
	f.store(t, models.Content{ID: "home", UserID: "u1", Body: []byte("b"), Context: models.ContextFrame{Location: "home"}, LastAccessAt: last})

	if err := f.e.SetContext(ctx, "u1", "laptop", models.ContextFrame{Location: "office"}); err != nil {
		t.Fatal(err)
	}
	res, _ := f.e.Predict(ctx, "u1", models.ContextFrame{}, 10)
	if len(res) != 1 || res[0].ContentID != "work" {
		t.Errorf("results = %+v, want only work", res)
	}

	cleared, err := f.e.ClearContext(ctx, "u1", "laptop")
	if err != nil || !cleared {
		t.Fatalf("ClearContext = %v, %v", cleared, err)
	}
	res, _ = f.e.Predict(ctx, "u1", models.ContextFrame{}, 10)
	if len(res) != 2 {
		t.Errorf("results after clear = %d, want 2", len(res))
	}
}

func TestPredictRequiresUser(t *testing.T) {
	f := newFixture(t)
	if _, err := f.e.Predict(context.Background(), "", models.ContextFrame{}, 5); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("err = %v, want ErrInvalidArgument", err)
	}
}

func seedDailyHabit(t *testing.T, f *fixture, contentID string) {
	t.Helper()
	ctx := context.Background()
	f.store(t, models.Content{ID: contentID, UserID: "u1", Body: []byte("standup notes"), LastAccessAt: base})
	for day := 0; day < 21; day++ {
		ev := models.AccessEvent{
			UserID:    "u1",
			ContentID: contentID,
			Timestamp: base.Add(time.Duration(day)*24*time.Hour + 9*time.Hour),
		}
		if err := f.e.RecordAccess(ctx, ev); err != nil {
			t.Fatal(err)
		}
	}
}

func TestRunPatternDetection(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seedDailyHabit(t, f, "standup")

	res, err := f.e.RunPatternDetection(ctx, "u1")
	if err != nil {
		t.Fatalf("RunPatternDetection: %v", err)
	}
	if len(res.Patterns) != 1 {
		t.Fatalf("patterns = %+v, want one daily pattern", res.Patterns)
	}

	stored, _ := f.e.Patterns(ctx, "u1")
	if len(stored) != 1 {
		t.Fatalf("stored patterns = %d, want 1", len(stored))
	}
	p := stored[0]
	if p.PeriodHours != 24 || p.Type != models.PatternDaily || p.Confidence <= 0.8 {
		t.Errorf("pattern = %+v", p)
	}
	if len(p.PeakTimes) != 1 || p.PeakTimes[0] != 9 {
		t.Errorf("peaks = %v, want [9]", p.PeakTimes)
	}
	if !p.HasContent("standup") {
		t.Errorf("pattern content = %v, want standup", p.ContentIDs)
	}

	// The clock sits at 09:30, inside the peak.
	preds, _ := f.e.Predict(ctx, "u1", models.ContextFrame{}, 1)
	if len(preds) != 1 || preds[0].Factors.Temporal <= 0.8 {
		t.Errorf("predictions = %+v, want a strong temporal factor", preds)
	}
}

func TestRerunKeepsStableAt(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seedDailyHabit(t, f, "standup")

	f.e.RunPatternDetection(ctx, "u1")
	first, _ := f.e.Patterns(ctx, "u1")

	f.clk.Set(f.clk.Now().Add(24 * time.Hour))
	f.e.RunPatternDetection(ctx, "u1")
	second, _ := f.e.Patterns(ctx, "u1")

	if len(first) != 1 || len(second) != 1 {
		t.Fatalf("patterns = %d then %d", len(first), len(second))
	}
	if !second[0].StableAt.Equal(first[0].StableAt) {
		t.Errorf("StableAt moved from %v to %v", first[0].StableAt, second[0].StableAt)
	}
	if !second[0].FormedAt.After(first[0].FormedAt) {
		t.Error("FormedAt not refreshed on rerun")
	}
}

func TestShortHistoryEmitsNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.store(t, models.Content{ID: "c1", UserID: "u1", Body: []byte("x")})
	for i := 0; i < 5; i++ {
		f.e.RecordAccess(ctx, models.AccessEvent{UserID: "u1", ContentID: "c1", Timestamp: f.clk.Now().Add(-time.Duration(i) * time.Hour)})
	}
	res, err := f.e.RunPatternDetection(ctx, "u1")
	if err != nil {
		t.Fatalf("short history should not be an error: %v", err)
	}
	if len(res.Patterns) != 0 || len(res.Skipped) != 3 {
		t.Errorf("result = %+v, want nothing emitted and three skips", res)
	}
}

func TestRunDetectionAllPrunesOldEvents(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seedDailyHabit(t, f, "standup")
	ancient := models.AccessEvent{UserID: "u2", ContentID: "old", Timestamp: f.clk.Now().Add(-200 * 24 * time.Hour)}
	if err := f.e.DB.AppendEvent(ctx, ancient); err != nil {
		t.Fatal(err)
	}

	sum, err := f.e.RunDetectionAll(ctx)
	if err != nil {
		t.Fatalf("RunDetectionAll: %v", err)
	}
	if sum.Users != 1 || sum.Patterns != 1 || sum.Pruned != 1 {
		t.Errorf("summary = %+v, want one user, one pattern, one pruned", sum)
	}
}

func TestMonthlyPatternWithinDefaultRetention(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.store(t, models.Content{ID: "invoices", UserID: "u1", Body: []byte("billing run")})

	// Bursts on the first three days of every 30-day block.
	for block := 0; block < 5; block++ {
		for day := 0; day < 3; day++ {
			for _, hour := range []int{9, 10} {
				at := base.Add(time.Duration((block*30+day)*24+hour) * time.Hour)
				ev := models.AccessEvent{UserID: "u1", ContentID: "invoices", Timestamp: at}
				if err := f.e.RecordAccess(ctx, ev); err != nil {
					t.Fatal(err)
				}
			}
		}
	}
	f.clk.Set(base.Add(125 * 24 * time.Hour))

	res, err := f.e.RunPatternDetection(ctx, "u1")
	if err != nil {
		t.Fatalf("RunPatternDetection: %v", err)
	}
	var monthly *models.Pattern
	for i := range res.Patterns {
		if res.Patterns[i].PeriodHours == 720 {
			monthly = &res.Patterns[i]
		}
	}
	if monthly == nil {
		t.Fatalf("no 720h pattern: span=%dh skipped=%+v", res.SpanHours, res.Skipped)
	}
	if monthly.Type != models.PatternMonthly {
		t.Errorf("type = %s, want monthly", monthly.Type)
	}
	if !monthly.HasContent("invoices") {
		t.Errorf("content = %v, want invoices", monthly.ContentIDs)
	}
}

func TestHotItemServedFromFastTier(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.store(t, models.Content{ID: "hot", UserID: "u1", Body: []byte("x")})

	for i := 0; i < 15; i++ {
		if _, _, err := f.e.Get(ctx, "hot", models.ContextFrame{}); err != nil {
			t.Fatal(err)
		}
	}
	_, served, err := f.e.Get(ctx, "hot", models.ContextFrame{})
	if err != nil {
		t.Fatal(err)
	}
	if served != models.TierFast {
		t.Errorf("served by %s, want fast after 15 reads in the hour", served)
	}
	st, _ := f.e.Tiers.State(ctx, "hot")
	if st == nil || st.Tier != models.TierFast {
		t.Errorf("state = %+v, want fast", st)
	}
}

func TestDemotionSweepArchivesColdItems(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.store(t, models.Content{ID: "cold", UserID: "u1", Body: []byte("x"), LastAccessAt: f.clk.Now().Add(-8 * 24 * time.Hour)})
	f.store(t, models.Content{ID: "warm", UserID: "u1", Body: []byte("y")})
	if err := f.e.Tiers.Promote(ctx, "cold"); err != nil {
		t.Fatal(err)
	}

	res, err := f.e.RunDemotionSweep(ctx)
	if err != nil {
		t.Fatalf("RunDemotionSweep: %v", err)
	}
	if res.Demoted != 1 {
		t.Errorf("demoted = %d, want 1", res.Demoted)
	}
	if c, _ := f.fast.Get(ctx, "cold"); c != nil {
		t.Error("cold item still in fast tier")
	}
	if c, _ := f.blobs.Get(ctx, "cold"); c == nil {
		t.Error("cold item not in archive")
	}
	st, _ := f.e.Tiers.State(ctx, "cold")
	if st == nil || st.Tier != models.TierArchival {
		t.Errorf("state = %+v, want archival", st)
	}

	// Archived items drop out of predictions but stay readable.
	preds, _ := f.e.Predict(ctx, "u1", models.ContextFrame{}, 10)
	for _, p := range preds {
		if p.ContentID == "cold" {
			t.Error("archived item still a prediction candidate")
		}
	}
	if _, _, err := f.e.Get(ctx, "cold", models.ContextFrame{}); err != nil {
		t.Errorf("Get archived item: %v", err)
	}
}

func TestForget(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.store(t, models.Content{ID: "a", UserID: "u1", Body: []byte("x")})
	f.store(t, models.Content{ID: "d", UserID: "u1", Body: []byte("y")})

	if err := f.e.Forget(ctx, "a", ForgetArchive); err != nil {
		t.Fatalf("Forget archive: %v", err)
	}
	if st, _ := f.e.Tiers.State(ctx, "a"); st == nil || st.Tier != models.TierArchival {
		t.Errorf("state = %+v, want archival", st)
	}

	if err := f.e.Forget(ctx, "d", ForgetDelete); err != nil {
		t.Fatalf("Forget delete: %v", err)
	}
	if _, _, err := f.e.Get(ctx, "d", models.ContextFrame{}); !errors.Is(err, tier.ErrNotFound) {
		t.Errorf("Get deleted = %v, want ErrNotFound", err)
	}

	if err := f.e.Forget(ctx, "a", "shred"); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("unknown mode = %v, want ErrInvalidArgument", err)
	}
}

func TestAnticipateQueuesPrefetch(t *testing.T) {
	f := newFixture(t)
	f.store(t, models.Content{ID: "c1", UserID: "u1", Body: []byte("x")})

	out, err := f.e.Anticipate(context.Background(), "u1", models.ContextFrame{}, 2*time.Hour, 5)
	if err != nil {
		t.Fatalf("Anticipate: %v", err)
	}
	if !out.At.Equal(f.clk.Now().Add(2 * time.Hour)) {
		t.Errorf("At = %v", out.At)
	}
	if !out.Queued || f.e.Prefetch.Stats().Enqueued != 1 {
		t.Errorf("queued = %v, stats = %+v", out.Queued, f.e.Prefetch.Stats())
	}
	if len(out.Results) != 1 {
		t.Errorf("results = %+v", out.Results)
	}

	if _, err := f.e.Anticipate(context.Background(), "u1", models.ContextFrame{}, -time.Hour, 5); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("negative look-ahead = %v, want ErrInvalidArgument", err)
	}
}

func TestStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.store(t, models.Content{ID: "a", UserID: "u1", Body: []byte("x")})
	f.e.Store(ctx, models.Content{ID: "b", UserID: "u1", Body: []byte("y")}, models.TierFast)

	st, err := f.e.Status(ctx)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st.Content != 2 || st.Tiers["durable"] != 1 || st.Tiers["fast"] != 1 || st.Tiers["archival"] != 0 {
		t.Errorf("status = %+v", st)
	}
	if st.SchemaVersion < 1 {
		t.Errorf("schema version = %d", st.SchemaVersion)
	}
	if st.Breakers["fast"] != "closed" || st.Breakers["archival"] != "closed" {
		t.Errorf("breakers = %v", st.Breakers)
	}
}

func TestNewWithoutOptionalTiers(t *testing.T) {
	db := testDB(t)
	e, err := New(db, nil, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	c, placed, err := e.Store(context.Background(), models.Content{UserID: "u1", Body: []byte("x")}, models.TierFast)
	if err != nil {
		t.Fatalf("Store: %v", err)
	}
	if placed != models.TierDurable {
		t.Errorf("placed = %s, want durable without a fast store", placed)
	}
	if _, served, err := e.Get(context.Background(), c.ID, models.ContextFrame{}); err != nil || served != models.TierDurable {
		t.Errorf("Get = %s, %v", served, err)
	}
	if err := e.Forget(context.Background(), c.ID, ForgetArchive); !errors.Is(err, tier.ErrTierUnavailable) {
		t.Errorf("archive without archival store = %v, want ErrTierUnavailable", err)
	}
}
