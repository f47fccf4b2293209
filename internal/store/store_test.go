package store

import (
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/lox/farmcast/internal/models"
	"github.com/lox/farmcast/internal/predictor"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	store := New(db)
	if err := store.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return store
}

func testSeries() models.Series {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	s := make(models.Series, 3)
	for i := range s {
		s[i] = models.DailyRecord{Date: start.AddDate(0, 0, i), Temp: 10 + float64(i), Humidity: 70, Wind: 2.5, Precip: 0.4}
	}
	return s
}

func TestMigrate_Idempotent(t *testing.T) {
	store := setupTestStore(t)
	if err := store.Migrate(); err != nil {
		t.Fatalf("second Migrate: %v", err)
	}
	version, err := store.MigrationVersion()
	if err != nil {
		t.Fatalf("MigrationVersion: %v", err)
	}
	if version != len(migrations) {
		t.Errorf("MigrationVersion = %d, want %d", version, len(migrations))
	}
}

func TestBundle_SaveAndLoad(t *testing.T) {
	store := setupTestStore(t)
	series := testSeries()
	key := predictor.NewKey(45.65, -73.38, series[0].Date, series.Last().Date)
	trainedAt := time.Date(2025, 9, 1, 12, 0, 0, 0, time.UTC)

	rec := BundleRecord{
		Key:           key,
		PredictorKind: "ridge",
		State: map[models.Variable]json.RawMessage{
			models.Temp:     json.RawMessage(`{"intercept":1}`),
			models.Humidity: json.RawMessage(`{"intercept":2}`),
			models.Wind:     json.RawMessage(`{"intercept":3}`),
			models.Precip:   json.RawMessage(`{"intercept":4}`),
		},
		Series:    series,
		TrainedAt: trainedAt,
	}
	if err := store.SaveBundle(rec); err != nil {
		t.Fatalf("SaveBundle: %v", err)
	}

	got, err := store.LoadBundle(key, trainedAt)
	if err != nil {
		t.Fatalf("LoadBundle: %v", err)
	}
	if got == nil {
		t.Fatal("LoadBundle returned nil")
	}
	if got.PredictorKind != "ridge" {
		t.Errorf("PredictorKind = %q, want ridge", got.PredictorKind)
	}
	if len(got.State) != 4 || string(got.State[models.Wind]) != `{"intercept":3}` {
		t.Errorf("State = %v", got.State)
	}
	if len(got.Series) != len(series) {
		t.Fatalf("len(Series) = %d, want %d", len(got.Series), len(series))
	}
	for i := range series {
		if !got.Series[i].Date.Equal(series[i].Date) || got.Series[i].Temp != series[i].Temp {
			t.Errorf("Series[%d] = %+v, want %+v", i, got.Series[i], series[i])
		}
	}
	if !got.TrainedAt.Equal(trainedAt) {
		t.Errorf("TrainedAt = %v, want %v", got.TrainedAt, trainedAt)
	}
}

func TestBundle_Upsert(t *testing.T) {
	store := setupTestStore(t)
	key := predictor.Key{Lat: 1, Lon: 2, Start: "20200101", End: "20250101"}
	now := time.Now().UTC()

	for _, kind := range []string{"first", "second"} {
		if err := store.SaveBundle(BundleRecord{Key: key, PredictorKind: kind, Series: testSeries(), TrainedAt: now}); err != nil {
			t.Fatalf("SaveBundle(%s): %v", kind, err)
		}
	}
	got, err := store.LoadBundle(key, now)
	if err != nil || got == nil {
		t.Fatalf("LoadBundle = %v, %v", got, err)
	}
	if got.PredictorKind != "second" {
		t.Errorf("PredictorKind = %q, want second", got.PredictorKind)
	}

	list, err := store.ListBundles(10)
	if err != nil {
		t.Fatalf("ListBundles: %v", err)
	}
	if len(list) != 1 || list[0].Key != key.String() || list[0].RowCount != 3 {
		t.Errorf("ListBundles = %+v", list)
	}
}

func TestBundle_NotFound(t *testing.T) {
	store := setupTestStore(t)
	got, err := store.LoadBundle(predictor.Key{Lat: 9, Lon: 9, Start: "x", End: "y"}, time.Now())
	if err != nil {
		t.Fatalf("LoadBundle: %v", err)
	}
	if got != nil {
		t.Errorf("LoadBundle = %+v, want nil", got)
	}
}

func TestBundle_Expiry(t *testing.T) {
	store := setupTestStore(t)
	key := predictor.Key{Lat: 1, Lon: 1, Start: "20200101", End: "20250101"}
	trained := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	expires := trained.Add(24 * time.Hour)

	if err := store.SaveBundle(BundleRecord{
		Key:       key,
		Series:    testSeries(),
		TrainedAt: trained,
		ExpiresAt: sql.NullTime{Time: expires, Valid: true},
	}); err != nil {
		t.Fatal(err)
	}

	if got, _ := store.LoadBundle(key, expires.Add(-time.Minute)); got == nil {
		t.Error("LoadBundle before expiry = nil")
	}
	if got, _ := store.LoadBundle(key, expires); got != nil {
		t.Error("LoadBundle at expiry returned a bundle")
	}

	n, err := store.DeleteExpiredBundles(expires.Add(time.Hour))
	if err != nil {
		t.Fatalf("DeleteExpiredBundles: %v", err)
	}
	if n != 1 {
		t.Errorf("DeleteExpiredBundles = %d, want 1", n)
	}
}

func TestIngestRun_StartAndComplete(t *testing.T) {
	store := setupTestStore(t)

	loc := "45.65,-73.38"
	run, err := store.StartIngestRun("nasa_power", "temporal/daily/point", &loc, "20200101", "20250101")
	if err != nil {
		t.Fatalf("StartIngestRun: %v", err)
	}
	if run.ID == 0 {
		t.Error("run.ID should be set")
	}
	if run.Source != "nasa_power" {
		t.Errorf("run.Source = %q, want 'nasa_power'", run.Source)
	}

	run.HTTPStatus = sql.NullInt64{Int64: 200, Valid: true}
	run.ResponseSizeBytes = sql.NullInt64{Int64: 1024, Valid: true}
	run.RecordsParsed = sql.NullInt64{Int64: 1827, Valid: true}
	run.RecordsDropped = sql.NullInt64{Int64: 2, Valid: true}
	run.Success = true

	if err := store.CompleteIngestRun(run); err != nil {
		t.Fatalf("CompleteIngestRun: %v", err)
	}

	health, err := store.GetIngestHealth(1)
	if err != nil {
		t.Fatalf("GetIngestHealth: %v", err)
	}
	if len(health) != 1 {
		t.Fatalf("len(health) = %d, want 1", len(health))
	}
	if h := health[0]; h.SuccessRuns != 1 || h.TotalRecords != 1827 || h.TotalDropped != 2 {
		t.Errorf("health = %+v", h)
	}
}

func TestIngestHealth_Aggregation(t *testing.T) {
	store := setupTestStore(t)

	ok, err := store.StartIngestRun("nasa_power", "temporal/daily/point", nil, "", "")
	if err != nil {
		t.Fatal(err)
	}
	ok.Success = true
	if err := store.CompleteIngestRun(ok); err != nil {
		t.Fatal(err)
	}

	failed, err := store.StartIngestRun("nasa_power", "temporal/daily/point", nil, "", "")
	if err != nil {
		t.Fatal(err)
	}
	failed.HTTPStatus = sql.NullInt64{Int64: 503, Valid: true}
	failed.ErrorMessage = sql.NullString{String: "service unavailable", Valid: true}
	if err := store.CompleteIngestRun(failed); err != nil {
		t.Fatal(err)
	}

	health, err := store.GetIngestHealth(1)
	if err != nil {
		t.Fatalf("GetIngestHealth: %v", err)
	}
	if len(health) != 1 {
		t.Fatalf("len(health) = %d, want 1", len(health))
	}
	if h := health[0]; h.TotalRuns != 2 || h.SuccessRuns != 1 || h.FailedRuns != 1 {
		t.Errorf("health = %+v, want 2 runs 1 ok 1 failed", h)
	}

	errs, err := store.GetRecentIngestErrors(10)
	if err != nil {
		t.Fatalf("GetRecentIngestErrors: %v", err)
	}
	if len(errs) != 1 {
		t.Fatalf("len(errors) = %d, want 1", len(errs))
	}
	if errs[0].ErrorMessage.String != "service unavailable" {
		t.Errorf("ErrorMessage = %q", errs[0].ErrorMessage.String)
	}
}

func TestRawPayload_StoreAndDedup(t *testing.T) {
	store := setupTestStore(t)
	payload := []byte(`{"properties":{"parameter":{"T2M":{"20250101":1.5}}}}`)
	ref := PayloadRef{Source: "nasa_power", Endpoint: "temporal/daily/point", LocationID: "1.00,2.00", WindowStart: "20240101", WindowEnd: "20250101"}

	id, err := store.StoreRawPayload(ref, payload)
	if err != nil {
		t.Fatalf("StoreRawPayload: %v", err)
	}
	if id == 0 {
		t.Fatal("first StoreRawPayload returned id 0")
	}

	dup, err := store.StoreRawPayload(ref, payload)
	if err != nil {
		t.Fatalf("duplicate StoreRawPayload: %v", err)
	}
	if dup != 0 {
		t.Errorf("duplicate StoreRawPayload = %d, want 0", dup)
	}

	got, err := store.GetRawPayload(id)
	if err != nil {
		t.Fatalf("GetRawPayload: %v", err)
	}
	if string(got) != string(payload) {
		t.Errorf("GetRawPayload = %q, want %q", got, payload)
	}

	byHash, err := store.GetRawPayloadByHash(PayloadHash(payload))
	if err != nil {
		t.Fatalf("GetRawPayloadByHash: %v", err)
	}
	if byHash == nil || byHash.ID != id || byHash.WindowEnd.String != "20250101" {
		t.Errorf("GetRawPayloadByHash = %+v", byHash)
	}

	stats, err := store.GetRawPayloadStats()
	if err != nil {
		t.Fatalf("GetRawPayloadStats: %v", err)
	}
	if stats.TotalCount != 1 || stats.CountBySource["nasa_power"] != 1 || stats.Locations != 1 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestRawPayloadStats_FetchedAtRange(t *testing.T) {
	store := setupTestStore(t)

	empty, err := store.GetRawPayloadStats()
	if err != nil {
		t.Fatalf("GetRawPayloadStats on empty store: %v", err)
	}
	if empty.TotalCount != 0 || !empty.OldestFetchedAt.IsZero() || !empty.NewestFetchedAt.IsZero() {
		t.Errorf("empty stats = %+v", empty)
	}

	before := time.Now().UTC().Add(-time.Second)
	ref := PayloadRef{Source: "nasa_power", Endpoint: "temporal/daily/point", LocationID: "1.00,2.00", WindowStart: "20240101", WindowEnd: "20250101"}
	if _, err := store.StoreRawPayload(ref, []byte(`{"v":1}`)); err != nil {
		t.Fatal(err)
	}
	ref.LocationID = "3.00,4.00"
	if _, err := store.StoreRawPayload(ref, []byte(`{"v":2}`)); err != nil {
		t.Fatal(err)
	}

	stats, err := store.GetRawPayloadStats()
	if err != nil {
		t.Fatalf("GetRawPayloadStats: %v", err)
	}
	if stats.TotalCount != 2 || stats.Locations != 2 {
		t.Errorf("stats = %+v", stats)
	}
	if stats.OldestFetchedAt.Before(before) {
		t.Errorf("OldestFetchedAt = %v, want after %v", stats.OldestFetchedAt, before)
	}
	if stats.NewestFetchedAt.Before(stats.OldestFetchedAt) {
		t.Errorf("NewestFetchedAt %v before OldestFetchedAt %v", stats.NewestFetchedAt, stats.OldestFetchedAt)
	}
}

func TestRawPayload_Latest(t *testing.T) {
	store := setupTestStore(t)
	ref := PayloadRef{Source: "nasa_power", Endpoint: "temporal/daily/point", LocationID: "1.00,2.00", WindowStart: "20240101", WindowEnd: "20250101"}

	if _, err := store.StoreRawPayload(ref, []byte(`{"v":1}`)); err != nil {
		t.Fatal(err)
	}
	if _, err := store.StoreRawPayload(ref, []byte(`{"v":2}`)); err != nil {
		t.Fatal(err)
	}
	other := ref
	other.WindowEnd = "20250102"
	if _, err := store.StoreRawPayload(other, []byte(`{"v":3}`)); err != nil {
		t.Fatal(err)
	}

	p, err := store.LatestRawPayload("nasa_power", "1.00,2.00", "20240101", "20250101")
	if err != nil {
		t.Fatalf("LatestRawPayload: %v", err)
	}
	if p == nil {
		t.Fatal("LatestRawPayload returned nil")
	}
	body, err := p.Decompress()
	if err != nil {
		t.Fatalf("Decompress: %v", err)
	}
	if string(body) != `{"v":2}` {
		t.Errorf("latest body = %s, want {\"v\":2}", body)
	}

	missing, err := store.LatestRawPayload("nasa_power", "9.00,9.00", "20240101", "20250101")
	if err != nil {
		t.Fatalf("LatestRawPayload: %v", err)
	}
	if missing != nil {
		t.Errorf("expected nil for unknown location, got %+v", missing)
	}
}

func TestForecastRun_InsertAndGet(t *testing.T) {
	store := setupTestStore(t)
	day := func(d int) time.Time { return time.Date(2025, 9, d, 0, 0, 0, 0, time.UTC) }

	run := &ForecastRun{
		Latitude:        45.65,
		Longitude:       -73.38,
		CacheKey:        "45.65_-73.38_20200831_20250831",
		RequestedTarget: day(10),
		EffectiveTarget: day(10),
		LastObserved:    day(1),
		HorizonDays:     9,
		Result:          json.RawMessage(`{"net_mm":4.33}`),
	}
	if err := store.InsertForecastRun(run); err != nil {
		t.Fatalf("InsertForecastRun: %v", err)
	}
	if run.ID == "" {
		t.Fatal("run.ID not assigned")
	}

	got, err := store.GetForecastRun(run.ID)
	if err != nil {
		t.Fatalf("GetForecastRun: %v", err)
	}
	if got == nil {
		t.Fatal("GetForecastRun returned nil")
	}
	if got.HorizonDays != 9 || got.CacheKey != run.CacheKey || got.Capped {
		t.Errorf("GetForecastRun = %+v", got)
	}
	if !got.EffectiveTarget.Equal(day(10)) {
		t.Errorf("EffectiveTarget = %v, want %v", got.EffectiveTarget, day(10))
	}
	if string(got.Result) != `{"net_mm":4.33}` {
		t.Errorf("Result = %s", got.Result)
	}

	missing, err := store.GetForecastRun("does-not-exist")
	if err != nil || missing != nil {
		t.Errorf("GetForecastRun(missing) = %v, %v, want nil, nil", missing, err)
	}
}
