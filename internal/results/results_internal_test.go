package results

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(filepath.Join(t.TempDir(), "runs.db"), 100)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(store.Close)
	return store
}

func record(id string, startedAt time.Time) RunRecord {
	return RunRecord{
		ID:        id,
		Target:    "10.0.0.2",
		Protocol:  "tcp",
		Direction: "upload",
		Streams:   4,
		Unit:      "Mbits",
		Avg:       941.2,
		Max:       949.8,
		P50:       941,
		P95:       948,
		Samples:   10,
		Status:    "completed",
		Cmd:       "iperf3 -c 10.0.0.2",
		StartedAt: startedAt,
		EndedAt:   startedAt.Add(10 * time.Second),
	}
}

func TestStoreRoundtrip(t *testing.T) {
	store := newTestStore(t)

	want := record("11111111-1111-1111-1111-111111111111", time.Now().UTC().Truncate(time.Second))
	if err := store.Save(want); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := store.Get(want.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got == nil {
		t.Fatal("Get returned nil for a saved run")
	}
	if got.Target != want.Target || got.Avg != want.Avg || got.P95 != want.P95 ||
		got.Samples != want.Samples || got.Status != want.Status || got.Cmd != want.Cmd {
		t.Fatalf("got = %+v, want %+v", got, want)
	}
	if !got.StartedAt.Equal(want.StartedAt) {
		t.Fatalf("StartedAt = %v, want %v", got.StartedAt, want.StartedAt)
	}
}

func TestStoreGetMissing(t *testing.T) {
	store := newTestStore(t)
	got, err := store.Get("22222222-2222-2222-2222-222222222222")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != nil {
		t.Fatalf("Get = %+v, want nil for a missing run", got)
	}
}

func TestStoreSaveUpserts(t *testing.T) {
	store := newTestStore(t)

	r := record("33333333-3333-3333-3333-333333333333", time.Now().UTC())
	if err := store.Save(r); err != nil {
		t.Fatalf("Save: %v", err)
	}

	r.Avg = 850
	r.Status = "failed"
	if err := store.Save(r); err != nil {
		t.Fatalf("second Save: %v", err)
	}

	got, err := store.Get(r.ID)
	if err != nil || got == nil {
		t.Fatalf("Get: %v, %v", got, err)
	}
	if got.Avg != 850 || got.Status != "failed" {
		t.Fatalf("got = %+v, want the re-saved values", got)
	}

	runs, err := store.Recent(10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("Recent returned %d runs, want 1 after upsert", len(runs))
	}
}

func TestStoreRecentOrderAndLimit(t *testing.T) {
	store := newTestStore(t)

	base := time.Now().UTC().Add(-time.Hour)
	ids := []string{
		"00000000-0000-0000-0000-000000000001",
		"00000000-0000-0000-0000-000000000002",
		"00000000-0000-0000-0000-000000000003",
	}
	for i, id := range ids {
		if err := store.Save(record(id, base.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatalf("Save %s: %v", id, err)
		}
	}

	runs, err := store.Recent(2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("Recent returned %d runs, want 2", len(runs))
	}
	if runs[0].ID != ids[2] || runs[1].ID != ids[1] {
		t.Fatalf("order = %s, %s, want newest first", runs[0].ID, runs[1].ID)
	}
}

func newTestHandler(t *testing.T) (*Handler, *Store) {
	t.Helper()
	store := newTestStore(t)
	return NewHandler(store), store
}

func handlerMux(h *Handler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/results", h.List)
	mux.HandleFunc("GET /api/results/{id}", h.Get)
	return mux
}

func TestHandlerGet(t *testing.T) {
	h, store := newTestHandler(t)
	mux := handlerMux(h)

	id := "44444444-4444-4444-4444-444444444444"
	if err := store.Save(record(id, time.Now().UTC())); err != nil {
		t.Fatalf("Save: %v", err)
	}

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/results/"+id, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	var got RunRecord
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ID != id || got.Avg != 941.2 {
		t.Fatalf("got = %+v", got)
	}
}

func TestHandlerGetInvalidID(t *testing.T) {
	h, _ := newTestHandler(t)
	mux := handlerMux(h)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/results/not-a-run-id!", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestHandlerGetNotFound(t *testing.T) {
	h, _ := newTestHandler(t)
	mux := handlerMux(h)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/results/55555555-5555-5555-5555-555555555555", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestHandlerList(t *testing.T) {
	h, store := newTestHandler(t)
	mux := handlerMux(h)

	base := time.Now().UTC().Add(-time.Hour)
	for i, id := range []string{
		"66666666-6666-6666-6666-666666666661",
		"66666666-6666-6666-6666-666666666662",
	} {
		if err := store.Save(record(id, base.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/results?limit=1", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var resp struct {
		Runs  []RunRecord `json:"runs"`
		Count int         `json:"count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Count != 1 || len(resp.Runs) != 1 {
		t.Fatalf("resp = %+v, want one run", resp)
	}
	if resp.Runs[0].ID != "66666666-6666-6666-6666-666666666662" {
		t.Fatalf("first run = %s, want the newest", resp.Runs[0].ID)
	}
}

func TestHandlerListBadLimit(t *testing.T) {
	h, _ := newTestHandler(t)
	mux := handlerMux(h)

	for _, raw := range []string{"0", "-3", "lots"} {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/results?limit="+raw, nil))
		if rec.Code != http.StatusBadRequest {
			t.Errorf("limit=%s: status = %d, want 400", raw, rec.Code)
		}
	}
}
