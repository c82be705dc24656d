package measurement

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/telecare/telecare/internal/domain/devicelink"
	"github.com/telecare/telecare/internal/platform/devicevendor"
)

// memMeasurementRepo dedupes on natural key the way the database unique
// constraint does, so idempotency is observable in tests.
type memMeasurementRepo struct {
	mu   sync.Mutex
	rows map[string]Measurement
}

func newMemMeasurementRepo() *memMeasurementRepo {
	return &memMeasurementRepo{rows: make(map[string]Measurement)}
}

func (r *memMeasurementRepo) UpsertBatch(_ context.Context, batch []Measurement) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inserted := 0
	for _, m := range batch {
		if _, exists := r.rows[m.NaturalKey]; exists {
			continue
		}
		r.rows[m.NaturalKey] = m
		inserted++
	}
	return inserted, nil
}

func (r *memMeasurementRepo) ListByUser(_ context.Context, userID string, limit, offset int) ([]*Measurement, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var all []*Measurement
	for k := range r.rows {
		m := r.rows[k]
		if m.UserID == userID {
			all = append(all, &m)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].MeasuredAt.After(all[j].MeasuredAt) })
	total := len(all)
	if offset > len(all) {
		return nil, total, nil
	}
	all = all[offset:]
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	return all, total, nil
}

// fakeLinks satisfies CredentialSource without the full devicelink service.
type fakeLinks struct {
	cred        *devicelink.Credential
	err         error
	vendorUsers map[string]string
}

func (f *fakeLinks) EnsureFreshToken(context.Context, string) (*devicelink.Credential, error) {
	return f.cred, f.err
}

func (f *fakeLinks) ResolveVendorUser(_ context.Context, vendorUserID string) (string, error) {
	userID, ok := f.vendorUsers[vendorUserID]
	if !ok {
		return "", devicelink.ErrNotConnected
	}
	return userID, nil
}

type fakeVitals struct {
	mu      sync.Mutex
	applies int
	lastLen int
	err     error
}

func (f *fakeVitals) Apply(_ context.Context, _ string, batch []Measurement) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.applies++
	f.lastLen = len(batch)
	return f.err
}

// measureServer serves the vendor measurement endpoint with a fixed group
// payload and records the query windows it saw.
func measureServer(t *testing.T, payload string) (*httptest.Server, *[]string) {
	t.Helper()
	var windows []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		windows = append(windows, q.Get("startdate")+":"+q.Get("enddate"))
		fmt.Fprintf(w, `{"status":0,"body":{"measuregrps":%s}}`, payload)
	}))
	t.Cleanup(srv.Close)
	return srv, &windows
}

func newFetchService(t *testing.T, baseURL string, links CredentialSource, repo MeasurementRepository, vitals VitalsApplier) *Service {
	t.Helper()
	client, err := devicevendor.NewClient(devicevendor.Config{
		ClientID:     "client-1",
		ClientSecret: "secret-1",
		BaseURL:      baseURL,
		AuthorizeURL: "https://vendor.example.com/authorize",
	})
	if err != nil {
		t.Fatalf("failed to create vendor client: %v", err)
	}
	return NewService(links, client, repo, vitals, nil, zerolog.Nop())
}

const cuffAndScaleGroups = `[
	{"grpid":101,"date":1760000000,"model":"BPM Core","measures":[
		{"value":121,"type":10,"unit":0},
		{"value":79,"type":9,"unit":0},
		{"value":68,"type":11,"unit":0}
	]},
	{"grpid":102,"date":1760000600,"model":"Scale","measures":[
		{"value":72500,"type":1,"unit":-3}
	]}
]`

func linkedUser() *fakeLinks {
	return &fakeLinks{
		cred: &devicelink.Credential{
			UserID:       "user-1",
			AccessToken:  "at-1",
			VendorUserID: "vendor-42",
			ExpiresAt:    time.Now().Add(time.Hour),
		},
		vendorUsers: map[string]string{"vendor-42": "user-1"},
	}
}

func TestFetch_NormalizesAndPersists(t *testing.T) {
	srv, _ := measureServer(t, cuffAndScaleGroups)
	repo := newMemMeasurementRepo()
	vitals := &fakeVitals{}
	svc := newFetchService(t, srv.URL, linkedUser(), repo, vitals)

	batch, err := svc.Fetch(context.Background(), "user-1", time.Unix(1759990000, 0), time.Unix(1760001000, 0))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Group 101 yields heart rate + blood pressure, group 102 yields weight.
	if len(batch) != 3 {
		t.Fatalf("expected 3 measurements, got %d", len(batch))
	}
	rows, total, _ := repo.ListByUser(context.Background(), "user-1", 50, 0)
	if total != 3 || len(rows) != 3 {
		t.Errorf("expected 3 stored rows, got %d (total %d)", len(rows), total)
	}
	if vitals.applies != 1 || vitals.lastLen != 3 {
		t.Errorf("expected one vitals apply over the batch, got applies=%d len=%d", vitals.applies, vitals.lastLen)
	}
}

func TestFetch_IdempotentAcrossDuplicateDeliveries(t *testing.T) {
	srv, _ := measureServer(t, cuffAndScaleGroups)
	repo := newMemMeasurementRepo()
	svc := newFetchService(t, srv.URL, linkedUser(), repo, &fakeVitals{})

	for i := 0; i < 3; i++ {
		if _, err := svc.Fetch(context.Background(), "user-1", time.Unix(1759990000, 0), time.Unix(1760001000, 0)); err != nil {
			t.Fatalf("fetch %d failed: %v", i, err)
		}
	}
	_, total, _ := repo.ListByUser(context.Background(), "user-1", 50, 0)
	if total != 3 {
		t.Errorf("expected 3 rows after repeated deliveries, got %d", total)
	}
}

func TestFetch_DefaultWindow(t *testing.T) {
	srv, windows := measureServer(t, `[]`)
	svc := newFetchService(t, srv.URL, linkedUser(), newMemMeasurementRepo(), &fakeVitals{})
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return fixed }

	if _, err := svc.Fetch(context.Background(), "user-1", time.Time{}, time.Time{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(*windows) != 1 {
		t.Fatalf("expected 1 vendor call, got %d", len(*windows))
	}
	want := fmt.Sprintf("%d:%d", fixed.Add(-defaultWindow).Unix(), fixed.Unix())
	if (*windows)[0] != want {
		t.Errorf("expected window %s, got %s", want, (*windows)[0])
	}
}

func TestFetch_NotConnectedPassesThrough(t *testing.T) {
	srv, _ := measureServer(t, `[]`)
	links := &fakeLinks{err: devicelink.ErrNotConnected}
	svc := newFetchService(t, srv.URL, links, newMemMeasurementRepo(), &fakeVitals{})

	_, err := svc.Fetch(context.Background(), "user-1", time.Time{}, time.Time{})
	if !errors.Is(err, devicelink.ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
}

func TestFetch_VendorErrorSurfacesStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status":601,"error":"too many requests"}`)
	}))
	t.Cleanup(srv.Close)
	svc := newFetchService(t, srv.URL, linkedUser(), newMemMeasurementRepo(), &fakeVitals{})

	_, err := svc.Fetch(context.Background(), "user-1", time.Time{}, time.Time{})
	var apiErr *devicevendor.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Status != devicevendor.StatusTooManyRequests {
		t.Errorf("expected status 601, got %d", apiErr.Status)
	}
}

func TestFetch_AllGroupsDroppedIsNotAnError(t *testing.T) {
	srv, _ := measureServer(t, `[
		{"grpid":201,"date":1760000000,"measures":[{"value":500,"type":88,"unit":-2}]}
	]`)
	repo := newMemMeasurementRepo()
	vitals := &fakeVitals{}
	svc := newFetchService(t, srv.URL, linkedUser(), repo, vitals)

	batch, err := svc.Fetch(context.Background(), "user-1", time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(batch) != 0 {
		t.Errorf("expected empty batch, got %d", len(batch))
	}
	if vitals.applies != 0 {
		t.Error("vitals must not be touched for an empty batch")
	}
}

func TestFetch_VitalsFailureFailsTheIngestion(t *testing.T) {
	srv, _ := measureServer(t, cuffAndScaleGroups)
	vitals := &fakeVitals{err: errors.New("projection unavailable")}
	svc := newFetchService(t, srv.URL, linkedUser(), newMemMeasurementRepo(), vitals)

	if _, err := svc.Fetch(context.Background(), "user-1", time.Time{}, time.Time{}); err == nil {
		t.Fatal("expected the ingestion to fail when the projection update fails")
	}
}

func TestHandleNotification_ResolvesVendorUser(t *testing.T) {
	srv, _ := measureServer(t, cuffAndScaleGroups)
	repo := newMemMeasurementRepo()
	svc := newFetchService(t, srv.URL, linkedUser(), repo, &fakeVitals{})

	err := svc.HandleNotification(context.Background(), "vendor-42", time.Unix(1759990000, 0), time.Unix(1760001000, 0))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, total, _ := repo.ListByUser(context.Background(), "user-1", 50, 0)
	if total != 3 {
		t.Errorf("expected 3 rows ingested via notification, got %d", total)
	}
}

func TestHandleNotification_UnknownVendorUser(t *testing.T) {
	srv, _ := measureServer(t, `[]`)
	svc := newFetchService(t, srv.URL, linkedUser(), newMemMeasurementRepo(), &fakeVitals{})

	err := svc.HandleNotification(context.Background(), "vendor-unknown", time.Time{}, time.Time{})
	if !errors.Is(err, devicelink.ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
}
