package ingest

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/irisblue-leo/denexus-sub000/internal/models"
)

// ---------------------------------------------------------------------------
// In-memory mocks
// ---------------------------------------------------------------------------

type mockStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	putErr  error
	delErr  error
}

func newMockStore() *mockStore {
	return &mockStore{objects: make(map[string][]byte)}
}

func (m *mockStore) Put(_ context.Context, key string, body []byte, _ string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.putErr != nil {
		return "", m.putErr
	}
	m.objects[key] = body
	return "https://cdn.example.com/" + key, nil
}

func (m *mockStore) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.objects[key]
	if !ok {
		return nil, errors.New("no such key")
	}
	return b, nil
}

func (m *mockStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.delErr != nil {
		return m.delErr
	}
	delete(m.objects, key)
	return nil
}

type mockAssets struct {
	mu      sync.Mutex
	rows    map[uuid.UUID]*models.Asset
	deleted []uuid.UUID
}

func newMockAssets() *mockAssets {
	return &mockAssets{rows: make(map[uuid.UUID]*models.Asset)}
}

func (m *mockAssets) Create(_ context.Context, a *models.Asset) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *a
	m.rows[a.ID] = &cp
	return nil
}

func (m *mockAssets) Delete(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rows, id)
	m.deleted = append(m.deleted, id)
	return nil
}

func (m *mockAssets) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

func newTestIngestor(store *mockStore, assets *mockAssets) *Ingestor {
	ing := NewIngestor(store, assets, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ing.sleep = func(time.Duration) {}
	return ing
}

// ---------------------------------------------------------------------------
// Persist
// ---------------------------------------------------------------------------

func TestPersistFromURL(t *testing.T) {
	payload := []byte("fake mp4 bytes")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "video/mp4")
		w.Write(payload)
	}))
	defer srv.Close()

	store := newMockStore()
	assets := newMockAssets()
	ing := newTestIngestor(store, assets)

	owner := uuid.New()
	taskID := uuid.New()
	asset, err := ing.Persist(context.Background(), srv.URL+"/out.mp4", owner, &taskID, "clip", models.AssetTypeVideo)
	if err != nil {
		t.Fatalf("Persist: %v", err)
	}

	if asset.UserID != owner || asset.TaskID == nil || *asset.TaskID != taskID {
		t.Errorf("asset ownership: got %+v", asset)
	}
	if asset.MimeType != "video/mp4" || asset.FileSize != int64(len(payload)) {
		t.Errorf("asset metadata: got mime %q size %d", asset.MimeType, asset.FileSize)
	}
	if !strings.HasSuffix(asset.FilePath, ".mp4") {
		t.Errorf("object key should carry the mp4 extension, got %q", asset.FilePath)
	}
	if got, err := store.Get(context.Background(), asset.FilePath); err != nil || string(got) != string(payload) {
		t.Error("stored object should hold the downloaded bytes")
	}
	if assets.count() != 1 {
		t.Errorf("asset rows: got %d, want 1", assets.count())
	}
}

func TestPersistRetriesTransientDownloads(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			http.Error(w, "try again", http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Write([]byte("png bytes"))
	}))
	defer srv.Close()

	ing := newTestIngestor(newMockStore(), newMockAssets())

	if _, err := ing.Persist(context.Background(), srv.URL, uuid.New(), nil, "image", models.AssetTypeImage); err != nil {
		t.Fatalf("Persist should succeed within the retry budget: %v", err)
	}
	if calls != 3 {
		t.Errorf("downloads: got %d, want 3", calls)
	}
}

func TestPersistGivesUpAfterMaxAttempts(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "nope", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	store := newMockStore()
	assets := newMockAssets()
	ing := newTestIngestor(store, assets)

	_, err := ing.Persist(context.Background(), srv.URL, uuid.New(), nil, "image", models.AssetTypeImage)
	if err == nil {
		t.Fatal("expected error after exhausting attempts")
	}
	if calls != defaultMaxAttempts {
		t.Errorf("downloads: got %d, want %d", calls, defaultMaxAttempts)
	}
	if assets.count() != 0 {
		t.Error("no asset row should exist for a failed ingest")
	}
}

func TestPersistFromDataURI(t *testing.T) {
	ing := newTestIngestor(newMockStore(), newMockAssets())

	encoded := base64.StdEncoding.EncodeToString([]byte("tiny png"))
	asset, err := ing.Persist(context.Background(), "data:image/png;base64,"+encoded,
		uuid.New(), nil, "image", models.AssetTypeImage)
	if err != nil {
		t.Fatalf("Persist: %v", err)
	}
	if asset.MimeType != "image/png" {
		t.Errorf("mime: got %q, want image/png", asset.MimeType)
	}
}

func TestPersistFromRawBase64(t *testing.T) {
	ing := newTestIngestor(newMockStore(), newMockAssets())

	encoded := base64.StdEncoding.EncodeToString([]byte("raw bytes"))
	if _, err := ing.Persist(context.Background(), encoded, uuid.New(), nil, "image", models.AssetTypeImage); err != nil {
		t.Fatalf("Persist: %v", err)
	}

	if _, err := ing.Persist(context.Background(), "not//valid//base64!!", uuid.New(), nil, "image", models.AssetTypeImage); err == nil {
		t.Error("garbage source should be rejected")
	}
}

// ---------------------------------------------------------------------------
// PersistUpload / Remove
// ---------------------------------------------------------------------------

func TestPersistUpload(t *testing.T) {
	assets := newMockAssets()
	ing := newTestIngestor(newMockStore(), assets)

	asset, err := ing.PersistUpload(context.Background(), []byte("upload"), "image/jpeg", uuid.New(), models.AssetTypeImage)
	if err != nil {
		t.Fatalf("PersistUpload: %v", err)
	}
	if asset.Source != models.AssetSourceUpload {
		t.Errorf("source: got %q, want upload", asset.Source)
	}
	if !strings.HasSuffix(asset.FilePath, ".jpg") {
		t.Errorf("object key extension: got %q", asset.FilePath)
	}
}

func TestRemoveSurvivesStorageOutage(t *testing.T) {
	store := newMockStore()
	assets := newMockAssets()
	ing := newTestIngestor(store, assets)

	asset, err := ing.PersistUpload(context.Background(), []byte("upload"), "image/png", uuid.New(), models.AssetTypeImage)
	if err != nil {
		t.Fatalf("PersistUpload: %v", err)
	}

	store.delErr = errors.New("s3 down")
	if err := ing.Remove(context.Background(), asset); err != nil {
		t.Fatalf("Remove should drop the record despite the storage error: %v", err)
	}
	if assets.count() != 0 {
		t.Error("asset row should be gone")
	}
}
