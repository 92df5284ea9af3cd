package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/sammy/pagelift/internal/domain"
)

// fakeObjectStorage counts uploads and can fail the first N attempts per key.
type fakeObjectStorage struct {
	mu           sync.Mutex
	uploads      map[string]int // attempts per key
	failuresLeft map[string]int // remaining forced failures per key
	inFlight     int
	maxInFlight  int
}

func newFakeObjectStorage() *fakeObjectStorage {
	return &fakeObjectStorage{
		uploads:      make(map[string]int),
		failuresLeft: make(map[string]int),
	}
}

func (f *fakeObjectStorage) Upload(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error {
	f.mu.Lock()
	f.inFlight++
	if f.inFlight > f.maxInFlight {
		f.maxInFlight = f.inFlight
	}
	f.uploads[key]++
	fail := f.failuresLeft[key] > 0
	if fail {
		f.failuresLeft[key]--
	}
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.inFlight--
		f.mu.Unlock()
	}()

	if _, err := io.ReadAll(reader); err != nil {
		return err
	}
	if fail {
		return errors.New("storage unavailable")
	}
	return nil
}

func (f *fakeObjectStorage) EnsureBucket(ctx context.Context) error {
	return nil
}

func (f *fakeObjectStorage) Bucket() string {
	return "scans"
}

func (f *fakeObjectStorage) GetURL(key string) string {
	return "https://cdn.example.com/" + key
}

func (f *fakeObjectStorage) Delete(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.uploads, key)
	return nil
}

func (f *fakeObjectStorage) ListPrefix(ctx context.Context, prefix string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var keys []string
	for k := range f.uploads {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func (f *fakeObjectStorage) attempts(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.uploads[key]
}

const tinyPNG = "iVBORw0KGgo=" // not a real image, the uploader treats bytes opaquely

func resultWithComponents(n int) *domain.ExtractionResult {
	page := domain.Page{PageNumber: 1}
	for i := 0; i < n; i++ {
		page.Components = append(page.Components, domain.Component{
			ID:       i,
			Category: "figure",
			Base64:   tinyPNG,
		})
	}
	return &domain.ExtractionResult{
		SourceFile:      "scan.pdf",
		TotalPages:      1,
		TotalComponents: n,
		Pages:           []domain.Page{page},
	}
}

func TestComponentUploader_Upload(t *testing.T) {
	store := newFakeObjectStorage()
	uploader := NewComponentUploader(store)

	meta, err := uploader.Upload(context.Background(), "user-1", "job-1", resultWithComponents(3))
	if err != nil {
		t.Fatalf("Upload failed: %v", err)
	}
	if len(meta) != 3 {
		t.Fatalf("expected 3 component metas, got %d", len(meta))
	}

	for i, m := range meta {
		wantURL := fmt.Sprintf("https://cdn.example.com/user-1/job-1/%d.png", i)
		if m.URL != wantURL {
			t.Errorf("component %d: got URL %q, want %q", i, m.URL, wantURL)
		}
		key := fmt.Sprintf("user-1/job-1/%d.png", i)
		if store.attempts(key) != 1 {
			t.Errorf("expected 1 upload for %s, got %d", key, store.attempts(key))
		}
	}
}

func TestComponentUploader_SkipsComponentsWithoutImages(t *testing.T) {
	store := newFakeObjectStorage()
	uploader := NewComponentUploader(store)

	result := resultWithComponents(2)
	result.Pages[0].Components[1].Base64 = ""

	meta, err := uploader.Upload(context.Background(), "user-1", "job-1", result)
	if err != nil {
		t.Fatalf("Upload failed: %v", err)
	}
	if len(meta) != 1 {
		t.Fatalf("expected 1 component meta, got %d", len(meta))
	}
	if store.attempts("user-1/job-1/1.png") != 0 {
		t.Error("imageless component should not be uploaded")
	}
}

func TestComponentUploader_RejectsBadImageData(t *testing.T) {
	store := newFakeObjectStorage()
	uploader := NewComponentUploader(store)

	result := resultWithComponents(1)
	result.Pages[0].Components[0].Base64 = "not base64!!!"

	if _, err := uploader.Upload(context.Background(), "user-1", "job-1", result); err == nil {
		t.Fatal("expected error for undecodable image data")
	}
}

func TestComponentUploader_RetriesThenSucceeds(t *testing.T) {
	store := newFakeObjectStorage()
	store.failuresLeft["user-1/job-1/0.png"] = uploadMaxRetries - 1
	uploader := NewComponentUploader(store)

	_, err := uploader.Upload(context.Background(), "user-1", "job-1", resultWithComponents(1))
	if err != nil {
		t.Fatalf("Upload failed despite retries: %v", err)
	}
	if got := store.attempts("user-1/job-1/0.png"); got != uploadMaxRetries {
		t.Errorf("expected %d attempts, got %d", uploadMaxRetries, got)
	}
}

func TestComponentUploader_ExhaustedRetriesFailBatch(t *testing.T) {
	store := newFakeObjectStorage()
	store.failuresLeft["user-1/job-1/0.png"] = uploadMaxRetries
	uploader := NewComponentUploader(store)

	_, err := uploader.Upload(context.Background(), "user-1", "job-1", resultWithComponents(2))
	if err == nil {
		t.Fatal("expected batch failure after exhausted retries")
	}
	if got := store.attempts("user-1/job-1/0.png"); got != uploadMaxRetries {
		t.Errorf("expected %d attempts, got %d", uploadMaxRetries, got)
	}
}

func TestComponentUploader_BoundedConcurrency(t *testing.T) {
	store := newFakeObjectStorage()
	uploader := NewComponentUploader(store)

	if _, err := uploader.Upload(context.Background(), "user-1", "job-1", resultWithComponents(40)); err != nil {
		t.Fatalf("Upload failed: %v", err)
	}
	if store.maxInFlight > uploadConcurrency {
		t.Errorf("observed %d concurrent uploads, cap is %d", store.maxInFlight, uploadConcurrency)
	}
}
