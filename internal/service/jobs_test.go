package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sammy/pagelift/internal/domain"
	"github.com/sammy/pagelift/internal/remote"
	"github.com/sammy/pagelift/internal/repository"
)

type jobServiceFixture struct {
	svc       *JobService
	repo      *repository.JobRepository
	remote    *fakeRemoteJobs
	uploadDir string
	outputDir string
}

func newJobServiceFixture(t *testing.T, remoteJobs *fakeRemoteJobs) *jobServiceFixture {
	t.Helper()
	repo := newTestRepo(t)
	uploadDir := t.TempDir()
	outputDir := t.TempDir()

	// The worker is never started here; queued jobs just stay queued.
	worker := NewExtractionWorker(repo, newFakeExtractor(), nil, nil, outputDir)

	var rj remote.Jobs
	if remoteJobs != nil {
		rj = remoteJobs
	}
	svc := NewJobService(repo, worker, rj, JobServiceConfig{
		UploadDir: uploadDir,
		OutputDir: outputDir,
		PublicURL: "http://localhost:8000",
		MaxSlots:  2,
	})
	return &jobServiceFixture{
		svc:       svc,
		repo:      repo,
		remote:    remoteJobs,
		uploadDir: uploadDir,
		outputDir: outputDir,
	}
}

// completedJob persists a job in completed status with a real result
// artifact on disk, bypassing the worker.
func (f *jobServiceFixture) completedJob(t *testing.T, userID *string, componentsPerPage []int) string {
	t.Helper()
	ctx := context.Background()

	id, err := f.repo.Create(ctx, "scan.pdf", filepath.Join(f.uploadDir, "scan.pdf"), userID)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	result := &domain.ExtractionResult{SourceFile: "scan.pdf", TotalPages: len(componentsPerPage)}
	next := 0
	for p, n := range componentsPerPage {
		page := domain.Page{PageNumber: p + 1}
		for i := 0; i < n; i++ {
			page.Components = append(page.Components, domain.Component{ID: next, Category: "figure"})
			next++
		}
		result.Pages = append(result.Pages, page)
	}
	result.TotalComponents = next

	dir := filepath.Join(f.outputDir, id)
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	resultPath := filepath.Join(dir, "scan_extracted.json")
	data, _ := json.Marshal(result)
	if err := os.WriteFile(resultPath, data, 0644); err != nil {
		t.Fatal(err)
	}

	err = f.repo.UpdateStatus(ctx, id, domain.JobStatusCompleted, &domain.StatusUpdate{
		ResultPath:      &resultPath,
		TotalComponents: &next,
	})
	if err != nil {
		t.Fatalf("UpdateStatus failed: %v", err)
	}
	return id
}

func dashed(hexID string) string {
	return fmt.Sprintf("%s-%s-%s-%s-%s", hexID[0:8], hexID[8:12], hexID[12:16], hexID[16:20], hexID[20:32])
}

func TestNormalizeJobID(t *testing.T) {
	hexID := "0123456789abcdef0123456789abcdef"

	got, err := NormalizeJobID(dashed(hexID))
	if err != nil {
		t.Fatalf("dashed form rejected: %v", err)
	}
	if got != hexID {
		t.Errorf("got %q, want %q", got, hexID)
	}

	got, err = NormalizeJobID(hexID)
	if err != nil {
		t.Fatalf("hex form rejected: %v", err)
	}
	if got != hexID {
		t.Errorf("got %q, want %q", got, hexID)
	}

	if _, err := NormalizeJobID("not-a-uuid"); !IsValidation(err) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestJobService_CreateUpload(t *testing.T) {
	f := newJobServiceFixture(t, nil)
	ctx := context.Background()

	id, err := f.svc.CreateUpload(ctx, nil, "invoice.pdf", []byte("%PDF-1.7 dummy"))
	if err != nil {
		t.Fatalf("CreateUpload failed: %v", err)
	}

	job, err := f.repo.GetByID(ctx, id)
	if err != nil || job == nil {
		t.Fatalf("job row missing: %v", err)
	}
	if job.Status != domain.JobStatusQueued {
		t.Errorf("expected queued, got %q", job.Status)
	}
	if job.Filename != "invoice.pdf" {
		t.Errorf("unexpected filename %q", job.Filename)
	}

	content, err := os.ReadFile(job.UploadPath)
	if err != nil {
		t.Fatalf("upload not persisted: %v", err)
	}
	if string(content) != "%PDF-1.7 dummy" {
		t.Error("persisted bytes do not match the upload")
	}
	if !strings.HasPrefix(job.UploadPath, f.uploadDir) {
		t.Errorf("upload landed outside the upload dir: %q", job.UploadPath)
	}
}

func TestJobService_CreateUploadEnforcesQuota(t *testing.T) {
	remoteJobs := newFakeRemoteJobs()
	f := newJobServiceFixture(t, remoteJobs)
	ctx := context.Background()
	userID := "user-1"

	// Fill the user's two slots.
	for i := 0; i < 2; i++ {
		remoteJobs.Insert(ctx, &remote.SavedJob{ID: fmt.Sprintf("job-%d", i), UserID: userID})
	}

	_, err := f.svc.CreateUpload(ctx, &userID, "more.pdf", []byte("%PDF-"))
	if !errors.Is(err, ErrQuotaReached) {
		t.Fatalf("expected quota error, got %v", err)
	}

	// Guests are never quota-limited.
	if _, err := f.svc.CreateUpload(ctx, nil, "guest.pdf", []byte("%PDF-")); err != nil {
		t.Errorf("guest upload rejected: %v", err)
	}

	// A different user with free slots is fine.
	other := "user-2"
	if _, err := f.svc.CreateUpload(ctx, &other, "ok.pdf", []byte("%PDF-")); err != nil {
		t.Errorf("upload under quota rejected: %v", err)
	}
}

func TestJobService_StatusAcceptsBothIDForms(t *testing.T) {
	f := newJobServiceFixture(t, nil)
	ctx := context.Background()

	id, _ := f.svc.CreateUpload(ctx, nil, "scan.pdf", []byte("%PDF-"))

	for _, raw := range []string{id, dashed(id)} {
		job, err := f.svc.Status(ctx, raw)
		if err != nil {
			t.Errorf("Status(%q) failed: %v", raw, err)
			continue
		}
		if job.ID != id {
			t.Errorf("Status(%q) returned job %q", raw, job.ID)
		}
	}

	if _, err := f.svc.Status(ctx, "0123456789abcdef0123456789abcdef"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestJobService_Result(t *testing.T) {
	f := newJobServiceFixture(t, nil)
	ctx := context.Background()

	t.Run("guest result inlines components with static urls", func(t *testing.T) {
		id := f.completedJob(t, nil, []int{2, 1})

		resp, err := f.svc.Result(ctx, id)
		if err != nil {
			t.Fatalf("Result failed: %v", err)
		}
		if !resp.IsGuest {
			t.Error("expected is_guest true")
		}
		if resp.TotalComponents != 3 || len(resp.Components) != 3 {
			t.Fatalf("expected 3 components inline, got %d/%d", resp.TotalComponents, len(resp.Components))
		}
		wantURL := fmt.Sprintf("http://localhost:8000/static/guest/%s/0.png", id)
		if resp.Components[0].URL != wantURL {
			t.Errorf("got URL %q, want %q", resp.Components[0].URL, wantURL)
		}
	})

	t.Run("user result is metadata only", func(t *testing.T) {
		userID := "user-1"
		id := f.completedJob(t, &userID, []int{2})

		resp, err := f.svc.Result(ctx, id)
		if err != nil {
			t.Fatalf("Result failed: %v", err)
		}
		if resp.IsGuest {
			t.Error("expected is_guest false")
		}
		if len(resp.Components) != 0 {
			t.Errorf("user result should not inline components, got %d", len(resp.Components))
		}
	})

	t.Run("incomplete job conflicts", func(t *testing.T) {
		id, _ := f.svc.CreateUpload(ctx, nil, "pending.pdf", []byte("%PDF-"))
		if _, err := f.svc.Result(ctx, id); !errors.Is(err, ErrNotCompleted) {
			t.Errorf("expected not-completed error, got %v", err)
		}
	})

	t.Run("missing artifact is not found", func(t *testing.T) {
		id := f.completedJob(t, nil, []int{1})
		job, _ := f.repo.GetByID(ctx, id)
		os.Remove(*job.ResultPath)

		if _, err := f.svc.Result(ctx, id); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected not found, got %v", err)
		}
	})
}

func TestJobService_ComponentsPagination(t *testing.T) {
	f := newJobServiceFixture(t, nil)
	ctx := context.Background()
	id := f.completedJob(t, nil, []int{3, 2}) // 5 components across 2 pages

	tests := []struct {
		name        string
		offset      int
		limit       int
		wantLen     int
		wantHasMore bool
		wantFirstID int
	}{
		{name: "first window", offset: 0, limit: 2, wantLen: 2, wantHasMore: true, wantFirstID: 0},
		{name: "middle window", offset: 2, limit: 2, wantLen: 2, wantHasMore: true, wantFirstID: 2},
		{name: "final short window", offset: 4, limit: 2, wantLen: 1, wantHasMore: false, wantFirstID: 4},
		{name: "exact end", offset: 3, limit: 2, wantLen: 2, wantHasMore: false, wantFirstID: 3},
		{name: "out of range", offset: 10, limit: 2, wantLen: 0, wantHasMore: false},
		{name: "default limit", offset: 0, limit: 0, wantLen: 5, wantHasMore: false, wantFirstID: 0},
		{name: "negative offset clamps", offset: -3, limit: 2, wantLen: 2, wantHasMore: true, wantFirstID: 0},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			batch, err := f.svc.Components(ctx, id, tc.offset, tc.limit)
			if err != nil {
				t.Fatalf("Components failed: %v", err)
			}
			if len(batch.Components) != tc.wantLen {
				t.Fatalf("got %d components, want %d", len(batch.Components), tc.wantLen)
			}
			if batch.Total != 5 {
				t.Errorf("got total %d, want 5", batch.Total)
			}
			if batch.HasMore != tc.wantHasMore {
				t.Errorf("got has_more %v, want %v", batch.HasMore, tc.wantHasMore)
			}
			if tc.wantLen > 0 && batch.Components[0].ID != tc.wantFirstID {
				t.Errorf("window starts at component %d, want %d", batch.Components[0].ID, tc.wantFirstID)
			}
		})
	}
}

func TestJobService_ComponentsFlattenInPageOrder(t *testing.T) {
	f := newJobServiceFixture(t, nil)
	id := f.completedJob(t, nil, []int{2, 2})

	batch, err := f.svc.Components(context.Background(), id, 0, 10)
	if err != nil {
		t.Fatalf("Components failed: %v", err)
	}
	wantPages := []int{1, 1, 2, 2}
	for i, m := range batch.Components {
		if m.PageNumber != wantPages[i] {
			t.Errorf("component %d on page %d, want %d", i, m.PageNumber, wantPages[i])
		}
	}
}

func TestJobService_Delete(t *testing.T) {
	ctx := context.Background()
	userID := "user-1"

	t.Run("rejects unauthenticated callers first", func(t *testing.T) {
		f := newJobServiceFixture(t, newFakeRemoteJobs())
		// Even a malformed id must not be inspected before the auth check
		if _, err := f.svc.Delete(ctx, nil, "garbage"); !errors.Is(err, ErrAuthRequired) {
			t.Errorf("expected auth error, got %v", err)
		}
	})

	t.Run("guest jobs are never deletable", func(t *testing.T) {
		f := newJobServiceFixture(t, newFakeRemoteJobs())
		id := f.completedJob(t, nil, []int{1})
		if _, err := f.svc.Delete(ctx, &userID, id); !errors.Is(err, ErrGuestJob) {
			t.Errorf("expected guest-job error, got %v", err)
		}
	})

	t.Run("unknown remote job is not found", func(t *testing.T) {
		f := newJobServiceFixture(t, newFakeRemoteJobs())
		if _, err := f.svc.Delete(ctx, &userID, "0123456789abcdef0123456789abcdef"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected not found, got %v", err)
		}
	})

	t.Run("other user's job is indistinguishable from missing", func(t *testing.T) {
		remoteJobs := newFakeRemoteJobs()
		f := newJobServiceFixture(t, remoteJobs)
		id := "0123456789abcdef0123456789abcdef"
		remoteJobs.Insert(ctx, &remote.SavedJob{ID: id, UserID: "someone-else"})

		if _, err := f.svc.Delete(ctx, &userID, id); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected not found, got %v", err)
		}
	})

	t.Run("remote delete failure is upstream and keeps local row", func(t *testing.T) {
		remoteJobs := newFakeRemoteJobs()
		f := newJobServiceFixture(t, remoteJobs)
		id := f.completedJob(t, &userID, []int{1})
		remoteJobs.Insert(ctx, &remote.SavedJob{ID: id, UserID: userID})
		remoteJobs.deleteErr = errors.New("storage timeout")

		if _, err := f.svc.Delete(ctx, &userID, id); !errors.Is(err, ErrUpstream) {
			t.Errorf("expected upstream error, got %v", err)
		}
		if job, _ := f.repo.GetByID(ctx, id); job == nil {
			t.Error("local row must survive a failed remote delete")
		}
	})

	t.Run("successful delete removes remote then local", func(t *testing.T) {
		remoteJobs := newFakeRemoteJobs()
		f := newJobServiceFixture(t, remoteJobs)
		id := f.completedJob(t, &userID, []int{1})
		remoteJobs.Insert(ctx, &remote.SavedJob{ID: id, UserID: userID})

		job, _ := f.repo.GetByID(ctx, id)
		resultPath := *job.ResultPath

		res, err := f.svc.Delete(ctx, &userID, dashed(id))
		if err != nil {
			t.Fatalf("Delete failed: %v", err)
		}
		if res.DeletedObjects != 2 {
			t.Errorf("got %d deleted objects, want 2", res.DeletedObjects)
		}
		if remoteJobs.inserted(id) != nil {
			t.Error("remote row survived the delete")
		}
		if job, _ := f.repo.GetByID(ctx, id); job != nil {
			t.Error("local row survived the delete")
		}
		if _, err := os.Stat(resultPath); !os.IsNotExist(err) {
			t.Error("result artifact survived the delete")
		}
	})
}

func TestJobService_Rename(t *testing.T) {
	ctx := context.Background()
	userID := "user-1"
	jobID := "0123456789abcdef0123456789abcdef"

	newFixture := func(t *testing.T) (*jobServiceFixture, *fakeRemoteJobs) {
		remoteJobs := newFakeRemoteJobs()
		f := newJobServiceFixture(t, remoteJobs)
		remoteJobs.Insert(ctx, &remote.SavedJob{ID: jobID, UserID: userID, Title: "scan.pdf"})
		return f, remoteJobs
	}

	t.Run("rejects unauthenticated callers first", func(t *testing.T) {
		f, _ := newFixture(t)
		if _, err := f.svc.Rename(ctx, nil, jobID, "new name"); !errors.Is(err, ErrAuthRequired) {
			t.Errorf("expected auth error, got %v", err)
		}
	})

	t.Run("keeps the original extension", func(t *testing.T) {
		f, remoteJobs := newFixture(t)
		title, err := f.svc.Rename(ctx, &userID, jobID, "Q3 report")
		if err != nil {
			t.Fatalf("Rename failed: %v", err)
		}
		if title != "Q3 report.pdf" {
			t.Errorf("got title %q, want %q", title, "Q3 report.pdf")
		}
		if got := remoteJobs.inserted(jobID).Title; got != "Q3 report.pdf" {
			t.Errorf("remote title %q, want %q", got, "Q3 report.pdf")
		}
	})

	t.Run("unchanged title short-circuits", func(t *testing.T) {
		f, remoteJobs := newFixture(t)
		remoteJobs.renameErr = errors.New("must not be called")

		title, err := f.svc.Rename(ctx, &userID, jobID, "scan")
		if err != nil {
			t.Fatalf("Rename failed: %v", err)
		}
		if title != "scan.pdf" {
			t.Errorf("got title %q, want %q", title, "scan.pdf")
		}
	})

	t.Run("validation", func(t *testing.T) {
		f, _ := newFixture(t)
		tests := []struct {
			name     string
			baseName string
		}{
			{name: "empty", baseName: ""},
			{name: "whitespace only", baseName: "   "},
			{name: "too long", baseName: strings.Repeat("x", 121)},
			{name: "path separator", baseName: "a/b"},
			{name: "backslash", baseName: `a\b`},
			{name: "control character", baseName: "a\x00b"},
		}
		for _, tc := range tests {
			t.Run(tc.name, func(t *testing.T) {
				if _, err := f.svc.Rename(ctx, &userID, jobID, tc.baseName); !IsValidation(err) {
					t.Errorf("expected validation error for %q, got %v", tc.baseName, err)
				}
			})
		}
	})

	t.Run("unknown job is not found", func(t *testing.T) {
		f, _ := newFixture(t)
		if _, err := f.svc.Rename(ctx, &userID, "ffffffffffffffffffffffffffffffff", "x"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected not found, got %v", err)
		}
	})

	t.Run("remote failure is upstream", func(t *testing.T) {
		f, remoteJobs := newFixture(t)
		remoteJobs.renameErr = errors.New("datastore down")
		if _, err := f.svc.Rename(ctx, &userID, jobID, "other"); !errors.Is(err, ErrUpstream) {
			t.Errorf("expected upstream error, got %v", err)
		}
	})

	t.Run("syncs the local cache row", func(t *testing.T) {
		remoteJobs := newFakeRemoteJobs()
		f := newJobServiceFixture(t, remoteJobs)
		localID := f.completedJob(t, &userID, []int{1})
		remoteJobs.Insert(ctx, &remote.SavedJob{ID: localID, UserID: userID, Title: "scan.pdf"})

		if _, err := f.svc.Rename(ctx, &userID, localID, "synced"); err != nil {
			t.Fatalf("Rename failed: %v", err)
		}
		job, _ := f.repo.GetByID(ctx, localID)
		if job.Filename != "synced.pdf" {
			t.Errorf("local row not synced, filename %q", job.Filename)
		}
	})
}

func TestJobService_Feedback(t *testing.T) {
	f := newJobServiceFixture(t, nil)
	ctx := context.Background()
	id, _ := f.svc.CreateUpload(ctx, nil, "scan.pdf", []byte("%PDF-"))

	if _, err := f.svc.Feedback(ctx, id, domain.FeedbackType("praise"), nil); !IsValidation(err) {
		t.Errorf("expected validation error, got %v", err)
	}

	if _, err := f.svc.Feedback(ctx, "0123456789abcdef0123456789abcdef", domain.FeedbackTypeBug, nil); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}

	msg := "table on page 2 is split"
	fid, err := f.svc.Feedback(ctx, dashed(id), domain.FeedbackTypeBug, &msg)
	if err != nil {
		t.Fatalf("Feedback failed: %v", err)
	}
	if len(fid) != 32 {
		t.Errorf("expected 32-char feedback id, got %q", fid)
	}
}
