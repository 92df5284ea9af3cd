package remote

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/sammy/pagelift/internal/domain"
	"github.com/sammy/pagelift/internal/logger"
	"github.com/sammy/pagelift/internal/storage"
)

// Config holds configuration for the remote datastore client.
type Config struct {
	BaseURL    string // project base URL, e.g. https://xyz.example.co
	ServiceKey string // service-role key, sent as apikey + bearer token
	Table      string // jobs table name
}

// Client implements Jobs against a PostgREST-style row API plus an
// S3-compatible object store for the job's component images.
type Client struct {
	http    *resty.Client
	table   string
	objects storage.ObjectStorage
}

// NewClient creates a remote jobs client.
// Parameters:
//   - cfg: remote datastore configuration.
//   - objects: object storage holding the jobs' component images.
// Returns:
//   - *Client: initialized client.
func NewClient(cfg *Config, objects storage.ObjectStorage) *Client {
	table := cfg.Table
	if table == "" {
		table = "jobs"
	}

	client := resty.New()
	client.SetBaseURL(strings.TrimSuffix(cfg.BaseURL, "/") + "/rest/v1")
	client.SetHeader("apikey", cfg.ServiceKey)
	client.SetHeader("Authorization", "Bearer "+cfg.ServiceKey)
	client.SetHeader("Content-Type", "application/json")
	// Keep remote calls from hanging a request or the worker
	client.SetTimeout(30 * time.Second)

	return &Client{
		http:    client,
		table:   table,
		objects: objects,
	}
}

// jobUUID converts the internal 32-char hex job ID to the remote store's
// canonical dashed UUID form.
func jobUUID(jobIDHex string) (string, error) {
	u, err := uuid.Parse(jobIDHex)
	if err != nil {
		return "", fmt.Errorf("invalid job id %q: %w", jobIDHex, err)
	}
	return u.String(), nil
}

type remoteRow struct {
	ID          string `json:"id"`
	UserID      string `json:"user_id"`
	Title       string `json:"title"`
	StoragePath string `json:"storage_path"`
}

// Count returns how many saved jobs the user owns, using an exact count
// header so no rows are transferred.
func (c *Client) Count(ctx context.Context, userID string) (int, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Prefer", "count=exact").
		SetQueryParam("select", "id").
		SetQueryParam("user_id", "eq."+userID).
		SetQueryParam("limit", "1").
		Get("/" + c.table)
	if err != nil {
		return 0, fmt.Errorf("count request failed: %w", err)
	}
	if resp.IsError() {
		return 0, fmt.Errorf("count request returned %s", resp.Status())
	}

	// Content-Range is "0-0/N" or "*/N"
	contentRange := resp.Header().Get("Content-Range")
	idx := strings.LastIndex(contentRange, "/")
	if idx < 0 {
		return 0, fmt.Errorf("missing count in Content-Range %q", contentRange)
	}
	total := contentRange[idx+1:]
	if total == "*" || total == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(total)
	if err != nil {
		return 0, fmt.Errorf("bad count in Content-Range %q: %w", contentRange, err)
	}
	return n, nil
}

// Get fetches a single user-owned job. Filtering by both ID and owner
// keeps a mismatched owner indistinguishable from not-found.
func (c *Client) Get(ctx context.Context, userID, jobID string) (*domain.RemoteJob, error) {
	id, err := jobUUID(jobID)
	if err != nil {
		return nil, err
	}

	var rows []remoteRow
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("select", "id,user_id,title,storage_path").
		SetQueryParam("id", "eq."+id).
		SetQueryParam("user_id", "eq."+userID).
		SetQueryParam("limit", "1").
		SetResult(&rows).
		Get("/" + c.table)
	if err != nil {
		return nil, fmt.Errorf("get request failed: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("get request returned %s", resp.Status())
	}
	if len(rows) == 0 {
		return nil, nil
	}

	row := rows[0]
	rowID, err := uuid.Parse(row.ID)
	if err != nil {
		return nil, fmt.Errorf("bad id in remote row: %w", err)
	}
	return &domain.RemoteJob{
		ID:          strings.ReplaceAll(rowID.String(), "-", ""),
		UserID:      row.UserID,
		Title:       row.Title,
		StoragePath: row.StoragePath,
	}, nil
}

// Rename updates the title of a row matching both ID and owner.
func (c *Client) Rename(ctx context.Context, userID, jobID, title string) error {
	id, err := jobUUID(jobID)
	if err != nil {
		return err
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("id", "eq."+id).
		SetQueryParam("user_id", "eq."+userID).
		SetBody(map[string]string{"title": title}).
		Patch("/" + c.table)
	if err != nil {
		return fmt.Errorf("rename request failed: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("rename request returned %s", resp.Status())
	}
	return nil
}

// Insert saves a completed job row.
func (c *Client) Insert(ctx context.Context, job *SavedJob) error {
	id, err := jobUUID(job.ID)
	if err != nil {
		return err
	}

	body := map[string]interface{}{
		"id":               id,
		"user_id":          job.UserID,
		"status":           job.Status,
		"title":            job.Title,
		"total_pages":      job.TotalPages,
		"total_components": job.TotalComponents,
		"results":          job.Results,
		"storage_path":     job.StoragePath,
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Prefer", "return=minimal").
		SetBody(body).
		Post("/" + c.table)
	if err != nil {
		return fmt.Errorf("insert request failed: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("insert request returned %s", resp.Status())
	}
	return nil
}

// Delete removes all storage objects under the user/job prefix, then the
// row itself. Objects go first so a failure never leaves an orphaned row
// pointing at images that keep costing storage.
func (c *Client) Delete(ctx context.Context, userID, jobID string) (domain.DeleteResult, error) {
	prefix := fmt.Sprintf("%s/%s", userID, jobID)

	deleted := 0
	keys, err := c.objects.ListPrefix(ctx, prefix)
	if err != nil {
		return domain.DeleteResult{}, err
	}
	for _, key := range keys {
		if err := c.objects.Delete(ctx, key); err != nil {
			return domain.DeleteResult{DeletedObjects: deleted}, err
		}
		deleted++
	}
	if deleted > 0 {
		logger.CtxInfo(ctx, "Deleted %d storage objects for job %s", deleted, jobID)
	}

	id, err := jobUUID(jobID)
	if err != nil {
		return domain.DeleteResult{DeletedObjects: deleted}, err
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("id", "eq."+id).
		SetQueryParam("user_id", "eq."+userID).
		Delete("/" + c.table)
	if err != nil {
		return domain.DeleteResult{DeletedObjects: deleted}, fmt.Errorf("delete request failed: %w", err)
	}
	if resp.IsError() {
		return domain.DeleteResult{DeletedObjects: deleted}, fmt.Errorf("delete request returned %s", resp.Status())
	}
	return domain.DeleteResult{DeletedObjects: deleted}, nil
}
