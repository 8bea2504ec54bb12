// Package ingest persists provider-produced media into our own storage and
// records an Asset row for it.
package ingest

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/irisblue-leo/denexus-sub000/internal/models"
	"github.com/irisblue-leo/denexus-sub000/internal/storage"
)

const (
	defaultMaxAttempts    = 3
	defaultAttemptTimeout = 120 * time.Second
	maxDownloadBytes      = 512 << 20
)

// AssetRepo is the asset persistence interface the ingestor needs.
type AssetRepo interface {
	Create(ctx context.Context, a *models.Asset) error
	Delete(ctx context.Context, id uuid.UUID) error
}

type Ingestor struct {
	Store  storage.ObjectStore
	Assets AssetRepo
	Logger *slog.Logger

	HTTPClient     *http.Client
	MaxAttempts    int
	AttemptTimeout time.Duration

	// sleep is swapped in tests to avoid real backoff waits.
	sleep func(time.Duration)
}

func NewIngestor(store storage.ObjectStore, assets AssetRepo, logger *slog.Logger) *Ingestor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingestor{
		Store:          store,
		Assets:         assets,
		Logger:         logger,
		HTTPClient:     &http.Client{},
		MaxAttempts:    defaultMaxAttempts,
		AttemptTimeout: defaultAttemptTimeout,
		sleep:          time.Sleep,
	}
}

// Persist fetches the media behind sourceRef (a remote URL, a data: URI, or
// raw base64 bytes), uploads it to the object store under a user- and
// date-bucketed key, and records an Asset row. The caller decides what to
// do when this fails; losing the re-host must not lose the generation.
func (ing *Ingestor) Persist(ctx context.Context, sourceRef string, ownerID uuid.UUID, taskID *uuid.UUID, source, kind string) (*models.Asset, error) {
	data, mimeType, err := ing.fetch(ctx, sourceRef)
	if err != nil {
		return nil, err
	}
	if mimeType == "" {
		mimeType = http.DetectContentType(data)
	}

	key := objectKey(ownerID, mimeType)
	url, err := ing.Store.Put(ctx, key, data, mimeType)
	if err != nil {
		return nil, fmt.Errorf("store asset: %w", err)
	}

	asset := &models.Asset{
		ID:       uuid.New(),
		UserID:   ownerID,
		Type:     kind,
		Source:   source,
		URL:      url,
		FilePath: key,
		FileSize: int64(len(data)),
		MimeType: mimeType,
		TaskID:   taskID,
	}
	if err := ing.Assets.Create(ctx, asset); err != nil {
		return nil, fmt.Errorf("record asset: %w", err)
	}
	return asset, nil
}

// PersistUpload stores user-supplied bytes directly, skipping the fetch
// step. Used by the upload endpoint.
func (ing *Ingestor) PersistUpload(ctx context.Context, data []byte, mimeType string, ownerID uuid.UUID, kind string) (*models.Asset, error) {
	if mimeType == "" {
		mimeType = http.DetectContentType(data)
	}
	key := objectKey(ownerID, mimeType)
	url, err := ing.Store.Put(ctx, key, data, mimeType)
	if err != nil {
		return nil, fmt.Errorf("store asset: %w", err)
	}
	asset := &models.Asset{
		ID:       uuid.New(),
		UserID:   ownerID,
		Type:     kind,
		Source:   models.AssetSourceUpload,
		URL:      url,
		FilePath: key,
		FileSize: int64(len(data)),
		MimeType: mimeType,
	}
	if err := ing.Assets.Create(ctx, asset); err != nil {
		return nil, fmt.Errorf("record asset: %w", err)
	}
	return asset, nil
}

// Remove deletes the storage object best-effort, then the record. A storage
// outage must not orphan the database side, so the row goes regardless.
func (ing *Ingestor) Remove(ctx context.Context, asset *models.Asset) error {
	if asset.FilePath != "" {
		if err := ing.Store.Delete(ctx, asset.FilePath); err != nil {
			ing.Logger.Warn("storage delete failed, removing record anyway",
				"asset_id", asset.ID, "file_path", asset.FilePath, "error", err)
		}
	}
	return ing.Assets.Delete(ctx, asset.ID)
}

// fetch resolves sourceRef to raw bytes. Inline payloads decode directly;
// remote URLs download with bounded retry and exponential backoff.
func (ing *Ingestor) fetch(ctx context.Context, sourceRef string) ([]byte, string, error) {
	if strings.HasPrefix(sourceRef, "data:") {
		return decodeDataURI(sourceRef)
	}
	if !strings.HasPrefix(sourceRef, "http://") && !strings.HasPrefix(sourceRef, "https://") {
		data, err := base64.StdEncoding.DecodeString(sourceRef)
		if err != nil {
			return nil, "", fmt.Errorf("source is neither a URL nor base64: %w", err)
		}
		return data, "", nil
	}
	return ing.download(ctx, sourceRef)
}

func (ing *Ingestor) download(ctx context.Context, url string) ([]byte, string, error) {
	var lastErr error
	for attempt := 1; attempt <= ing.MaxAttempts; attempt++ {
		data, mimeType, err := ing.downloadOnce(ctx, url)
		if err == nil {
			return data, mimeType, nil
		}
		lastErr = err
		ing.Logger.Warn("asset download failed",
			"url", url, "attempt", attempt, "error", err)
		if attempt < ing.MaxAttempts {
			ing.sleep(time.Duration(1<<attempt) * time.Second)
		}
	}
	return nil, "", fmt.Errorf("download after %d attempts: %w", ing.MaxAttempts, lastErr)
}

// downloadOnce carries its own timeout so one stalled transfer cannot eat
// the budget of the remaining attempts.
func (ing *Ingestor) downloadOnce(ctx context.Context, url string) ([]byte, string, error) {
	ctx, cancel := context.WithTimeout(ctx, ing.AttemptTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := ing.HTTPClient.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDownloadBytes))
	if err != nil {
		return nil, "", err
	}
	return data, resp.Header.Get("Content-Type"), nil
}

func decodeDataURI(uri string) ([]byte, string, error) {
	rest := strings.TrimPrefix(uri, "data:")
	meta, encoded, ok := strings.Cut(rest, ",")
	if !ok {
		return nil, "", fmt.Errorf("malformed data URI")
	}
	mimeType, _, _ := strings.Cut(meta, ";")
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, "", fmt.Errorf("decode data URI: %w", err)
	}
	return data, mimeType, nil
}

// objectKey namespaces by owner and date bucket; the UUID suffix guarantees
// uniqueness within the prefix.
func objectKey(ownerID uuid.UUID, mimeType string) string {
	return fmt.Sprintf("assets/%s/%s/%s%s",
		ownerID, time.Now().UTC().Format("2006/01/02"), uuid.New(), extFor(mimeType))
}

func extFor(mimeType string) string {
	switch {
	case strings.Contains(mimeType, "mp4"):
		return ".mp4"
	case strings.Contains(mimeType, "webm"):
		return ".webm"
	case strings.Contains(mimeType, "png"):
		return ".png"
	case strings.Contains(mimeType, "jpeg"), strings.Contains(mimeType, "jpg"):
		return ".jpg"
	case strings.Contains(mimeType, "gif"):
		return ".gif"
	case strings.Contains(mimeType, "webp"):
		return ".webp"
	default:
		return ".bin"
	}
}
