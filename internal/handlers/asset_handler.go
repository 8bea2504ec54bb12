package handlers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/irisblue-leo/denexus-sub000/internal/middleware"
	"github.com/irisblue-leo/denexus-sub000/internal/models"
)

// maxUploadBytes bounds direct media uploads.
const maxUploadBytes = 64 << 20

// AssetReader lists and loads asset rows.
type AssetReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Asset, error)
	ListByUserID(ctx context.Context, userID uuid.UUID) ([]*models.Asset, error)
}

// AssetWriter persists uploads and removes assets (storage object + row).
type AssetWriter interface {
	PersistUpload(ctx context.Context, data []byte, mimeType string, ownerID uuid.UUID, kind string) (*models.Asset, error)
	Remove(ctx context.Context, asset *models.Asset) error
}

// AssetHandler serves /v1/assets endpoints.
type AssetHandler struct {
	Assets   AssetReader
	Ingestor AssetWriter
	Logger   *slog.Logger
}

// ListAssets handles GET /v1/assets.
func (h *AssetHandler) ListAssets(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromCtx(r.Context())
	if user == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	assets, err := h.Assets.ListByUserID(r.Context(), user.ID)
	if err != nil {
		h.Logger.Error("list assets", "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	if assets == nil {
		assets = []*models.Asset{}
	}
	writeJSON(w, http.StatusOK, assets)
}

// UploadAsset handles POST /v1/assets: a multipart "file" field is stored
// and recorded as an upload-sourced asset.
func (h *AssetHandler) UploadAsset(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromCtx(r.Context())
	if user == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		http.Error(w, `{"error":"expected multipart form with a file field"}`, http.StatusBadRequest)
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, `{"error":"file field is required"}`, http.StatusBadRequest)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxUploadBytes))
	if err != nil {
		http.Error(w, `{"error":"failed to read file"}`, http.StatusBadRequest)
		return
	}

	mimeType := header.Header.Get("Content-Type")
	kind := models.AssetTypeImage
	if strings.HasPrefix(mimeType, "video/") {
		kind = models.AssetTypeVideo
	}

	asset, err := h.Ingestor.PersistUpload(r.Context(), data, mimeType, user.ID, kind)
	if err != nil {
		h.Logger.Error("upload asset", "error", err)
		http.Error(w, `{"error":"failed to store asset"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, asset)
}

// GetAsset handles GET /v1/assets/{id}.
func (h *AssetHandler) GetAsset(w http.ResponseWriter, r *http.Request) {
	asset, ok := h.loadOwned(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, asset)
}

// DeleteAsset handles DELETE /v1/assets/{id}.
func (h *AssetHandler) DeleteAsset(w http.ResponseWriter, r *http.Request) {
	asset, ok := h.loadOwned(w, r)
	if !ok {
		return
	}
	if err := h.Ingestor.Remove(r.Context(), asset); err != nil {
		h.Logger.Error("delete asset", "asset_id", asset.ID, "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// loadOwned resolves the path asset and enforces ownership. Missing and
// foreign assets look the same to the caller.
func (h *AssetHandler) loadOwned(w http.ResponseWriter, r *http.Request) (*models.Asset, bool) {
	user := middleware.UserFromCtx(r.Context())
	if user == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return nil, false
	}
	assetID, ok := extractPathID(r, "/v1/assets/")
	if !ok {
		http.Error(w, `{"error":"invalid asset id"}`, http.StatusBadRequest)
		return nil, false
	}
	asset, err := h.Assets.GetByID(r.Context(), assetID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			http.Error(w, `{"error":"asset not found"}`, http.StatusNotFound)
			return nil, false
		}
		h.Logger.Error("load asset", "asset_id", assetID, "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return nil, false
	}
	if asset.UserID != user.ID {
		http.Error(w, `{"error":"asset not found"}`, http.StatusNotFound)
		return nil, false
	}
	return asset, true
}
