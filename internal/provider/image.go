package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/irisblue-leo/denexus-sub000/internal/config"
	"github.com/irisblue-leo/denexus-sub000/internal/models"
)

const imageCostPerImage = 2

// ImageRequest is the payload shape for image synthesis.
type ImageRequest struct {
	Prompt   string `json:"prompt"`
	Quantity int    `json:"quantity"`
	Size     string `json:"size,omitempty"`
}

func (r *ImageRequest) validate() error {
	if r.Prompt == "" {
		return fmt.Errorf("%w: prompt is required", ErrInvalidRequest)
	}
	if r.Quantity < 1 || r.Quantity > 4 {
		return fmt.Errorf("%w: quantity must be between 1 and 4", ErrInvalidRequest)
	}
	switch r.Size {
	case "", "512x512", "1024x1024", "1024x1792", "1792x1024":
	default:
		return fmt.Errorf("%w: unsupported size %q", ErrInvalidRequest, r.Size)
	}
	return nil
}

// ImageAdapter binds the image synthesis provider. Synchronous: Submit
// returns the generated image URLs in the same call.
type ImageAdapter struct {
	apiClient
	pollInterval    time.Duration
	maxPollAttempts int
}

func NewImageAdapter(cfg config.ProviderConfig) *ImageAdapter {
	return &ImageAdapter{
		apiClient:       newAPIClient(cfg),
		pollInterval:    cfg.PollInterval,
		maxPollAttempts: cfg.MaxPollAttempts,
	}
}

func (a *ImageAdapter) JobType() models.JobType { return models.JobTypeImage }

func (a *ImageAdapter) Cost(payload json.RawMessage) (int, error) {
	var req ImageRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if err := req.validate(); err != nil {
		return 0, err
	}
	return imageCostPerImage * req.Quantity, nil
}

func (a *ImageAdapter) Submit(ctx context.Context, payload json.RawMessage) (*SubmitResult, error) {
	var req ImageRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if err := req.validate(); err != nil {
		return nil, err
	}
	var resp struct {
		Data []struct {
			URL string `json:"url"`
		} `json:"data"`
	}
	if err := a.postJSON(ctx, "/v1/images/generations", req, &resp); err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("provider returned no images")
	}
	urls := make([]string, len(resp.Data))
	for i, d := range resp.Data {
		urls[i] = d.URL
	}
	return &SubmitResult{Output: &Output{AssetURLs: urls, AssetKind: models.AssetTypeImage}}, nil
}

func (a *ImageAdapter) PollStatus(_ context.Context, handle string) (*PollResult, error) {
	return nil, fmt.Errorf("image provider is synchronous, no handle %q to poll", handle)
}

func (a *ImageAdapter) PollInterval() time.Duration { return a.pollInterval }
func (a *ImageAdapter) MaxPollAttempts() int        { return a.maxPollAttempts }
