package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/irisblue-leo/denexus-sub000/internal/config"
	"github.com/irisblue-leo/denexus-sub000/internal/models"
)

const describeCost = 1

// DescribeRequest is the payload shape for prompt reverse-engineering from
// an existing video or image.
type DescribeRequest struct {
	MediaURL  string `json:"media_url"`
	MediaType string `json:"media_type"`
}

func (r *DescribeRequest) validate() error {
	if r.MediaURL == "" {
		return fmt.Errorf("%w: media_url is required", ErrInvalidRequest)
	}
	if r.MediaType != models.AssetTypeVideo && r.MediaType != models.AssetTypeImage {
		return fmt.Errorf("%w: media_type must be video or image", ErrInvalidRequest)
	}
	return nil
}

// DescribeAdapter binds the prompt reverse-engineering provider.
// Synchronous: Submit returns the generated prompt text directly.
type DescribeAdapter struct {
	apiClient
	pollInterval    time.Duration
	maxPollAttempts int
}

func NewDescribeAdapter(cfg config.ProviderConfig) *DescribeAdapter {
	return &DescribeAdapter{
		apiClient:       newAPIClient(cfg),
		pollInterval:    cfg.PollInterval,
		maxPollAttempts: cfg.MaxPollAttempts,
	}
}

func (a *DescribeAdapter) JobType() models.JobType { return models.JobTypeDescribe }

func (a *DescribeAdapter) Cost(payload json.RawMessage) (int, error) {
	var req DescribeRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if err := req.validate(); err != nil {
		return 0, err
	}
	return describeCost, nil
}

func (a *DescribeAdapter) Submit(ctx context.Context, payload json.RawMessage) (*SubmitResult, error) {
	var req DescribeRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if err := req.validate(); err != nil {
		return nil, err
	}
	var resp struct {
		Prompt string `json:"prompt"`
	}
	if err := a.postJSON(ctx, "/v1/describe", req, &resp); err != nil {
		return nil, err
	}
	if resp.Prompt == "" {
		return nil, fmt.Errorf("provider returned no prompt")
	}
	return &SubmitResult{Output: &Output{Text: resp.Prompt}}, nil
}

func (a *DescribeAdapter) PollStatus(_ context.Context, handle string) (*PollResult, error) {
	return nil, fmt.Errorf("describe provider is synchronous, no handle %q to poll", handle)
}

func (a *DescribeAdapter) PollInterval() time.Duration { return a.pollInterval }
func (a *DescribeAdapter) MaxPollAttempts() int        { return a.maxPollAttempts }
