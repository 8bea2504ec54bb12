package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/irisblue-leo/denexus-sub000/internal/config"
	"github.com/irisblue-leo/denexus-sub000/internal/models"
)

// clipCostPerFiveSeconds prices short clip synthesis.
const clipCostPerFiveSeconds = 10

// ClipRequest is the payload shape for short clip synthesis.
type ClipRequest struct {
	Prompt          string `json:"prompt"`
	DurationSeconds int    `json:"duration_seconds"`
	AspectRatio     string `json:"aspect_ratio,omitempty"`
}

func (r *ClipRequest) validate() error {
	if r.Prompt == "" {
		return fmt.Errorf("%w: prompt is required", ErrInvalidRequest)
	}
	if r.DurationSeconds != 5 && r.DurationSeconds != 10 {
		return fmt.Errorf("%w: duration_seconds must be 5 or 10", ErrInvalidRequest)
	}
	switch r.AspectRatio {
	case "", "16:9", "9:16", "1:1":
	default:
		return fmt.Errorf("%w: unsupported aspect_ratio %q", ErrInvalidRequest, r.AspectRatio)
	}
	return nil
}

// ClipAdapter binds the short-clip provider. Asynchronous: Submit returns
// a handle, completion arrives via polling.
type ClipAdapter struct {
	apiClient
	pollInterval    time.Duration
	maxPollAttempts int
}

func NewClipAdapter(cfg config.ProviderConfig) *ClipAdapter {
	return &ClipAdapter{
		apiClient:       newAPIClient(cfg),
		pollInterval:    cfg.PollInterval,
		maxPollAttempts: cfg.MaxPollAttempts,
	}
}

func (a *ClipAdapter) JobType() models.JobType { return models.JobTypeClip }

func (a *ClipAdapter) Cost(payload json.RawMessage) (int, error) {
	var req ClipRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if err := req.validate(); err != nil {
		return 0, err
	}
	return clipCostPerFiveSeconds * req.DurationSeconds / 5, nil
}

func (a *ClipAdapter) Submit(ctx context.Context, payload json.RawMessage) (*SubmitResult, error) {
	var req ClipRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if err := req.validate(); err != nil {
		return nil, err
	}
	var resp struct {
		TaskID string `json:"task_id"`
	}
	if err := a.postJSON(ctx, "/v1/videos", req, &resp); err != nil {
		return nil, err
	}
	if resp.TaskID == "" {
		return nil, fmt.Errorf("provider returned no task id")
	}
	return &SubmitResult{Handle: resp.TaskID}, nil
}

func (a *ClipAdapter) PollStatus(ctx context.Context, handle string) (*PollResult, error) {
	var resp struct {
		Status   string `json:"status"`
		VideoURL string `json:"video_url"`
		Error    string `json:"error"`
	}
	if err := a.getJSON(ctx, "/v1/videos/"+handle, &resp); err != nil {
		return nil, err
	}
	switch resp.Status {
	case "succeeded":
		return &PollResult{
			State:  StateCompleted,
			Output: &Output{AssetURLs: []string{resp.VideoURL}, AssetKind: models.AssetTypeVideo},
		}, nil
	case "failed":
		return &PollResult{State: StateFailed, Reason: resp.Error}, nil
	default:
		return &PollResult{State: StateProcessing}, nil
	}
}

func (a *ClipAdapter) PollInterval() time.Duration { return a.pollInterval }
func (a *ClipAdapter) MaxPollAttempts() int        { return a.maxPollAttempts }
