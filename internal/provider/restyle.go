package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/irisblue-leo/denexus-sub000/internal/config"
	"github.com/irisblue-leo/denexus-sub000/internal/models"
)

const restyleCost = 15

var restyleStyles = map[string]bool{
	"anime":      true,
	"clay":       true,
	"pixel":      true,
	"watercolor": true,
	"cinematic":  true,
}

// RestyleRequest is the payload shape for video-to-video restyling.
type RestyleRequest struct {
	VideoURL string `json:"video_url"`
	Style    string `json:"style"`
	Prompt   string `json:"prompt,omitempty"`
}

func (r *RestyleRequest) validate() error {
	if r.VideoURL == "" {
		return fmt.Errorf("%w: video_url is required", ErrInvalidRequest)
	}
	if !restyleStyles[r.Style] {
		return fmt.Errorf("%w: unknown style %q", ErrInvalidRequest, r.Style)
	}
	return nil
}

// RestyleAdapter binds the video restyling provider. Asynchronous.
type RestyleAdapter struct {
	apiClient
	pollInterval    time.Duration
	maxPollAttempts int
}

func NewRestyleAdapter(cfg config.ProviderConfig) *RestyleAdapter {
	return &RestyleAdapter{
		apiClient:       newAPIClient(cfg),
		pollInterval:    cfg.PollInterval,
		maxPollAttempts: cfg.MaxPollAttempts,
	}
}

func (a *RestyleAdapter) JobType() models.JobType { return models.JobTypeRestyle }

func (a *RestyleAdapter) Cost(payload json.RawMessage) (int, error) {
	var req RestyleRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if err := req.validate(); err != nil {
		return 0, err
	}
	return restyleCost, nil
}

func (a *RestyleAdapter) Submit(ctx context.Context, payload json.RawMessage) (*SubmitResult, error) {
	var req RestyleRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if err := req.validate(); err != nil {
		return nil, err
	}
	var resp struct {
		JobID string `json:"job_id"`
	}
	if err := a.postJSON(ctx, "/v1/restyle", req, &resp); err != nil {
		return nil, err
	}
	if resp.JobID == "" {
		return nil, fmt.Errorf("provider returned no job id")
	}
	return &SubmitResult{Handle: resp.JobID}, nil
}

func (a *RestyleAdapter) PollStatus(ctx context.Context, handle string) (*PollResult, error) {
	var resp struct {
		Status    string `json:"status"`
		OutputURL string `json:"output_url"`
		Error     string `json:"error"`
	}
	if err := a.getJSON(ctx, "/v1/restyle/"+handle, &resp); err != nil {
		return nil, err
	}
	switch resp.Status {
	case "done":
		return &PollResult{
			State:  StateCompleted,
			Output: &Output{AssetURLs: []string{resp.OutputURL}, AssetKind: models.AssetTypeVideo},
		}, nil
	case "error":
		return &PollResult{State: StateFailed, Reason: resp.Error}, nil
	default:
		return &PollResult{State: StateProcessing}, nil
	}
}

func (a *RestyleAdapter) PollInterval() time.Duration { return a.pollInterval }
func (a *RestyleAdapter) MaxPollAttempts() int        { return a.maxPollAttempts }
