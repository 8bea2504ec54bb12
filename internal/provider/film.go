package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/irisblue-leo/denexus-sub000/internal/config"
	"github.com/irisblue-leo/denexus-sub000/internal/models"
)

// Base price per 5 seconds by resolution tier.
var filmBaseCost = map[string]int{
	"720p":  15,
	"1080p": 30,
}

// FilmRequest is the payload shape for long-form clip synthesis.
type FilmRequest struct {
	Prompt          string `json:"prompt"`
	Resolution      string `json:"resolution"`
	DurationSeconds int    `json:"duration_seconds"`
}

func (r *FilmRequest) validate() error {
	if r.Prompt == "" {
		return fmt.Errorf("%w: prompt is required", ErrInvalidRequest)
	}
	if _, ok := filmBaseCost[r.Resolution]; !ok {
		return fmt.Errorf("%w: resolution must be 720p or 1080p", ErrInvalidRequest)
	}
	switch r.DurationSeconds {
	case 5, 10, 15:
	default:
		return fmt.Errorf("%w: duration_seconds must be 5, 10 or 15", ErrInvalidRequest)
	}
	return nil
}

// FilmAdapter binds the long-form provider with quality and duration tiers.
// Asynchronous.
type FilmAdapter struct {
	apiClient
	pollInterval    time.Duration
	maxPollAttempts int
}

func NewFilmAdapter(cfg config.ProviderConfig) *FilmAdapter {
	return &FilmAdapter{
		apiClient:       newAPIClient(cfg),
		pollInterval:    cfg.PollInterval,
		maxPollAttempts: cfg.MaxPollAttempts,
	}
}

func (a *FilmAdapter) JobType() models.JobType { return models.JobTypeFilm }

func (a *FilmAdapter) Cost(payload json.RawMessage) (int, error) {
	var req FilmRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if err := req.validate(); err != nil {
		return 0, err
	}
	return filmBaseCost[req.Resolution] * req.DurationSeconds / 5, nil
}

func (a *FilmAdapter) Submit(ctx context.Context, payload json.RawMessage) (*SubmitResult, error) {
	var req FilmRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if err := req.validate(); err != nil {
		return nil, err
	}
	var resp struct {
		ID string `json:"id"`
	}
	if err := a.postJSON(ctx, "/v2/generations", req, &resp); err != nil {
		return nil, err
	}
	if resp.ID == "" {
		return nil, fmt.Errorf("provider returned no generation id")
	}
	return &SubmitResult{Handle: resp.ID}, nil
}

func (a *FilmAdapter) PollStatus(ctx context.Context, handle string) (*PollResult, error) {
	var resp struct {
		State         string   `json:"state"`
		Outputs       []string `json:"outputs"`
		FailureReason string   `json:"failure_reason"`
	}
	if err := a.getJSON(ctx, "/v2/generations/"+handle, &resp); err != nil {
		return nil, err
	}
	switch resp.State {
	case "completed":
		return &PollResult{
			State:  StateCompleted,
			Output: &Output{AssetURLs: resp.Outputs, AssetKind: models.AssetTypeVideo},
		}, nil
	case "failed":
		return &PollResult{State: StateFailed, Reason: resp.FailureReason}, nil
	default:
		return &PollResult{State: StateProcessing}, nil
	}
}

func (a *FilmAdapter) PollInterval() time.Duration { return a.pollInterval }
func (a *FilmAdapter) MaxPollAttempts() int        { return a.maxPollAttempts }
