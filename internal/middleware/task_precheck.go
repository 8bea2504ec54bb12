package middleware

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/irisblue-leo/denexus-sub000/internal/models"
)

// maxTaskBodyBytes bounds task-creation request bodies. Generation inputs
// are prompts and URLs, not media uploads.
const maxTaskBodyBytes = 1 << 20

// TaskPrecheck rejects task submissions with an unknown job_type before the
// handler runs. Reads the body to peek at "job_type", then replaces r.Body
// so the handler can re-read it.
func TaskPrecheck(allowed []models.JobType) func(http.Handler) http.Handler {
	allowedSet := make(map[models.JobType]bool, len(allowed))
	for _, jt := range allowed {
		allowedSet[jt] = true
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bodyBytes, err := io.ReadAll(io.LimitReader(r.Body, maxTaskBodyBytes))
			r.Body.Close()
			if err != nil {
				http.Error(w, `{"error":"failed to read body"}`, http.StatusBadRequest)
				return
			}
			// Restore body for the handler.
			r.Body = io.NopCloser(bytes.NewReader(bodyBytes))

			var peek struct {
				JobType models.JobType `json:"job_type"`
			}
			if err := json.Unmarshal(bodyBytes, &peek); err != nil {
				http.Error(w, `{"error":"invalid JSON body"}`, http.StatusBadRequest)
				return
			}
			if peek.JobType == "" {
				http.Error(w, `{"error":"job_type is required"}`, http.StatusUnprocessableEntity)
				return
			}
			if !allowedSet[peek.JobType] {
				http.Error(w, fmt.Sprintf(`{"error":"unknown job_type %q"}`, peek.JobType), http.StatusUnprocessableEntity)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
