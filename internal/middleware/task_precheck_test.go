package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/irisblue-leo/denexus-sub000/internal/models"
)

func TestTaskPrecheck(t *testing.T) {
	var gotBody string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.WriteHeader(http.StatusAccepted)
	})
	handler := TaskPrecheck([]models.JobType{models.JobTypeClip, models.JobTypeImage})(next)

	post := func(body string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/v1/tasks", strings.NewReader(body))
		handler.ServeHTTP(rec, req)
		return rec
	}

	// 1. Known job_type passes through with the body intact for the handler.
	body := `{"job_type":"clip","input":{"prompt":"a cat","duration_seconds":5}}`
	if rec := post(body); rec.Code != http.StatusAccepted {
		t.Errorf("known job_type: got %d, want 202", rec.Code)
	}
	if gotBody != body {
		t.Errorf("body was not restored for the handler: got %q", gotBody)
	}

	// 2. Unknown job_type is refused before the handler runs.
	gotBody = ""
	if rec := post(`{"job_type":"hologram"}`); rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("unknown job_type: got %d, want 422", rec.Code)
	}
	if gotBody != "" {
		t.Error("handler must not run for an unknown job_type")
	}

	// 3. Missing job_type.
	if rec := post(`{"input":{}}`); rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("missing job_type: got %d, want 422", rec.Code)
	}

	// 4. Malformed JSON.
	if rec := post(`{{`); rec.Code != http.StatusBadRequest {
		t.Errorf("bad JSON: got %d, want 400", rec.Code)
	}
}
