package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/greatstories/videocore/internal/models"
)

type fakeStore struct {
	jobs      map[uuid.UUID]*models.Job
	payloads  map[uuid.UUID]*models.JobPayload
	cancelled map[uuid.UUID]bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		jobs:      map[uuid.UUID]*models.Job{},
		payloads:  map[uuid.UUID]*models.JobPayload{},
		cancelled: map[uuid.UUID]bool{},
	}
}

func (f *fakeStore) Set(_ context.Context, job *models.Job) error {
	copied := *job
	f.jobs[job.ID] = &copied
	return nil
}

func (f *fakeStore) Get(_ context.Context, id uuid.UUID) (*models.Job, error) {
	job, ok := f.jobs[id]
	if !ok {
		return nil, fmt.Errorf("job not found: %s", id)
	}
	copied := *job
	return &copied, nil
}

func (f *fakeStore) ListRecent(_ context.Context, limit int) ([]*models.Job, error) {
	var out []*models.Job
	for _, job := range f.jobs {
		copied := *job
		out = append(out, &copied)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeStore) SavePayload(_ context.Context, id uuid.UUID, payload *models.JobPayload, _ string) error {
	copied := *payload
	f.payloads[id] = &copied
	return nil
}

func (f *fakeStore) Cancel(_ context.Context, id uuid.UUID) error {
	f.cancelled[id] = true
	return nil
}

func (f *fakeStore) ClearCancel(_ context.Context, id uuid.UUID) error {
	delete(f.cancelled, id)
	return nil
}

func (f *fakeStore) DeleteJob(_ context.Context, id uuid.UUID) error {
	delete(f.jobs, id)
	delete(f.payloads, id)
	delete(f.cancelled, id)
	return nil
}

type fakeDispatcher struct {
	published []uuid.UUID
	err       error
}

func (f *fakeDispatcher) PublishJob(_ context.Context, jobID uuid.UUID, _ string) error {
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, jobID)
	return nil
}

func newTestHandler(t *testing.T) (*fakeStore, *fakeDispatcher, *mux.Router) {
	t.Helper()
	store := newFakeStore()
	dispatcher := &fakeDispatcher{}
	h := NewHandler(store, dispatcher, t.TempDir(), t.TempDir(), "ffmpeg", 50000)
	r := mux.NewRouter()
	h.Register(r)
	return store, dispatcher, r
}

func TestCreateJobPersistsAndPublishes(t *testing.T) {
	store, dispatcher, router := newTestHandler(t)

	body, _ := json.Marshal(map[string]any{
		"text": "他走进了森林。天色渐暗。",
		"characters": []map[string]any{
			{"name": "林风", "role": "主角", "importance": 9},
		},
	})
	req := httptest.NewRequest(http.MethodPost, "/api/jobs", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp models.CreateJobResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, models.JobStatusQueued, resp.Status)

	job, ok := store.jobs[resp.JobID]
	require.True(t, ok, "job row must exist")
	assert.Equal(t, models.JobStatusQueued, job.Status)

	payload, ok := store.payloads[resp.JobID]
	require.True(t, ok, "payload row must exist before the job starts")
	assert.Equal(t, "他走进了森林。天色渐暗。", payload.Text)
	assert.Equal(t, models.SegmentMethodSentence, payload.SegmentationMethod)
	assert.Equal(t, models.RenderModeBalanced, payload.RenderMode)

	require.Len(t, dispatcher.published, 1)
	assert.Equal(t, resp.JobID, dispatcher.published[0])
}

func TestCreateJobRejectsEmptyText(t *testing.T) {
	store, dispatcher, router := newTestHandler(t)

	body, _ := json.Marshal(map[string]any{"text": "   "})
	req := httptest.NewRequest(http.MethodPost, "/api/jobs", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, store.jobs, "validation failure must never create a job")
	assert.Empty(t, dispatcher.published)
}

func TestCreateJobRejectsInvalidRange(t *testing.T) {
	store, _, router := newTestHandler(t)

	body, _ := json.Marshal(map[string]any{"text": "abc。", "range_spec": "x-y"})
	req := httptest.NewRequest(http.MethodPost, "/api/jobs", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, store.jobs)
}

func TestCancelJobRaisesFlag(t *testing.T) {
	store, _, router := newTestHandler(t)

	id := uuid.New()
	store.jobs[id] = &models.Job{ID: id, Status: models.JobStatusRunning}

	req := httptest.NewRequest(http.MethodPost, "/api/jobs/"+id.String()+"/cancel", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, store.cancelled[id])
}

func TestResumeJobRequeuesAndClearsCancel(t *testing.T) {
	store, dispatcher, router := newTestHandler(t)

	id := uuid.New()
	store.jobs[id] = &models.Job{ID: id, Status: models.JobStatusFailed, ErrorMessage: "encoder exited"}
	store.cancelled[id] = true

	req := httptest.NewRequest(http.MethodPost, "/api/jobs/"+id.String()+"/resume", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.False(t, store.cancelled[id], "resume must clear the cancel flag")
	assert.Equal(t, models.JobStatusQueued, store.jobs[id].Status)
	assert.Empty(t, store.jobs[id].ErrorMessage)
	require.Len(t, dispatcher.published, 1)
}

func TestResumeCompletedJobConflicts(t *testing.T) {
	store, dispatcher, router := newTestHandler(t)

	id := uuid.New()
	store.jobs[id] = &models.Job{ID: id, Status: models.JobStatusCompleted}

	req := httptest.NewRequest(http.MethodPost, "/api/jobs/"+id.String()+"/resume", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Empty(t, dispatcher.published)
}

func TestGetJobNotFound(t *testing.T) {
	_, _, router := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/api/jobs/"+uuid.NewString(), nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeleteJobRemovesRows(t *testing.T) {
	store, _, router := newTestHandler(t)

	id := uuid.New()
	store.jobs[id] = &models.Job{ID: id, Status: models.JobStatusCompleted}
	store.payloads[id] = &models.JobPayload{Text: "x"}

	req := httptest.NewRequest(http.MethodDelete, "/api/jobs/"+id.String(), nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, store.jobs)
	assert.Empty(t, store.payloads)
}

func TestPreviewSegmentsReturnsSignature(t *testing.T) {
	_, _, router := newTestHandler(t)

	body, _ := json.Marshal(map[string]any{
		"text":                  "A。B。C。D。",
		"method":                "sentence",
		"sentences_per_segment": 2,
	})
	req := httptest.NewRequest(http.MethodPost, "/api/segments/preview", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Segments         []string `json:"segments"`
		RequestSignature string   `json:"request_signature"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, []string{"A。B。", "C。D。"}, resp.Segments)
	assert.Len(t, resp.RequestSignature, 64)
}
