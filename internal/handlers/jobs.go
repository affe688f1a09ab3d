// Package handlers is the thin HTTP surface over the video generation
// core: create/list/status/cancel/resume/delete plus final-video download
// and thumbnail. Everything it serves comes from the Job Store and the
// filesystem, so it keeps working while no worker process is running.
package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/greatstories/videocore/internal/models"
	"github.com/greatstories/videocore/internal/segmentation"
)

// maxCreateBodyBytes bounds the create-job request body.
const maxCreateBodyBytes = 8 << 20

// jobStore is the subset of the Job Store the handlers use.
type jobStore interface {
	Set(ctx context.Context, job *models.Job) error
	Get(ctx context.Context, id uuid.UUID) (*models.Job, error)
	ListRecent(ctx context.Context, limit int) ([]*models.Job, error)
	SavePayload(ctx context.Context, id uuid.UUID, payload *models.JobPayload, baseURL string) error
	Cancel(ctx context.Context, id uuid.UUID) error
	ClearCancel(ctx context.Context, id uuid.UUID) error
	DeleteJob(ctx context.Context, id uuid.UUID) error
}

// jobDispatcher publishes start/resume messages toward the worker process.
type jobDispatcher interface {
	PublishJob(ctx context.Context, jobID uuid.UUID, traceID string) error
}

// Handler carries the thin surface's dependencies.
type Handler struct {
	store      jobStore
	dispatcher jobDispatcher
	outputDir  string
	tempDir    string
	ffmpegPath string
	maxInput   int
}

// NewHandler creates the HTTP handler set.
func NewHandler(store jobStore, dispatcher jobDispatcher, outputDir, tempDir, ffmpegPath string, maxInput int) *Handler {
	return &Handler{
		store:      store,
		dispatcher: dispatcher,
		outputDir:  outputDir,
		tempDir:    tempDir,
		ffmpegPath: ffmpegPath,
		maxInput:   maxInput,
	}
}

// Register mounts every route on the router.
func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/api/jobs", h.CreateJob).Methods(http.MethodPost)
	r.HandleFunc("/api/jobs", h.ListJobs).Methods(http.MethodGet)
	r.HandleFunc("/api/jobs/{id}", h.GetJob).Methods(http.MethodGet)
	r.HandleFunc("/api/jobs/{id}", h.DeleteJob).Methods(http.MethodDelete)
	r.HandleFunc("/api/jobs/{id}/cancel", h.CancelJob).Methods(http.MethodPost)
	r.HandleFunc("/api/jobs/{id}/resume", h.ResumeJob).Methods(http.MethodPost)
	r.HandleFunc("/api/jobs/{id}/video", h.DownloadVideo).Methods(http.MethodGet)
	r.HandleFunc("/api/jobs/{id}/thumbnail", h.Thumbnail).Methods(http.MethodGet)
	r.HandleFunc("/api/segments/preview", h.PreviewSegments).Methods(http.MethodPost)
	r.HandleFunc("/health", h.Health).Methods(http.MethodGet)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("Failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func jobIDFrom(r *http.Request) (uuid.UUID, error) {
	return uuid.Parse(mux.Vars(r)["id"])
}

func requestBaseURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
		scheme = "https"
	}
	return scheme + "://" + r.Host
}

// Health reports liveness.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// CreateJob validates the request, persists the job row and resume
// payload, then publishes the start message. Validation failures never
// create a job row.
func (h *Handler) CreateJob(w http.ResponseWriter, r *http.Request) {
	var req models.CreateJobRequest
	body := http.MaxBytesReader(w, r.Body, maxCreateBodyBytes)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	payload := req.JobPayload
	if strings.TrimSpace(payload.Text) == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}
	if h.maxInput > 0 && len([]rune(payload.Text)) > h.maxInput {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("text exceeds %d characters", h.maxInput))
		return
	}
	if payload.RangeSpec != "" {
		if _, err := segmentation.SelectByRange(nil, payload.RangeSpec); err != nil {
			writeError(w, http.StatusBadRequest, "invalid segment range: "+err.Error())
			return
		}
	}
	applyPayloadDefaults(&payload)

	job := &models.Job{
		ID:     uuid.New(),
		Status: models.JobStatusQueued,
		Step:   "queued",
	}

	ctx := r.Context()
	if err := h.store.Set(ctx, job); err != nil {
		log.Error().Err(err).Msg("Failed to create job row")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if err := h.store.SavePayload(ctx, job.ID, &payload, requestBaseURL(r)); err != nil {
		log.Error().Err(err).Str("job_id", job.ID.String()).Msg("Failed to save job payload")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if err := h.dispatcher.PublishJob(ctx, job.ID, r.Header.Get("X-Request-Id")); err != nil {
		log.Error().Err(err).Str("job_id", job.ID.String()).Msg("Failed to publish job message")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusAccepted, models.CreateJobResponse{
		JobID:     job.ID,
		Status:    job.Status,
		CreatedAt: job.CreatedAt,
	})
}

// applyPayloadDefaults fills in the rendering defaults a sparse request
// omits.
func applyPayloadDefaults(p *models.JobPayload) {
	if p.SegmentationMethod == "" {
		p.SegmentationMethod = models.SegmentMethodSentence
	}
	if p.SentencesPerSegment < 1 {
		p.SentencesPerSegment = 3
	}
	if p.Resolution == "" {
		p.Resolution = "1080x1920"
	}
	if p.SubtitleStyle == "" {
		p.SubtitleStyle = models.SubtitleStyleWhiteBlack
	}
	if p.CameraMotion == "" {
		p.CameraMotion = models.MotionVertical
	}
	if p.FPS < 1 {
		p.FPS = 25
	}
	if p.RenderMode == "" {
		p.RenderMode = models.RenderModeBalanced
	}
	if p.BGMVolume <= 0 {
		p.BGMVolume = 0.2
	}
}

// GetJob returns the job's current snapshot.
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	id, err := jobIDFrom(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid job id")
		return
	}
	job, err := h.store.Get(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, models.JobStatusResponse{Job: *job})
}

// ListJobs returns the most recent jobs.
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	jobs, err := h.store.ListRecent(r.Context(), limit)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list jobs")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if jobs == nil {
		jobs = []*models.Job{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

// CancelJob raises the cancel flag and reflects the accepted cancellation
// in the job row when it is still queued/running.
func (h *Handler) CancelJob(w http.ResponseWriter, r *http.Request) {
	id, err := jobIDFrom(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid job id")
		return
	}
	ctx := r.Context()
	job, err := h.store.Get(ctx, id)
	if err != nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err := h.store.Cancel(ctx, id); err != nil {
		log.Error().Err(err).Str("job_id", id.String()).Msg("Failed to raise cancel flag")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !job.IsTerminal() {
		job.Message = "Cancel request accepted, stopping"
		if err := h.store.Set(ctx, job); err != nil {
			log.Warn().Err(err).Str("job_id", id.String()).Msg("Failed to note cancel request")
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelling"})
}

// ResumeJob clears the cancel flag, re-queues a non-running job, and
// publishes a start message; the worker's per-segment checkpoints make the
// restart idempotent.
func (h *Handler) ResumeJob(w http.ResponseWriter, r *http.Request) {
	id, err := jobIDFrom(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid job id")
		return
	}
	ctx := r.Context()
	job, err := h.store.Get(ctx, id)
	if err != nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if job.Status == models.JobStatusCompleted {
		writeError(w, http.StatusConflict, "job already completed")
		return
	}
	if err := h.store.ClearCancel(ctx, id); err != nil {
		log.Warn().Err(err).Str("job_id", id.String()).Msg("Failed to clear cancel flag on resume")
	}
	job.Status = models.JobStatusQueued
	job.Step = "queued"
	job.Message = "Job re-queued"
	job.ErrorMessage = ""
	if err := h.store.Set(ctx, job); err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if err := h.dispatcher.PublishJob(ctx, id, r.Header.Get("X-Request-Id")); err != nil {
		log.Error().Err(err).Str("job_id", id.String()).Msg("Failed to publish resume message")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

// DeleteJob removes the job rows and on-disk artifacts.
func (h *Handler) DeleteJob(w http.ResponseWriter, r *http.Request) {
	id, err := jobIDFrom(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid job id")
		return
	}
	if err := h.store.DeleteJob(r.Context(), id); err != nil {
		log.Error().Err(err).Str("job_id", id.String()).Msg("Failed to delete job")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if err := os.RemoveAll(filepath.Join(h.tempDir, id.String())); err != nil {
		log.Warn().Err(err).Str("job_id", id.String()).Msg("Failed to remove temp dir")
	}
	if err := os.Remove(filepath.Join(h.outputDir, id.String()+".mp4")); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Str("job_id", id.String()).Msg("Failed to remove output video")
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// DownloadVideo streams the final output file.
func (h *Handler) DownloadVideo(w http.ResponseWriter, r *http.Request) {
	id, err := jobIDFrom(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid job id")
		return
	}
	path := filepath.Join(h.outputDir, id.String()+".mp4")
	if info, err := os.Stat(path); err != nil || info.Size() < models.MinFinalVideoBytes {
		writeError(w, http.StatusNotFound, "final video not available")
		return
	}
	w.Header().Set("Content-Type", "video/mp4")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.mp4"`, id))
	http.ServeFile(w, r, path)
}

// Thumbnail extracts the final video's first frame on demand.
func (h *Handler) Thumbnail(w http.ResponseWriter, r *http.Request) {
	id, err := jobIDFrom(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid job id")
		return
	}
	videoPath := filepath.Join(h.outputDir, id.String()+".mp4")
	if _, err := os.Stat(videoPath); err != nil {
		writeError(w, http.StatusNotFound, "final video not available")
		return
	}

	ffmpeg := h.ffmpegPath
	if ffmpeg == "" {
		ffmpeg = "ffmpeg"
	}
	thumbPath := filepath.Join(h.tempDir, id.String()+"_thumb.jpg")
	if _, err := os.Stat(thumbPath); err != nil {
		cmd := exec.CommandContext(r.Context(), ffmpeg,
			"-y", "-i", videoPath, "-frames:v", "1", "-q:v", "4", thumbPath)
		if err := cmd.Run(); err != nil {
			log.Warn().Err(err).Str("job_id", id.String()).Msg("Thumbnail extraction failed")
			writeError(w, http.StatusInternalServerError, "thumbnail extraction failed")
			return
		}
	}

	f, err := os.Open(thumbPath)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	defer f.Close()
	w.Header().Set("Content-Type", "image/jpeg")
	if _, err := io.Copy(w, f); err != nil {
		log.Warn().Err(err).Msg("Thumbnail stream interrupted")
	}
}

// previewRequest is the client-side segmentation preview input: the client
// segments once up front, stores the signature, and the worker later
// reuses the vector without another LLM call.
type previewRequest struct {
	Text                string `json:"text"`
	Method              string `json:"method"`
	SentencesPerSegment int    `json:"sentences_per_segment"`
	FixedSize           int    `json:"fixed_size"`
	ModelID             string `json:"model_id"`
}

// PreviewSegments runs deterministic segmentation and returns the segment
// vector with its request signature.
func (h *Handler) PreviewSegments(w http.ResponseWriter, r *http.Request) {
	var req previewRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxCreateBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}

	payload := &models.JobPayload{
		Text:                req.Text,
		SegmentationMethod:  req.Method,
		SentencesPerSegment: req.SentencesPerSegment,
		FixedSize:           req.FixedSize,
		ModelID:             req.ModelID,
	}
	// The preview endpoint never calls the LLM: smart falls back to
	// deterministic grouping here, which is what the signature covers.
	plan := segmentation.BuildPlan(r.Context(), payload, nil)

	texts := make([]string, len(plan.Segments))
	for i, seg := range plan.Segments {
		texts[i] = seg.Text
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"segments":          texts,
		"total_sentences":   plan.TotalSentences,
		"request_signature": plan.RequestSignature,
	})
}
