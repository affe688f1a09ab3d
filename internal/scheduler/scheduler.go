// Package scheduler drives the per-job pipeline: segmentation, the
// per-segment prompt∥TTS/image/render loop, and final composition, with
// crash-resume via per-segment clip checkpoints and a process-wide
// active-runner map preventing duplicate workers.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/greatstories/videocore/internal/cliprender"
	"github.com/greatstories/videocore/internal/compositor"
	"github.com/greatstories/videocore/internal/config"
	"github.com/greatstories/videocore/internal/encoder"
	"github.com/greatstories/videocore/internal/imageresolver"
	"github.com/greatstories/videocore/internal/jobstore"
	"github.com/greatstories/videocore/internal/kafka"
	"github.com/greatstories/videocore/internal/llmclient"
	"github.com/greatstories/videocore/internal/models"
	"github.com/greatstories/videocore/internal/promptbuilder"
	"github.com/greatstories/videocore/internal/scenecache"
	"github.com/greatstories/videocore/internal/segmentation"
	"github.com/greatstories/videocore/internal/speech"
	"github.com/greatstories/videocore/internal/storage"
)

// Progress weights for the job's lifecycle stages.
const (
	progressSegmentStart = 0.05
	progressSegmentPlan  = 0.10
	progressSegmentsEnd  = 0.85
	progressComposeEnd   = 0.95
)

// maxReferenceImages caps the reference images collected per segment: the
// primary character plus one related character.
const maxReferenceImages = 2

// maxEncoderErrorChars bounds how much encoder stderr lands in the job's
// failure message.
const maxEncoderErrorChars = 400

// Scheduler runs one worker goroutine per job.
type Scheduler struct {
	store    *jobstore.Store
	cache    *scenecache.Cache
	llm      *llmclient.Client
	prompts  *promptbuilder.Builder
	enc      *encoder.Encoder
	resolver *imageresolver.Resolver
	renderer *cliprender.Renderer
	compose  *compositor.Compositor
	synth    *speech.Synthesizer
	objects  *storage.Client // nil when object storage is not configured
	catalog  speech.Catalog
	cfg      *config.Config

	mu      sync.Mutex
	runners map[uuid.UUID]context.CancelFunc
}

// New wires a Scheduler from its component packages. objects may be nil.
func New(cfg *config.Config, store *jobstore.Store, cache *scenecache.Cache, llm *llmclient.Client, prompts *promptbuilder.Builder, enc *encoder.Encoder, objects *storage.Client) *Scheduler {
	catalog := speech.LoadCatalog(cfg.VoiceCatalogPath)
	if cfg.NarratorVoice != "" && catalog.Has(cfg.NarratorVoice) {
		catalog.NarratorVoice = cfg.NarratorVoice
	}
	return &Scheduler{
		store:    store,
		cache:    cache,
		llm:      llm,
		prompts:  prompts,
		enc:      enc,
		resolver: imageresolver.New(llm, cache),
		renderer: cliprender.New(enc, cfg.FontDirectory),
		compose:  compositor.New(enc, cfg.BGMDirectory, cfg.BGMPointerPath),
		synth:    speech.New(llm, enc),
		objects:  objects,
		catalog:  catalog,
		cfg:      cfg,
		runners:  make(map[uuid.UUID]context.CancelFunc),
	}
}

// HandleMessage implements kafka.MessageHandler: a job-start/resume
// message triggers RunJob in a fresh goroutine so the consumer loop is
// never blocked by a long-running job.
func (s *Scheduler) HandleMessage(ctx context.Context, msg *kafka.JobMessage) error {
	go s.RunJob(context.Background(), msg.JobID)
	return nil
}

// RecoverIncomplete resumes every job left queued or running by a prior
// process lifetime, oldest first. A job whose payload row is missing is
// marked failed instead of resumed.
func (s *Scheduler) RecoverIncomplete(ctx context.Context) error {
	ids, err := s.store.ListIncompleteJobIDs(ctx)
	if err != nil {
		return fmt.Errorf("list incomplete jobs: %w", err)
	}
	log.Info().Int("count", len(ids)).Msg("Recovering incomplete jobs")
	for _, id := range ids {
		if _, _, err := s.store.LoadPayload(ctx, id); err != nil {
			s.fail(ctx, id, fmt.Errorf("cannot resume: stored payload is missing"))
			continue
		}
		go s.RunJob(context.Background(), id)
	}
	return nil
}

// RunJob drives one job end to end. It is a no-op when a runner for this
// job id is already active.
func (s *Scheduler) RunJob(ctx context.Context, jobID uuid.UUID) {
	ctx, cancel := context.WithCancel(ctx)
	if !s.claim(jobID, cancel) {
		cancel()
		log.Warn().Str("job_id", jobID.String()).Msg("Job already has an active runner, skipping")
		return
	}
	defer s.release(jobID)
	defer cancel()

	defer func() {
		if err := s.store.ClearCancel(context.Background(), jobID); err != nil {
			log.Warn().Err(err).Str("job_id", jobID.String()).Msg("Failed to clear cancel flag")
		}
	}()

	if err := s.run(ctx, jobID); err != nil {
		log.Error().Err(err).Str("job_id", jobID.String()).Msg("Job failed")
		s.fail(context.Background(), jobID, err)
	}
}

func (s *Scheduler) claim(jobID uuid.UUID, cancel context.CancelFunc) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runners[jobID]; exists {
		return false
	}
	s.runners[jobID] = cancel
	return true
}

func (s *Scheduler) release(jobID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.runners, jobID)
}

// IsRunning reports whether a worker is currently active for the job.
func (s *Scheduler) IsRunning(jobID uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.runners[jobID]
	return ok
}

// Cancel raises the durable cancel flag. The worker observes it before the
// next segment; in-flight provider calls are never interrupted.
func (s *Scheduler) Cancel(ctx context.Context, jobID uuid.UUID) error {
	return s.store.Cancel(ctx, jobID)
}

// Paths under the temp/output roots, scoped by job id so concurrent jobs
// never collide.
func (s *Scheduler) jobTempDir(jobID uuid.UUID) string {
	return filepath.Join(s.cfg.TempDir, jobID.String())
}

func (s *Scheduler) jobClipsDir(jobID uuid.UUID) string {
	return filepath.Join(s.jobTempDir(jobID), "clips")
}

func (s *Scheduler) outputPath(jobID uuid.UUID) string {
	return filepath.Join(s.cfg.OutputDir, jobID.String()+".mp4")
}

func (s *Scheduler) run(ctx context.Context, jobID uuid.UUID) error {
	job, err := s.store.Get(ctx, jobID)
	if err != nil {
		return fmt.Errorf("load job: %w", err)
	}
	payload, baseURL, err := s.store.LoadPayload(ctx, jobID)
	if err != nil {
		return fmt.Errorf("load payload: %w", err)
	}

	job.Status = models.JobStatusRunning
	job.Step = "segment"
	job.Message = "Segmenting text"
	job.Progress = progressSegmentStart
	if err := s.store.Set(ctx, job); err != nil {
		return err
	}

	plan := segmentation.BuildPlan(ctx, payload, s.prompts)
	segments := plan.Segments
	if payload.RangeSpec != "" {
		selected, err := segmentation.SelectByRange(segments, payload.RangeSpec)
		if err != nil {
			return fmt.Errorf("invalid segment range: %w", err)
		}
		segments = reindex(selected)
	}
	if payload.MaxSegmentGroups > 0 && len(segments) > payload.MaxSegmentGroups {
		segments = segments[:payload.MaxSegmentGroups]
	}
	if len(segments) == 0 {
		return fmt.Errorf("no segment groups produced")
	}

	job.TotalSegments = len(segments)
	job.Progress = progressSegmentPlan
	if err := s.store.Set(ctx, job); err != nil {
		return err
	}

	clipsDir := s.jobClipsDir(jobID)
	if err := os.MkdirAll(clipsDir, 0o755); err != nil {
		return fmt.Errorf("create clips dir: %w", err)
	}

	characters := speech.SanitizeVoices(payload.Characters, s.catalog)
	worldSummary := s.prompts.SummarizeStoryWorldContext(ctx, payload.Text)
	ring := scenecache.NewExclusionRing(payload.SceneReuseNoRepeatWindow)

	if job.ImageSourceReport == nil {
		job.ImageSourceReport = &models.ImageSourceReport{}
	}

	var previous *models.Character
	for i, segment := range segments {
		cancelled, err := s.store.IsCancelled(ctx, jobID)
		if err != nil {
			return err
		}
		if cancelled {
			job.Status = models.JobStatusCancelled
			job.Step = "cancelled"
			job.Message = "Job cancelled"
			return s.store.Set(ctx, job)
		}

		clipPath := compositor.ClipPath(clipsDir, i)
		if fileExists(clipPath) {
			job.CurrentSegment = i + 1
			job.ClipCount = i + 1
			previous = nil
			continue
		}

		job.Step = "render-segment"
		job.Message = fmt.Sprintf("Rendering segment %d/%d", i+1, len(segments))
		if err := s.store.Set(ctx, job); err != nil {
			return err
		}

		adjacent := adjacentSegments(segments, i)
		primaryIdx := pickDefaultCharacterIndex(segment, adjacent, characters, previous)
		primary := characterAt(characters, primaryIdx)

		source, entryID, err := s.renderSegment(ctx, segmentContext{
			jobID:        jobID,
			payload:      payload,
			segment:      segment,
			adjacent:     adjacent,
			characters:   characters,
			primaryIdx:   primaryIdx,
			worldSummary: worldSummary,
			ring:         ring,
			clipPath:     clipPath,
		})
		if err != nil {
			return fmt.Errorf("segment %d: %w", i, encoderErrorMessage(err))
		}

		job.ImageSourceReport.Add(source)
		if entryID != nil {
			ring.Add(*entryID)
		}
		job.CurrentSegment = i + 1
		job.ClipCount = i + 1
		job.Progress = progressSegmentPlan + (progressSegmentsEnd-progressSegmentPlan)*float64(i+1)/float64(len(segments))
		if err := s.store.Set(ctx, job); err != nil {
			return err
		}

		previous = primary
		runtime.GC()
	}

	cancelled, err := s.store.IsCancelled(ctx, jobID)
	if err != nil {
		return err
	}
	if cancelled {
		job.Status = models.JobStatusCancelled
		job.Step = "cancelled"
		job.Message = "Job cancelled"
		return s.store.Set(ctx, job)
	}

	job.Step = "compose"
	job.Message = "Composing final video"
	if err := s.store.Set(ctx, job); err != nil {
		return err
	}

	// The title band needs an alias; when the request carries none but the
	// overlay pass is on, ask for one and fall back to no band on failure.
	if payload.NovelAlias == "" && payload.WatermarkEnabled {
		if aliases, err := s.prompts.SuggestAliases(ctx, payload.Text, 1); err == nil && len(aliases) > 0 {
			payload.NovelAlias = aliases[0]
		}
	}

	outPath := s.outputPath(jobID)
	if info, statErr := os.Stat(outPath); statErr == nil && info.Size() >= models.MinFinalVideoBytes {
		return s.complete(ctx, job, outPath, baseURL)
	}

	clipPaths := make([]string, len(segments))
	for i := range segments {
		clipPaths[i] = compositor.ClipPath(clipsDir, i)
		if !fileExists(clipPaths[i]) {
			return fmt.Errorf("missing clip for segment %d", i)
		}
	}

	if err := s.compose.Compose(ctx, compositor.Request{ClipPaths: clipPaths, Payload: payload, Out: outPath}); err != nil {
		return fmt.Errorf("compose: %w", encoderErrorMessage(err))
	}

	job.Progress = progressComposeEnd
	if err := s.store.Set(ctx, job); err != nil {
		return err
	}

	return s.complete(ctx, job, outPath, baseURL)
}

// complete validates the final artifact, marks the job done, and
// optionally publishes the video to object storage for the thin surface's
// download URL.
func (s *Scheduler) complete(ctx context.Context, job *models.Job, outPath, baseURL string) error {
	info, err := os.Stat(outPath)
	if err != nil || info.Size() < models.MinFinalVideoBytes {
		return fmt.Errorf("final video missing or truncated: %s", outPath)
	}
	if s.enc.Available() {
		if _, _, err := s.enc.ProbeDimensions(ctx, outPath); err != nil {
			return fmt.Errorf("final video failed stream validation: %w", err)
		}
	}

	job.OutputVideoPath = outPath
	if baseURL != "" {
		job.OutputVideoURL = fmt.Sprintf("%s/api/jobs/%s/video", baseURL, job.ID)
	}
	if s.objects != nil {
		if url, err := s.uploadOutput(ctx, job.ID, outPath); err != nil {
			log.Warn().Err(err).Str("job_id", job.ID.String()).Msg("Final video upload failed, serving from disk only")
		} else if url != "" {
			job.OutputVideoURL = url
		}
	}
	job.Status = models.JobStatusCompleted
	job.Step = "done"
	job.Message = "Video generation completed"
	job.Progress = 1.0
	return s.store.Set(ctx, job)
}

func (s *Scheduler) uploadOutput(ctx context.Context, jobID uuid.UUID, outPath string) (string, error) {
	key := fmt.Sprintf("videos/%s.mp4", jobID)
	return s.objects.UploadFile(ctx, key, outPath, "video/mp4")
}

// segmentContext carries one segment iteration's inputs.
type segmentContext struct {
	jobID        uuid.UUID
	payload      *models.JobPayload
	segment      models.Segment
	adjacent     []models.Segment
	characters   []models.Character
	primaryIdx   int
	worldSummary string
	ring         *scenecache.ExclusionRing
	clipPath     string
}

// renderSegment runs the bounded two-await fan-out (prompt bundle ∥ TTS),
// applies the bundle's character assignment, resolves the image, renders
// the clip, and deletes the per-segment media files.
func (s *Scheduler) renderSegment(ctx context.Context, sc segmentContext) (models.ImageSourceKind, *uuid.UUID, error) {
	tempDir := s.jobTempDir(sc.jobID)
	imagePath := filepath.Join(tempDir, fmt.Sprintf("segment_%04d.png", sc.segment.Index))
	audioPath := filepath.Join(tempDir, fmt.Sprintf("segment_%04d.mp3", sc.segment.Index))
	if err := os.MkdirAll(tempDir, 0o755); err != nil {
		return models.ImageSourceOther, nil, err
	}

	primary := characterAt(sc.characters, sc.primaryIdx)
	defaultRelated := relatedIndexes(sc.primaryIdx, sc.characters, maxReferenceImages-1)

	var bundle promptbuilder.Bundle
	var duration float64

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		bundle = s.prompts.BuildSegmentImageBundle(gctx, promptbuilder.BundleRequest{
			Character:           primary,
			Segment:             sc.segment,
			Adjacent:            sc.adjacent,
			CharacterCandidates: sc.characters,
			DefaultPrimary:      sc.primaryIdx,
			DefaultRelated:      defaultRelated,
			WorldSummary:        sc.worldSummary,
		})
		return nil
	})
	g.Go(func() error {
		voices := rotationVoices(sc.characters, s.catalog.NarratorVoice)
		pieces := speech.ParseDialogue(sc.segment.Text, voices)
		d, err := s.synth.SynthesizeSegment(gctx, pieces, s.catalog.NarratorVoice, sc.segment.Text, audioPath)
		duration = d
		return err
	})
	if err := g.Wait(); err != nil {
		return models.ImageSourceOther, nil, err
	}

	// The bundle's character assignment overrides the heuristic default
	// when it returned valid indexes.
	assignedPrimary := characterAt(sc.characters, bundle.Assignment.PrimaryIndex)
	var related []models.Character
	for _, idx := range bundle.Assignment.RelatedIndexes {
		if c := characterAt(sc.characters, idx); c != nil {
			related = append(related, *c)
		}
	}

	descriptor := scenecache.BuildDescriptor(assignedPrimary, related, sc.segment.Text, bundle.Metadata)

	var refPaths []string
	var characterName string
	if assignedPrimary != nil {
		characterName = assignedPrimary.Name
		if assignedPrimary.ReferenceImagePath != "" {
			refPaths = append(refPaths, assignedPrimary.ReferenceImagePath)
		}
	}
	for _, rel := range related {
		if len(refPaths) == maxReferenceImages {
			break
		}
		if rel.ReferenceImagePath != "" {
			refPaths = append(refPaths, rel.ReferenceImagePath)
		}
	}

	result, err := s.resolver.Resolve(ctx, imageresolver.Request{
		Prompt:              bundle.Prompt,
		Descriptor:          descriptor,
		CharacterName:       characterName,
		ReferenceImagePaths: refPaths,
		AspectRatio:         sc.payload.ImageAspectRatio,
		SceneReuseEnabled:   sc.payload.SceneReuseEnabled,
		OutputPath:          imagePath,
	}, sc.ring)
	if err != nil {
		return models.ImageSourceOther, nil, fmt.Errorf("image resolution: %w", err)
	}

	width, height := cliprender.ParseResolution(sc.payload.Resolution)
	if duration < 1.0 {
		duration = 1.0
	}
	renderErr := s.renderer.Render(ctx, cliprender.Request{
		ImagePath:  imagePath,
		AudioPath:  audioPath,
		Text:       sc.segment.Text,
		Duration:   duration,
		Out:        sc.clipPath,
		FPS:        sc.payload.FPS,
		Width:      width,
		Height:     height,
		Style:      sc.payload.SubtitleStyle,
		Motion:     sc.payload.CameraMotion,
		RenderMode: sc.payload.RenderMode,
	})

	s.enc.Cleanup(imagePath)
	s.enc.Cleanup(audioPath)

	if renderErr != nil {
		return result.Source, result.CacheEntryID, fmt.Errorf("render clip: %w", renderErr)
	}
	return result.Source, result.CacheEntryID, nil
}

// DeleteArtifacts removes a job's temp tree and final output. Used by the
// thin surface's delete endpoint after the job row is gone.
func (s *Scheduler) DeleteArtifacts(jobID uuid.UUID) {
	if err := os.RemoveAll(s.jobTempDir(jobID)); err != nil {
		log.Warn().Err(err).Str("job_id", jobID.String()).Msg("Failed to remove temp dir")
	}
	if err := os.Remove(s.outputPath(jobID)); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Str("job_id", jobID.String()).Msg("Failed to remove output video")
	}
}

// OutputPathFor exposes the final video location for the thin surface.
func (s *Scheduler) OutputPathFor(jobID uuid.UUID) string {
	return s.outputPath(jobID)
}

// rotationVoices lists the non-narrator voices dialogue blocks rotate
// through, in cast order.
func rotationVoices(characters []models.Character, narratorVoice string) []string {
	var voices []string
	for _, c := range characters {
		if v := strings.TrimSpace(c.VoiceID); v != "" && v != narratorVoice {
			voices = append(voices, v)
		}
	}
	return voices
}

func characterAt(characters []models.Character, idx int) *models.Character {
	if idx < 0 || idx >= len(characters) {
		return nil
	}
	return &characters[idx]
}

func reindex(segments []models.Segment) []models.Segment {
	out := make([]models.Segment, len(segments))
	for i, seg := range segments {
		seg.Index = i
		out[i] = seg
	}
	return out
}

func adjacentSegments(segments []models.Segment, i int) []models.Segment {
	var out []models.Segment
	if i > 0 {
		out = append(out, segments[i-1])
	}
	if i+1 < len(segments) {
		out = append(out, segments[i+1])
	}
	return out
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// encoderErrorMessage truncates encoder stderr so job failure messages
// stay readable.
func encoderErrorMessage(err error) error {
	var encErr *encoder.Error
	if errors.As(err, &encErr) && len(encErr.Stderr) > maxEncoderErrorChars {
		return fmt.Errorf("%s: %s", firstLine(err.Error()), encErr.Stderr[:maxEncoderErrorChars])
	}
	return err
}

func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return s[:idx]
	}
	return s
}

func (s *Scheduler) fail(ctx context.Context, jobID uuid.UUID, cause error) {
	job, err := s.store.Get(ctx, jobID)
	if err != nil {
		log.Error().Err(err).Str("job_id", jobID.String()).Msg("Failed to load job while recording failure")
		return
	}
	job.Status = models.JobStatusFailed
	job.Step = "error"
	job.Message = "Video generation failed"
	job.ErrorMessage = cause.Error()
	if err := s.store.Set(ctx, job); err != nil {
		log.Error().Err(err).Str("job_id", jobID.String()).Msg("Failed to persist job failure")
	}
}
