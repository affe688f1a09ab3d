// Package imageresolver decides, for one segment, whether to reuse a
// cached scene image or generate a new one, and runs the multi-tier
// fallback cascade when generation fails. The cascade is an explicit
// ordered slice of tiers tried in sequence, each mapping to one
// image-source label in the job's provenance report.
package imageresolver

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/greatstories/videocore/internal/llmclient"
	"github.com/greatstories/videocore/internal/models"
	"github.com/greatstories/videocore/internal/promptbuilder"
	"github.com/greatstories/videocore/internal/scenecache"
)

// Resolver resolves one image per segment via cache reuse, generation, or
// the fallback cascade.
type Resolver struct {
	llm   *llmclient.Client
	cache *scenecache.Cache
}

// New creates a Resolver.
func New(llm *llmclient.Client, cache *scenecache.Cache) *Resolver {
	return &Resolver{llm: llm, cache: cache}
}

// Request bundles one segment's image resolution inputs.
type Request struct {
	Prompt              string
	Descriptor          models.SceneDescriptor
	CharacterName       string
	ReferenceImagePaths []string // primary character reference plus one related, in that order
	AspectRatio         string
	SceneReuseEnabled   bool
	OutputPath          string
}

// Result reports where the resolved image came from. CacheEntryID is set
// for cache hits and for fresh generations persisted into the cache, so
// the scheduler can extend the no-repeat window.
type Result struct {
	Source       models.ImageSourceKind
	CacheEntryID *uuid.UUID
}

// Resolve fills req.OutputPath with an image and reports its provenance.
// disallow is the job's no-repeat window, applied to every cache lookup.
func (r *Resolver) Resolve(ctx context.Context, req Request, disallow *scenecache.ExclusionRing) (*Result, error) {
	if req.SceneReuseEnabled && r.cache != nil {
		match, err := r.cache.FindReusableSceneImage(ctx, req.Descriptor, disallow)
		if err != nil {
			log.Warn().Err(err).Msg("Scene cache lookup failed, proceeding to generation")
		} else if match != nil {
			if err := scenecache.RenderCachedImageToOutput(match.ImagePath, req.OutputPath); err == nil {
				log.Info().
					Str("match_type", match.MatchType).
					Float64("confidence", match.Confidence).
					Str("reason", match.Reason).
					Msg("Scene cache hit")
				id := match.EntryID
				return &Result{Source: models.ImageSourceCache, CacheEntryID: &id}, nil
			}
		}
	}

	img, genErr := r.generate(ctx, req)
	if genErr == nil {
		if err := writeImage(req.OutputPath, img); err == nil {
			result := &Result{Source: models.ImageSourceGenerated}
			if req.SceneReuseEnabled && r.cache != nil {
				if entry, err := r.cache.Save(ctx, req.Descriptor, req.OutputPath, req.Descriptor.ActionHint); err != nil {
					log.Warn().Err(err).Msg("Failed to persist generated image into scene cache")
				} else {
					id := entry.ID
					result.CacheEntryID = &id
				}
			}
			return result, nil
		} else {
			genErr = err
		}
	}
	log.Warn().Err(genErr).Msg("Image generation failed, entering fallback cascade")

	return r.fallbackCascade(ctx, req, disallow)
}

// generate tries the image provider twice: the bundle prompt as-is, then
// wrapped in the explicit "create one image" retry form. Each attempt
// carries its own hard timeout inside the client.
func (r *Resolver) generate(ctx context.Context, req Request) (*llmclient.Image, error) {
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		prompt = promptbuilder.DefaultImagePrompt
	}
	imgReq := llmclient.ImageRequest{
		Prompt:              prompt,
		ReferenceImagePaths: req.ReferenceImagePaths,
		AspectRatio:         req.AspectRatio,
	}
	img, err := r.llm.GenerateImage(ctx, imgReq)
	if err == nil {
		return img, nil
	}
	imgReq.Prompt = promptbuilder.BuildImageRetryPrompt(prompt)
	return r.llm.GenerateImage(ctx, imgReq)
}

type cascadeTier struct {
	source models.ImageSourceKind
	fn     func(ctx context.Context, req Request, disallow *scenecache.ExclusionRing) (string, *uuid.UUID, error)
}

// fallbackCascade tries each tier in order, stopping at the first tier
// that produces a usable file.
func (r *Resolver) fallbackCascade(ctx context.Context, req Request, disallow *scenecache.ExclusionRing) (*Result, error) {
	tiers := []cascadeTier{
		{models.ImageSourceFallbackLLM, r.tierForceLLM},
		{models.ImageSourceFallbackCharacterCache, r.tierCharacterCache},
		{models.ImageSourceFallbackReference, r.tierReference},
		{models.ImageSourceFallbackSceneOnlyCache, r.tierSceneOnlyCache},
		{models.ImageSourceFallbackRandomCache, r.tierRandomCache},
	}

	for _, tier := range tiers {
		srcPath, entryID, err := tier.fn(ctx, req, disallow)
		if err != nil {
			log.Warn().Err(err).Str("tier", string(tier.source)).Msg("Fallback tier errored, trying next")
			continue
		}
		if srcPath == "" {
			continue
		}
		if err := scenecache.RenderCachedImageToOutput(srcPath, req.OutputPath); err != nil {
			log.Warn().Err(err).Str("tier", string(tier.source)).Str("src", srcPath).Msg("Fallback materialization failed, trying next")
			continue
		}
		log.Info().Str("tier", string(tier.source)).Msg("Segment image resolved by fallback")
		return &Result{Source: tier.source, CacheEntryID: entryID}, nil
	}

	return nil, fmt.Errorf("image resolution exhausted: generation and all fallbacks failed")
}

func (r *Resolver) tierForceLLM(ctx context.Context, req Request, disallow *scenecache.ExclusionRing) (string, *uuid.UUID, error) {
	if r.cache == nil {
		return "", nil, nil
	}
	match, err := r.cache.ForceLLMSelectSceneImage(ctx, req.Descriptor, disallow)
	if err != nil || match == nil {
		return "", nil, err
	}
	id := match.EntryID
	return match.ImagePath, &id, nil
}

func (r *Resolver) tierCharacterCache(ctx context.Context, req Request, disallow *scenecache.ExclusionRing) (string, *uuid.UUID, error) {
	if r.cache == nil || (req.CharacterName == "" && len(req.ReferenceImagePaths) == 0) {
		return "", nil, nil
	}
	entry, err := r.cache.RandomForCharacter(ctx, req.CharacterName, req.ReferenceImagePaths, disallow)
	if err != nil || entry == nil {
		return "", nil, err
	}
	id := entry.ID
	return entry.ImagePath, &id, nil
}

var referenceExts = map[string]bool{".png": true, ".jpg": true, ".jpeg": true, ".webp": true}

func (r *Resolver) tierReference(_ context.Context, req Request, _ *scenecache.ExclusionRing) (string, *uuid.UUID, error) {
	for _, refPath := range req.ReferenceImagePaths {
		if refPath == "" || !referenceExts[strings.ToLower(filepath.Ext(refPath))] {
			continue
		}
		if info, err := os.Stat(refPath); err == nil && !info.IsDir() {
			return refPath, nil, nil
		}
	}
	return "", nil, nil
}

func (r *Resolver) tierSceneOnlyCache(ctx context.Context, _ Request, disallow *scenecache.ExclusionRing) (string, *uuid.UUID, error) {
	if r.cache == nil {
		return "", nil, nil
	}
	entry, err := r.cache.RandomSceneOnly(ctx, disallow)
	if err != nil || entry == nil {
		return "", nil, err
	}
	id := entry.ID
	return entry.ImagePath, &id, nil
}

func (r *Resolver) tierRandomCache(ctx context.Context, _ Request, disallow *scenecache.ExclusionRing) (string, *uuid.UUID, error) {
	if r.cache == nil {
		return "", nil, nil
	}
	entry, err := r.cache.RandomAny(ctx, disallow)
	if err != nil || entry == nil {
		return "", nil, err
	}
	id := entry.ID
	return entry.ImagePath, &id, nil
}

func writeImage(dst string, img *llmclient.Image) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, img.Data); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
