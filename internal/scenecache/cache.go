// Package scenecache implements the scene-image reuse cache: a durable
// index of previously generated scene frames with a strict primary lookup
// and a lenient LLM-assisted fallback lookup. Rows, match profiles, and the
// reference-binding side table live in PostgreSQL; the images themselves
// live under the cache image directory.
package scenecache

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"github.com/greatstories/videocore/internal/models"
)

// defaultMaxEntries is the prune ceiling: after every insert the table is
// trimmed back to the most recent entries.
const defaultMaxEntries = 3000

// Shortlist sizes for the two lookup modes.
const (
	strictShortlist         = 5
	strictShortlistScoped   = 20
	lenientShortlist        = 8
	lenientShortlistScoped  = 200
	strictSelectorThreshold = 0.62
)

// SelectorCandidate is one shortlist entry handed to the LLM selector.
type SelectorCandidate struct {
	ID             uuid.UUID              `json:"id"`
	Descriptor     models.SceneDescriptor `json:"descriptor"`
	Summary        string                 `json:"summary,omitempty"`
	HeuristicScore int                    `json:"heuristic_score"`
}

// SelectorDecision is the LLM selector's parsed verdict.
type SelectorDecision struct {
	ShouldReuse bool
	SelectedID  string
	Confidence  float64
	Reason      string
}

// Selector is the LLM boundary for scene-reuse selection. strict toggles
// the rule set: strict lookups require character+action+scene+location all
// to hold; lenient lookups accept action OR scene with location relaxed.
type Selector interface {
	SelectSceneImage(ctx context.Context, target models.SceneDescriptor, candidates []SelectorCandidate, strict bool) (SelectorDecision, error)
}

// Cache is the Scene Cache. All INSERT/DELETE and index-consistency work is
// serialized under one mutex so the reference-binding side table never
// drifts from the main rows; reads run unserialized.
type Cache struct {
	db         *sql.DB
	imageDir   string
	selector   Selector
	maxEntries int
	mu         sync.Mutex
}

// New wraps an existing database connection, ensures the tables exist, and
// backfills the reference-binding side table for rows inserted by older
// builds that predate it. maxEntries <= 0 selects the default prune cap.
func New(ctx context.Context, db *sql.DB, imageDir string, maxEntries int, selector Selector) (*Cache, error) {
	if maxEntries <= 0 {
		maxEntries = defaultMaxEntries
	}
	c := &Cache{db: db, imageDir: imageDir, selector: selector, maxEntries: maxEntries}
	if err := c.bootstrap(ctx); err != nil {
		return nil, fmt.Errorf("bootstrap scene cache: %w", err)
	}
	if err := os.MkdirAll(imageDir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache image dir: %w", err)
	}
	return c, nil
}

const createSceneTables = `
CREATE TABLE IF NOT EXISTS scene_cache_entries (
	id UUID PRIMARY KEY,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	image_path TEXT NOT NULL,
	summary TEXT NOT NULL DEFAULT '',
	character_name TEXT NOT NULL DEFAULT '',
	character_key TEXT NOT NULL DEFAULT '',
	descriptor JSONB NOT NULL,
	profile JSONB NOT NULL
);
CREATE TABLE IF NOT EXISTS scene_reference_bindings (
	entry_id UUID NOT NULL,
	ref_image_id TEXT NOT NULL DEFAULT '',
	ref_path TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_scene_entries_created ON scene_cache_entries (created_at);
CREATE INDEX IF NOT EXISTS idx_scene_entries_char_key ON scene_cache_entries (character_key);
CREATE INDEX IF NOT EXISTS idx_scene_entries_char_name ON scene_cache_entries (character_name);
CREATE INDEX IF NOT EXISTS idx_scene_bindings_entry ON scene_reference_bindings (entry_id);
CREATE INDEX IF NOT EXISTS idx_scene_bindings_ref_id ON scene_reference_bindings (ref_image_id);
CREATE INDEX IF NOT EXISTS idx_scene_bindings_ref_path ON scene_reference_bindings (ref_path);
`

func (c *Cache) bootstrap(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := c.db.ExecContext(ctx, createSceneTables); err != nil {
		return err
	}
	return c.backfillBindingsLocked(ctx)
}

// backfillBindingsLocked inserts bindings for entries that have none, so
// reference-scoped pre-filtering stays indexed after an upgrade from a
// build without the side table.
func (c *Cache) backfillBindingsLocked(ctx context.Context) error {
	rows, err := c.db.QueryContext(ctx, `
		SELECT e.id, e.descriptor
		FROM scene_cache_entries e
		LEFT JOIN scene_reference_bindings b ON b.entry_id = e.id
		WHERE b.entry_id IS NULL
	`)
	if err != nil {
		return err
	}
	type pending struct {
		id   uuid.UUID
		desc models.SceneDescriptor
	}
	var missing []pending
	for rows.Next() {
		var p pending
		var descJSON []byte
		if err := rows.Scan(&p.id, &descJSON); err != nil {
			rows.Close()
			return err
		}
		if err := json.Unmarshal(descJSON, &p.desc); err != nil {
			continue
		}
		missing = append(missing, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, p := range missing {
		if err := c.insertBindingsLocked(ctx, p.id, p.desc); err != nil {
			return err
		}
	}
	if len(missing) > 0 {
		log.Info().Int("entries", len(missing)).Msg("Backfilled scene cache reference bindings")
	}
	return nil
}

func (c *Cache) insertBindingsLocked(ctx context.Context, entryID uuid.UUID, desc models.SceneDescriptor) error {
	n := len(desc.ReferenceImagePaths)
	if len(desc.ReferenceImageIDs) > n {
		n = len(desc.ReferenceImageIDs)
	}
	if n == 0 {
		// Scene-only entries still get one empty binding so the backfill
		// join doesn't revisit them on every boot.
		_, err := c.db.ExecContext(ctx,
			`INSERT INTO scene_reference_bindings (entry_id, ref_image_id, ref_path) VALUES ($1, '', '')`, entryID)
		return err
	}
	for i := 0; i < n; i++ {
		var refID, refPath string
		if i < len(desc.ReferenceImageIDs) {
			refID = desc.ReferenceImageIDs[i]
		}
		if i < len(desc.ReferenceImagePaths) {
			refPath = desc.ReferenceImagePaths[i]
		}
		if _, err := c.db.ExecContext(ctx,
			`INSERT INTO scene_reference_bindings (entry_id, ref_image_id, ref_path) VALUES ($1, $2, $3)`,
			entryID, refID, refPath); err != nil {
			return err
		}
	}
	return nil
}

func scanEntry(scan func(dest ...any) error) (*models.SceneCacheEntry, error) {
	e := &models.SceneCacheEntry{}
	var descJSON, profJSON []byte
	if err := scan(&e.ID, &e.CreatedAt, &e.ImagePath, &e.Summary, &descJSON, &profJSON); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(descJSON, &e.Descriptor); err != nil {
		return nil, fmt.Errorf("unmarshal descriptor: %w", err)
	}
	if err := json.Unmarshal(profJSON, &e.Profile); err != nil {
		return nil, fmt.Errorf("unmarshal match profile: %w", err)
	}
	return e, nil
}

const entryColumns = `id, created_at, image_path, summary, descriptor, profile`

// loadCandidates pre-filters candidates for a lookup: entries sharing any
// reference image id with the target when the target has ids; else entries
// sharing any reference path; else every entry. Dead entries (image file
// missing) are skipped.
func (c *Cache) loadCandidates(ctx context.Context, target models.SceneDescriptor, disallow *ExclusionRing) ([]*models.SceneCacheEntry, bool, error) {
	var (
		rows   *sql.Rows
		err    error
		scoped bool
	)
	switch {
	case len(target.ReferenceImageIDs) > 0:
		scoped = true
		rows, err = c.db.QueryContext(ctx, `
			SELECT DISTINCT `+prefixed("e", entryColumns)+`
			FROM scene_cache_entries e
			JOIN scene_reference_bindings b ON b.entry_id = e.id
			WHERE b.ref_image_id = ANY($1)
			ORDER BY e.created_at DESC
		`, pq.Array(target.ReferenceImageIDs))
	case len(target.ReferenceImagePaths) > 0:
		scoped = true
		rows, err = c.db.QueryContext(ctx, `
			SELECT DISTINCT `+prefixed("e", entryColumns)+`
			FROM scene_cache_entries e
			JOIN scene_reference_bindings b ON b.entry_id = e.id
			WHERE b.ref_path = ANY($1)
			ORDER BY e.created_at DESC
		`, pq.Array(target.ReferenceImagePaths))
	default:
		rows, err = c.db.QueryContext(ctx, `
			SELECT `+entryColumns+` FROM scene_cache_entries ORDER BY created_at DESC
		`)
	}
	if err != nil {
		return nil, scoped, err
	}
	defer rows.Close()

	var out []*models.SceneCacheEntry
	for rows.Next() {
		entry, err := scanEntry(rows.Scan)
		if err != nil {
			return nil, scoped, err
		}
		if disallow.Contains(entry.ID) {
			continue
		}
		if !fileExists(entry.ImagePath) {
			continue
		}
		out = append(out, entry)
	}
	return out, scoped, rows.Err()
}

func prefixed(alias, columns string) string {
	parts := strings.Split(columns, ", ")
	for i, p := range parts {
		parts[i] = alias + "." + p
	}
	return strings.Join(parts, ", ")
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// FindReusableSceneImage is the strict lookup: pre-filter, all-of verdict,
// rank, text-exact short-circuit, heuristic gate, LLM selector with
// validation, and a byte-equality conservative fallback. Returns nil on a
// miss (no error).
func (c *Cache) FindReusableSceneImage(ctx context.Context, target models.SceneDescriptor, disallow *ExclusionRing) (*models.SceneMatch, error) {
	profile := BuildMatchProfile(target)

	entries, scoped, err := c.loadCandidates(ctx, target, disallow)
	if err != nil {
		return nil, err
	}
	ranked := rankCandidates(target, profile, entries, true)
	if len(ranked) == 0 {
		return nil, nil
	}

	limit := strictShortlist
	if scoped {
		limit = strictShortlistScoped
	}
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}

	for _, cand := range ranked {
		if cand.verdict.exactAction && cand.verdict.exactLocation {
			return &models.SceneMatch{
				EntryID:    cand.entry.ID,
				ImagePath:  cand.entry.ImagePath,
				MatchType:  "text-exact",
				Confidence: 1.0,
				Reason:     "identical action and location text",
			}, nil
		}
	}

	best := ranked[0]
	if !(best.verdict.exactAction || best.verdict.actionCommon >= 3) {
		return nil, nil
	}
	if !(best.verdict.sceneCommon >= 2 || best.verdict.sceneElementCommon >= 1) {
		return nil, nil
	}

	if match := c.runSelector(ctx, target, profile, ranked, true); match != nil {
		return match, nil
	}

	// Conservative fallback: only a byte-identical scene survives without
	// the selector's blessing.
	if best.verdict.exactAction && best.verdict.exactLocation {
		return &models.SceneMatch{
			EntryID:    best.entry.ID,
			ImagePath:  best.entry.ImagePath,
			MatchType:  "heuristic-fallback",
			Confidence: 0.9,
			Reason:     "exact action and location text",
		}, nil
	}
	return nil, nil
}

// ForceLLMSelectSceneImage is the lenient lookup used by the image
// resolver's fallback cascade: same pre-filter, weighted ranking with a
// character-match bonus, a wide shortlist, and the selector run in
// non-strict mode. Returns nil on a miss (no error).
func (c *Cache) ForceLLMSelectSceneImage(ctx context.Context, target models.SceneDescriptor, disallow *ExclusionRing) (*models.SceneMatch, error) {
	profile := BuildMatchProfile(target)

	entries, scoped, err := c.loadCandidates(ctx, target, disallow)
	if err != nil {
		return nil, err
	}
	ranked := rankCandidates(target, profile, entries, false)
	if len(ranked) == 0 {
		return nil, nil
	}

	limit := lenientShortlist
	if scoped {
		limit = lenientShortlistScoped
	}
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}

	return c.runSelector(ctx, target, profile, ranked, false), nil
}

// runSelector asks the LLM selector to pick one shortlist id, then rejects
// picks that cross reference identities or fail the mode's match rules.
func (c *Cache) runSelector(ctx context.Context, target models.SceneDescriptor, profile models.SceneMatchProfile, ranked []rankedCandidate, strict bool) *models.SceneMatch {
	if c.selector == nil {
		return nil
	}

	candidates := make([]SelectorCandidate, len(ranked))
	byID := make(map[string]rankedCandidate, len(ranked))
	for i, cand := range ranked {
		candidates[i] = SelectorCandidate{
			ID:             cand.entry.ID,
			Descriptor:     cand.entry.Descriptor,
			Summary:        cand.entry.Summary,
			HeuristicScore: cand.score,
		}
		byID[cand.entry.ID.String()] = cand
	}

	decision, err := c.selector.SelectSceneImage(ctx, target, candidates, strict)
	if err != nil {
		log.Warn().Err(err).Bool("strict", strict).Msg("Scene reuse selector failed")
		return nil
	}
	if !decision.ShouldReuse || decision.SelectedID == "" {
		return nil
	}
	if strict && decision.Confidence < strictSelectorThreshold {
		return nil
	}
	picked, ok := byID[decision.SelectedID]
	if !ok {
		return nil
	}
	if referenceCrossed(target, picked.entry) {
		log.Warn().Str("entry_id", decision.SelectedID).Msg("Selector pick crossed reference identity, rejected")
		return nil
	}

	v := picked.verdict
	bothLoc := target.LocationHint != "" && picked.entry.Descriptor.LocationHint != ""
	if strict {
		if !v.allStrict(bothLoc) {
			return nil
		}
	} else {
		if !v.actionMatch && !v.sceneMatch {
			return nil
		}
		if bothLoc && !v.locationMatch && !v.sceneMatch {
			return nil
		}
	}

	return &models.SceneMatch{
		EntryID:    picked.entry.ID,
		ImagePath:  picked.entry.ImagePath,
		MatchType:  "llm",
		Confidence: decision.Confidence,
		Reason:     decision.Reason,
	}
}

// Save copies the source image into the cache directory under a
// timestamped unique name, persists the entry with its descriptor and
// precomputed match profile, rebinds the reference side table, and prunes
// the table back to the most recent entries.
func (c *Cache) Save(ctx context.Context, desc models.SceneDescriptor, sourceImagePath, summary string) (*models.SceneCacheEntry, error) {
	src, err := os.Open(sourceImagePath)
	if err != nil {
		return nil, fmt.Errorf("open source image: %w", err)
	}
	defer src.Close()

	ext := strings.ToLower(filepath.Ext(sourceImagePath))
	if ext == "" {
		ext = ".png"
	}
	var nonce [4]byte
	_, _ = rand.Read(nonce[:])
	name := fmt.Sprintf("scene_%s_%s%s", time.Now().UTC().Format("20060102_150405"), hex.EncodeToString(nonce[:]), ext)
	target := filepath.Join(c.imageDir, name)

	dst, err := os.Create(target)
	if err != nil {
		return nil, fmt.Errorf("create cache image: %w", err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(target)
		return nil, fmt.Errorf("copy cache image: %w", err)
	}
	if err := dst.Close(); err != nil {
		return nil, err
	}

	entry := &models.SceneCacheEntry{
		ID:         uuid.New(),
		CreatedAt:  time.Now().UTC(),
		ImagePath:  target,
		Summary:    clampRunes(NormalizeText(summary), 200),
		Descriptor: desc,
		Profile:    BuildMatchProfile(desc),
	}

	descJSON, err := json.Marshal(entry.Descriptor)
	if err != nil {
		return nil, fmt.Errorf("marshal descriptor: %w", err)
	}
	profJSON, err := json.Marshal(entry.Profile)
	if err != nil {
		return nil, fmt.Errorf("marshal match profile: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	_, err = c.db.ExecContext(ctx, `
		INSERT INTO scene_cache_entries (id, created_at, image_path, summary, character_name, character_key, descriptor, profile)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, entry.ID, entry.CreatedAt, entry.ImagePath, entry.Summary,
		entry.Descriptor.CharacterName, entry.Profile.CharacterKey, descJSON, profJSON)
	if err != nil {
		os.Remove(target)
		return nil, fmt.Errorf("insert scene cache entry: %w", err)
	}
	if err := c.insertBindingsLocked(ctx, entry.ID, entry.Descriptor); err != nil {
		return nil, fmt.Errorf("insert reference bindings: %w", err)
	}
	if err := c.pruneLocked(ctx); err != nil {
		log.Warn().Err(err).Msg("Scene cache prune failed")
	}
	return entry, nil
}

// pruneLocked deletes the oldest entries (rows, bindings, and image files)
// beyond the cap. Runs inside the write mutex.
func (c *Cache) pruneLocked(ctx context.Context) error {
	var count int
	if err := c.db.QueryRowContext(ctx, `SELECT count(*) FROM scene_cache_entries`).Scan(&count); err != nil {
		return err
	}
	if count <= c.maxEntries {
		return nil
	}

	rows, err := c.db.QueryContext(ctx, `
		SELECT id, image_path FROM scene_cache_entries ORDER BY created_at ASC LIMIT $1
	`, count-c.maxEntries)
	if err != nil {
		return err
	}
	type victim struct {
		id   uuid.UUID
		path string
	}
	var victims []victim
	for rows.Next() {
		var v victim
		if err := rows.Scan(&v.id, &v.path); err != nil {
			rows.Close()
			return err
		}
		victims = append(victims, v)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, v := range victims {
		if _, err := c.db.ExecContext(ctx, `DELETE FROM scene_cache_entries WHERE id = $1`, v.id); err != nil {
			return err
		}
		if _, err := c.db.ExecContext(ctx, `DELETE FROM scene_reference_bindings WHERE entry_id = $1`, v.id); err != nil {
			return err
		}
		if err := os.Remove(v.path); err != nil && !os.IsNotExist(err) {
			log.Warn().Err(err).Str("path", v.path).Msg("Failed to remove pruned cache image")
		}
	}
	log.Info().Int("pruned", len(victims)).Msg("Scene cache pruned")
	return nil
}

// RenderCachedImageToOutput copies the cached image to the destination
// path without resizing; the clip renderer handles framing.
func RenderCachedImageToOutput(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open cached image: %w", err)
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// RandomForCharacter returns a random-ish (most recent eligible) live entry
// whose character matches the given name or any of the reference paths,
// used by the fallback cascade's character-cache tier.
func (c *Cache) RandomForCharacter(ctx context.Context, characterName string, refPaths []string, disallow *ExclusionRing) (*models.SceneCacheEntry, error) {
	name := NormalizeText(characterName)
	normPaths := make([]string, 0, len(refPaths))
	for _, p := range refPaths {
		if p != "" {
			normPaths = append(normPaths, NormalizeReferencePath(p))
		}
	}

	rows, err := c.db.QueryContext(ctx, `
		SELECT DISTINCT `+prefixed("e", entryColumns)+`
		FROM scene_cache_entries e
		LEFT JOIN scene_reference_bindings b ON b.entry_id = e.id
		WHERE ($1 <> '' AND e.character_name = $1) OR (b.ref_path = ANY($2))
		ORDER BY e.created_at DESC
	`, name, pq.Array(normPaths))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return firstLive(rows, disallow)
}

// RandomSceneOnly returns a live scene-only entry, the second-to-last
// fallback tier.
func (c *Cache) RandomSceneOnly(ctx context.Context, disallow *ExclusionRing) (*models.SceneCacheEntry, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT `+entryColumns+` FROM scene_cache_entries
		WHERE (descriptor->>'is_scene_only')::boolean IS TRUE
		ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return firstLive(rows, disallow)
}

// RandomAny returns any live entry, the last fallback tier.
func (c *Cache) RandomAny(ctx context.Context, disallow *ExclusionRing) (*models.SceneCacheEntry, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT `+entryColumns+` FROM scene_cache_entries ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return firstLive(rows, disallow)
}

func firstLive(rows *sql.Rows, disallow *ExclusionRing) (*models.SceneCacheEntry, error) {
	for rows.Next() {
		entry, err := scanEntry(rows.Scan)
		if err != nil {
			return nil, err
		}
		if disallow.Contains(entry.ID) || !fileExists(entry.ImagePath) {
			continue
		}
		return entry, nil
	}
	return nil, rows.Err()
}
