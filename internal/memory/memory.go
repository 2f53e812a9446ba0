// Package memory implements the tag-based, tier-decaying local memory
// store. All state is a plain local JSON file; there is no database.
package memory

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// Category is one of the five memory tiers, each with its own decay
// constant, floor, and per-tier cap.
type Category string

const (
	CategoryName       Category = "name"
	CategoryRitual     Category = "ritual"
	CategoryTopic      Category = "topic"
	CategoryTone       Category = "tone"
	CategoryPreference Category = "preference"
)

// tier holds the fixed per-category decay configuration.
type tier struct {
	decayLambda float64 // per-second
	floor       float64
	maxEntries  int
}

// tiers: half-life of name=never, ritual~90d, topic~21d, tone~7d,
// preference~4d.
var tiers = map[Category]tier{
	CategoryName:       {decayLambda: 0.0, floor: 1.0, maxEntries: 1},
	CategoryRitual:     {decayLambda: 8.91e-8, floor: 0.10, maxEntries: 5},
	CategoryTopic:      {decayLambda: 3.82e-7, floor: 0.0, maxEntries: 20},
	CategoryTone:       {decayLambda: 1.15e-6, floor: 0.0, maxEntries: 3},
	CategoryPreference: {decayLambda: 2.01e-6, floor: 0.0, maxEntries: 10},
}

// MaxTotalEntries is the global cap across all tiers.
const MaxTotalEntries = 50

// DefaultActiveThreshold is the strength cutoff used by ActiveTags.
const DefaultActiveThreshold = 0.05

var positivePrefixes = []string{"likes_", "loves_", "enjoys_", "interested_", "favorite_"}
var negativePrefixes = []string{"dislikes_", "scared_of_", "upset_by_", "afraid_of_"}

// InferBias derives a default valence/arousal bias from a tag's name
// when the caller doesn't supply one explicitly.
func InferBias(tag string) (valence, arousal float64) {
	lower := strings.ToLower(tag)
	for _, p := range positivePrefixes {
		if strings.HasPrefix(lower, p) {
			return 0.05, 0.02
		}
	}
	for _, p := range negativePrefixes {
		if strings.HasPrefix(lower, p) {
			return -0.05, 0.02
		}
	}
	return 0, 0
}

// Entry is one memory record.
type Entry struct {
	Tag                 string   `json:"tag"`
	Category            Category `json:"category"`
	ValenceBias         float64  `json:"valence_bias"`
	ArousalBias         float64  `json:"arousal_bias"`
	InitialStrength     float64  `json:"initial_strength"`
	CreatedWallclock    float64  `json:"created_ts"`
	LastReinforcedWall  float64  `json:"last_reinforced_ts"`
	ReinforcementCount  int      `json:"reinforcement_count"`
	DecayLambda         float64  `json:"decay_lambda"`
	Source              string   `json:"source"`
}

// CurrentStrength computes exp(-lambda*age) from last reinforcement,
// floored per-tier, as of now (wall-clock seconds since epoch).
func (e Entry) CurrentStrength(now float64) float64 {
	age := now - e.LastReinforcedWall
	if age < 0 {
		age = 0
	}
	raw := e.InitialStrength * math.Exp(-e.DecayLambda*age)
	floor := tiers[e.Category].floor
	if raw < floor {
		return floor
	}
	return raw
}

// fileDoc is the on-disk JSON shape.
type fileDoc struct {
	Version             int     `json:"version"`
	Entries             []Entry `json:"entries"`
	SessionCount        int     `json:"session_count"`
	TotalConversationS   float64 `json:"total_conversation_s"`
	CreatedWallclock     float64 `json:"created_ts"`
}

const fileVersion = 1

// Store is a local-only, consent-gated memory store persisted as a
// single JSON file. Safe for concurrent use.
type Store struct {
	mu      sync.Mutex
	path    string
	consent bool
	logger  *slog.Logger

	entries      map[string]Entry // tag -> entry
	sessionCount int
	totalConvS   float64
	createdWall  float64

	// now, when set, overrides wall-clock time for deterministic tests.
	now func() float64
}

// New creates a Store backed by path. Call Load before use.
func New(path string, consent bool, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		path:    path,
		consent: consent,
		logger:  logger,
		entries: make(map[string]Entry),
		now:     func() float64 { return float64(time.Now().UnixNano()) / 1e9 },
	}
}

// Consent reports whether writes are currently permitted.
func (s *Store) Consent() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.consent
}

// SetConsent updates the consent gate at runtime (e.g. a parent toggling
// the setting). It never mutates or deletes existing entries; only
// future writes are affected.
func (s *Store) SetConsent(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.consent = v
}

// EntryCount returns the number of stored entries.
func (s *Store) EntryCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Load reads entries from the JSON file. A missing or corrupt file is
// tolerated by starting empty.
func (s *Store) Load() {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		s.createdWall = s.now()
		return
	}

	var doc fileDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		s.logger.Warn("failed to load memory store, starting empty", "path", s.path, "err", err)
		s.createdWall = s.now()
		return
	}
	if doc.Version != fileVersion {
		s.logger.Warn("unknown memory file version, ignoring", "version", doc.Version)
		s.createdWall = s.now()
		return
	}

	for _, e := range doc.Entries {
		if e.Tag == "" {
			continue
		}
		if _, ok := tiers[e.Category]; !ok {
			e.Category = CategoryTopic
		}
		s.entries[e.Tag] = e
	}
	s.sessionCount = doc.SessionCount
	s.totalConvS = doc.TotalConversationS
	s.createdWall = doc.CreatedWallclock
	if s.createdWall == 0 {
		s.createdWall = s.now()
	}
	s.logger.Info("loaded memory entries", "count", len(s.entries), "path", s.path)
}

// Save persists entries to the JSON file, rewriting it wholesale.
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked()
}

func (s *Store) saveLocked() error {
	entries := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Tag < entries[j].Tag })

	doc := fileDoc{
		Version:            fileVersion,
		Entries:            entries,
		SessionCount:       s.sessionCount,
		TotalConversationS: math.Round(s.totalConvS*10) / 10,
		CreatedWallclock:   s.createdWall,
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("memory: marshal: %w", err)
	}
	data = append(data, '\n')

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("memory: mkdir: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		s.logger.Warn("failed to save memory store", "path", s.path, "err", err)
		return fmt.Errorf("memory: write: %w", err)
	}
	return nil
}

// AddOrReinforce adds a new entry or, if the tag already exists,
// reinforces it (resets strength to 1.0 and bumps the reinforcement
// count). Returns false if blocked by the consent gate or an empty tag.
func (s *Store) AddOrReinforce(tag string, category Category, valenceBias, arousalBias *float64, source string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.consent {
		return false
	}
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return false
	}
	if _, ok := tiers[category]; !ok {
		category = CategoryTopic
	}
	now := s.now()

	if e, ok := s.entries[tag]; ok {
		e.ReinforcementCount++
		e.LastReinforcedWall = now
		e.InitialStrength = 1.0
		s.entries[tag] = e
		return true
	}

	s.evictForInsert(category, now)

	var v, a float64
	if valenceBias != nil {
		v = *valenceBias
	}
	if arousalBias != nil {
		a = *arousalBias
	}
	if valenceBias == nil || arousalBias == nil {
		dv, da := InferBias(tag)
		if valenceBias == nil {
			v = dv
		}
		if arousalBias == nil {
			a = da
		}
	}
	if source == "" {
		source = "llm_extract"
	}

	s.entries[tag] = Entry{
		Tag:                tag,
		Category:           category,
		ValenceBias:        v,
		ArousalBias:        a,
		InitialStrength:    1.0,
		CreatedWallclock:   now,
		LastReinforcedWall: now,
		ReinforcementCount: 1,
		DecayLambda:        tiers[category].decayLambda,
		Source:             source,
	}
	return true
}

// evictForInsert enforces the per-tier and then global cap before a new
// entry is inserted, evicting the weakest current-strength entry.
func (s *Store) evictForInsert(category Category, now float64) {
	max := tiers[category].maxEntries
	var tierTags []string
	for tag, e := range s.entries {
		if e.Category == category {
			tierTags = append(tierTags, tag)
		}
	}
	if len(tierTags) >= max {
		weakest := s.weakestAmong(tierTags, now)
		if weakest != "" {
			delete(s.entries, weakest)
		}
	}
	if len(s.entries) >= MaxTotalEntries {
		all := make([]string, 0, len(s.entries))
		for tag := range s.entries {
			all = append(all, tag)
		}
		weakest := s.weakestAmong(all, now)
		if weakest != "" {
			delete(s.entries, weakest)
		}
	}
}

func (s *Store) weakestAmong(tags []string, now float64) string {
	var weakest string
	var weakestStrength = math.Inf(1)
	for _, tag := range tags {
		strength := s.entries[tag].CurrentStrength(now)
		if strength < weakestStrength {
			weakestStrength = strength
			weakest = tag
		}
	}
	return weakest
}

// ActiveEntries returns every entry whose current strength exceeds
// threshold, in tag order.
func (s *Store) ActiveEntries(threshold float64) []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	var out []Entry
	for _, e := range s.entries {
		if e.CurrentStrength(now) > threshold {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Tag < out[j].Tag })
	return out
}

// ActiveTags returns the tag names of all active entries, for injection
// into a conversation profile's memory summary.
func (s *Store) ActiveTags() []string {
	entries := s.ActiveEntries(DefaultActiveThreshold)
	tags := make([]string, len(entries))
	for i, e := range entries {
		tags[i] = e.Tag
	}
	return tags
}

// Reset wipes all entries and deletes the backing file, for a
// parent-initiated "forget everything".
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]Entry)
	s.sessionCount = 0
	s.totalConvS = 0
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		s.logger.Warn("failed to delete memory file", "path", s.path, "err", err)
	}
}

// IncrementSession records one completed conversation session's duration.
func (s *Store) IncrementSession(conversationS float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessionCount++
	s.totalConvS += conversationS
}
