package memory

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// snapshotVersion is the PersistedMemory version tag (spec.md §3). Only
	// a file whose version matches exactly is loaded.
	snapshotVersion = "sona-v1"

	patternCeiling = 600

	consolidateEvery = 20
)

// Stats mirrors the MemoryStats shape forwarded by Pool.SonaStats.
type Stats struct {
	WorkerID            string    `json:"workerId"`
	Interactions        int       `json:"interactions"`
	Successes           int       `json:"successes"`
	PatternCount        int       `json:"patternCount"`
	Consolidations      int       `json:"consolidations"`
	LastConsolidatedAt  time.Time `json:"lastConsolidatedAt"`
	TopHints            []string  `json:"topHints,omitempty"`
}

// snapshot is the on-disk JSON shape (spec.md §3 PersistedMemory). SnapshotID
// is minted fresh on every persist so two writes of the same worker's state
// are distinguishable on disk.
type snapshot struct {
	SnapshotID         string     `json:"snapshotId"`
	Version            string     `json:"version"`
	Interactions       int        `json:"interactions"`
	Successes          int        `json:"successes"`
	Consolidations     int        `json:"consolidations"`
	LastConsolidatedAt time.Time  `json:"lastConsolidatedAt"`
	Patterns           []*Pattern `json:"patterns"`
}

// Memory is one worker's Pattern Memory. Instruction rewrite and outcome
// recording run on the owning worker's goroutine, Flush runs on whichever
// goroutine removes the worker or shuts the pool down, and Stats is read by
// status callers; every method takes the mutex, so these never race.
type Memory struct {
	mu sync.Mutex

	workerID string
	stateDir string
	interval int

	patterns map[string]*Pattern

	interactions       int
	successes          int
	consolidations     int
	lastConsolidatedAt time.Time

	sinceLastPersist int

	log *zap.Logger
}

// New constructs an empty Memory for workerID, loading a persisted snapshot
// from stateDir if one exists and is well-formed.
func New(workerID, stateDir string, persistInterval int, log *zap.Logger) *Memory {
	m := &Memory{
		workerID: workerID,
		stateDir: stateDir,
		interval: persistInterval,
		patterns: make(map[string]*Pattern),
		log:      log,
	}
	m.load()
	return m
}

func (m *Memory) path() string {
	if m.stateDir == "" {
		return ""
	}
	return filepath.Join(m.stateDir, m.workerID+".json")
}

// load reads a persisted snapshot. Any parse failure or version mismatch
// means the worker starts empty — spec.md §4.3/§7: "a corrupted persisted
// file is silently ignored".
func (m *Memory) load() {
	p := m.path()
	if p == "" {
		return
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return
	}
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		if m.log != nil {
			m.log.Warn("pattern memory snapshot malformed, starting empty", zap.String("worker", m.workerID), zap.Error(err))
		}
		return
	}
	if snap.Version != snapshotVersion {
		return
	}

	m.interactions = snap.Interactions
	m.successes = snap.Successes
	m.consolidations = snap.Consolidations
	m.lastConsolidatedAt = snap.LastConsolidatedAt
	for _, p := range snap.Patterns {
		if p == nil || p.Key == "" {
			continue
		}
		p.Score = clampf(p.Score, minScore, maxScore)
		p.Importance = clampf(p.Importance, minImportance, maxImportance)
		if p.Hits < 0 {
			p.Hits = 0
		}
		if p.Successes < 0 {
			p.Successes = 0
		}
		m.patterns[p.Key] = p
	}
}

// RewriteInstruction applies the §4.3 hint-selection law and prepends any
// selected hints to instruction. Returns the instruction unchanged if there
// are no hints.
func (m *Memory) RewriteInstruction(taskType, language, instruction string) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var candidates []*Pattern
	for key, p := range m.patterns {
		switch {
		case key == "task:"+taskType,
			key == "task:general",
			language != "" && key == "lang:"+strings.ToLower(language),
			strings.HasPrefix(key, "kw:"),
			strings.HasPrefix(key, "pattern:"):
			candidates = append(candidates, p)
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].hintScore() > candidates[j].hintScore()
	})
	if len(candidates) > 3 {
		candidates = candidates[:3]
	}
	if len(candidates) == 0 {
		return instruction
	}

	var sb strings.Builder
	sb.WriteString("Apply these learned project preferences before answering:\n")
	for i, p := range candidates {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, hintPhrase(p.Key))
	}
	sb.WriteString("\n")
	sb.WriteString(instruction)
	return sb.String()
}

// hintPhrase maps a pattern key to its short directive phrase (spec.md
// §4.3 step 3).
func hintPhrase(key string) string {
	switch {
	case key == "pattern:error-handling":
		return "Include defensive error handling."
	case key == "pattern:typed-api":
		return "Keep contracts and types explicit."
	case strings.HasPrefix(key, "task:"):
		t := strings.TrimPrefix(key, "task:")
		return fmt.Sprintf("Optimize specifically for the %s task.", t)
	case strings.HasPrefix(key, "lang:"):
		lang := strings.TrimPrefix(key, "lang:")
		return fmt.Sprintf("Write idiomatic %s style.", lang)
	case strings.HasPrefix(key, "kw:"):
		kw := strings.TrimPrefix(key, "kw:")
		return fmt.Sprintf("Respect prior preference around %q.", kw)
	case strings.HasPrefix(key, "fileext:"):
		ext := strings.TrimPrefix(key, "fileext:")
		return fmt.Sprintf("Match formatting conventions for .%s files.", ext)
	default:
		return "Apply prior preference for " + key + "."
	}
}

// RecordOutcome updates every key extracted from in, consolidating and
// persisting as needed (spec.md §4.3).
func (m *Memory) RecordOutcome(in Interaction) {
	m.mu.Lock()
	defer m.mu.Unlock()

	q := QualityScore(in)
	now := time.Now()
	for _, key := range ExtractKeys(in) {
		p, ok := m.patterns[key]
		if !ok {
			p = NewPattern(key)
			m.patterns[key] = p
		}
		p.Update(now, in.Success, q)
	}

	m.interactions++
	if in.Success {
		m.successes++
	}
	m.sinceLastPersist++

	consolidated := false
	if m.interactions%consolidateEvery == 0 {
		m.consolidate(now)
		consolidated = true
	}

	// spec.md §4.3 "Consolidation": swept after every 20 interactions *and*
	// on persistence, so a persist that isn't landing on a 20-interaction
	// boundary still consolidates first.
	if consolidated || m.sinceLastPersist >= m.interval {
		if !consolidated {
			m.consolidate(now)
		}
		m.persistLocked()
		m.sinceLastPersist = 0
	}
}

// consolidate sweeps the pattern map per spec.md §4.3 "Consolidation".
// Caller must hold m.mu.
func (m *Memory) consolidate(now time.Time) {
	for key, p := range m.patterns {
		age := now.Sub(p.LastSeenAt).Minutes()
		value := p.consolidationValue()
		if (p.Hits <= 1 && age > 30) || (value < 0.22 && age > 10) {
			delete(m.patterns, key)
		}
	}

	if len(m.patterns) > patternCeiling {
		ordered := make([]*Pattern, 0, len(m.patterns))
		for _, p := range m.patterns {
			ordered = append(ordered, p)
		}
		sort.Slice(ordered, func(i, j int) bool {
			return ordered[i].evictionValue() < ordered[j].evictionValue()
		})
		excess := len(ordered) - patternCeiling
		for i := 0; i < excess; i++ {
			delete(m.patterns, ordered[i].Key)
		}
	}

	m.consolidations++
	m.lastConsolidatedAt = now
}

// Flush consolidates and persists the current state unconditionally. Called
// on worker removal and pool shutdown — spec.md §4.3's "and on persistence"
// sweep applies here too, not just the interval-triggered persist.
func (m *Memory) Flush() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.consolidate(time.Now())
	m.persistLocked()
}

// persistLocked writes the snapshot to disk. Disk I/O errors are logged and
// swallowed — a memory flush must never take a worker down (spec.md §7).
// Caller must hold m.mu.
func (m *Memory) persistLocked() {
	p := m.path()
	if p == "" {
		return
	}
	patterns := make([]*Pattern, 0, len(m.patterns))
	for _, pat := range m.patterns {
		patterns = append(patterns, pat)
	}
	snap := snapshot{
		SnapshotID:         uuid.NewString(),
		Version:            snapshotVersion,
		Interactions:       m.interactions,
		Successes:          m.successes,
		Consolidations:     m.consolidations,
		LastConsolidatedAt: m.lastConsolidatedAt,
		Patterns:           patterns,
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		if m.log != nil {
			m.log.Warn("pattern memory marshal failed", zap.String("worker", m.workerID), zap.Error(err))
		}
		return
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		if m.log != nil {
			m.log.Warn("pattern memory mkdir failed", zap.String("worker", m.workerID), zap.Error(err))
		}
		return
	}
	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		if m.log != nil {
			m.log.Warn("pattern memory write failed", zap.String("worker", m.workerID), zap.Error(err))
		}
		return
	}
	if err := os.Rename(tmp, p); err != nil {
		if m.log != nil {
			m.log.Warn("pattern memory rename failed", zap.String("worker", m.workerID), zap.Error(err))
		}
	}
}

// Stats returns a snapshot for SonaStats.
func (m *Memory) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	ordered := make([]*Pattern, 0, len(m.patterns))
	for _, p := range m.patterns {
		ordered = append(ordered, p)
	}
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].hintScore() > ordered[j].hintScore()
	})
	top := make([]string, 0, 3)
	for i := 0; i < len(ordered) && i < 3; i++ {
		top = append(top, ordered[i].Key)
	}

	return Stats{
		WorkerID:           m.workerID,
		Interactions:       m.interactions,
		Successes:          m.successes,
		PatternCount:       len(m.patterns),
		Consolidations:     m.consolidations,
		LastConsolidatedAt: m.lastConsolidatedAt,
		TopHints:           top,
	}
}
