package memory

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestQualityScoreBounds(t *testing.T) {
	q := QualityScore(Interaction{Success: true})
	require.InDelta(t, 0.8, q, 1e-9)

	q = QualityScore(Interaction{Success: false})
	require.InDelta(t, 0.2, q, 1e-9)

	q = QualityScore(Interaction{Success: true, LatencyMs: 100000})
	require.GreaterOrEqual(t, q, qualityFloor)
	require.LessOrEqual(t, q, maxScore)
}

func TestExtractKeysCapsKeywordsAtSix(t *testing.T) {
	in := Interaction{
		TaskType:    "generate",
		Instruction: "alpha beta gamma delta epsilon zeta eta theta",
	}
	keys := ExtractKeys(in)
	kwCount := 0
	for _, k := range keys {
		if len(k) > 3 && k[:3] == "kw:" {
			kwCount++
		}
	}
	require.LessOrEqual(t, kwCount, 6)
	require.Contains(t, keys, "task:generate")
	require.Contains(t, keys, "task:general")
}

func TestExtractKeysStructuralPatterns(t *testing.T) {
	in := Interaction{
		TaskType: "review",
		Response: "func f() { try { } catch (e) { } }",
	}
	require.Contains(t, ExtractKeys(in), "pattern:error-handling")

	in2 := Interaction{TaskType: "generate", Response: "type Foo interface { Bar() }"}
	require.Contains(t, ExtractKeys(in2), "pattern:typed-api")
}

func TestPatternUpdateMonotonicImportance(t *testing.T) {
	p := NewPattern("task:generate")
	initial := p.Importance
	p.Update(time.Now(), true, 0.9)
	require.Greater(t, p.Importance, initial)
	require.LessOrEqual(t, p.Importance, maxImportance)
}

func TestRecordOutcomeAndRewrite(t *testing.T) {
	dir := t.TempDir()
	m := New("worker-1", dir, 1000, nil)

	for i := 0; i < 5; i++ {
		m.RecordOutcome(Interaction{
			TaskType:    "generate",
			Language:    "go",
			Instruction: "implement retry logic carefully",
			Response:    "type Retrier interface{}",
			Success:     true,
			LatencyMs:   200,
		})
	}

	rewritten := m.RewriteInstruction("generate", "go", "write a function")
	require.Contains(t, rewritten, "Apply these learned project preferences")
	require.Contains(t, rewritten, "write a function")

	stats := m.Stats()
	require.Equal(t, 5, stats.Interactions)
	require.Equal(t, 5, stats.Successes)
	require.Greater(t, stats.PatternCount, 0)
}

func TestConsolidationEvictsStalePatterns(t *testing.T) {
	m := New("worker-2", "", 1000, nil)
	old := NewPattern("kw:stale")
	old.LastSeenAt = time.Now().Add(-time.Hour)
	old.Hits = 1
	m.patterns["kw:stale"] = old

	m.consolidate(time.Now())
	_, ok := m.patterns["kw:stale"]
	require.False(t, ok)
}

func TestConsolidationEnforcesCeiling(t *testing.T) {
	m := New("worker-3", "", 1000, nil)
	for i := 0; i < patternCeiling+50; i++ {
		key := "kw:word" + string(rune('a'+i%26)) + string(rune(i))
		p := NewPattern(key)
		p.LastSeenAt = time.Now()
		p.Hits = 5
		m.patterns[key] = p
	}
	m.consolidate(time.Now())
	require.LessOrEqual(t, len(m.patterns), patternCeiling)
}

func TestPersistenceRoundTrip(t *testing.T) {
	dir := t.TempDir()
	m := New("worker-4", dir, 1, nil)
	m.RecordOutcome(Interaction{
		TaskType:    "review",
		Instruction: "check error handling",
		Response:    "looks fine",
		Success:     true,
		LatencyMs:   50,
	})

	path := filepath.Join(dir, "worker-4.json")
	_, err := os.Stat(path)
	require.NoError(t, err)

	loaded := New("worker-4", dir, 1, nil)
	require.Equal(t, m.interactions, loaded.interactions)
	require.Equal(t, len(m.patterns), len(loaded.patterns))
}

func TestLoadIgnoresCorruptSnapshot(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "worker-5.json"), []byte("{not json"), 0o644))

	m := New("worker-5", dir, 10, nil)
	require.Equal(t, 0, m.interactions)
	require.Empty(t, m.patterns)
}

func TestLoadIgnoresVersionMismatch(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "worker-6.json"), []byte(`{"version":"old","interactions":99}`), 0o644))

	m := New("worker-6", dir, 10, nil)
	require.Equal(t, 0, m.interactions)
}
