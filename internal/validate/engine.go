// Package validate assesses whether a successful-looking execution
// result is plausible. It combines cheap text heuristics (trigram
// similarity, normalized entropy, structural hints) with a filesystem
// cross-check of the agent's self-reported side effects. A verdict is
// informational; policy decides whether an invalid one fails the task.
package validate

import (
	"math"
	"path/filepath"
	"strings"

	"github.com/hochfrequenz/claude-task-orchestrator/internal/config"
	"github.com/hochfrequenz/claude-task-orchestrator/internal/domain"
)

// Outputs shorter than this skip the entropy check so one-line answers
// are not flagged as degenerate.
const entropyMinLength = 20

// Cross-check outcomes recorded in the verdict
const (
	CrossConfirmed     = "confirmed"
	CrossNoEffect      = "no_effect"
	CrossUnverifiable  = "unverifiable"
	CrossNotApplicable = "not_applicable"
)

var editLanguageMarkers = []string{
	"modified:", "edited:", "updated:", "created:",
	"apply patch", "applied patch", "changes saved",
}

// Engine computes validation verdicts using per-kind thresholds
type Engine struct {
	cfg *config.ValidationConfig
}

func New(cfg *config.ValidationConfig) *Engine {
	return &Engine{cfg: cfg}
}

// Validate scores one successful execution attempt. before/after are
// snapshots of the task's working directory around the attempt; either
// may be nil when the scope could not be observed.
func (e *Engine) Validate(task *domain.Task, res *domain.ExecutionResult, before, after Snapshot) *domain.ValidationVerdict {
	verdict := &domain.ValidationVerdict{
		TaskID:      task.ID,
		Attempt:     res.Attempt,
		StructureOK: true,
	}

	simThreshold, entThreshold := e.cfg.Thresholds(string(task.Kind))

	verdict.Similarity = Similarity(requestText(task), res.Output)
	verdict.Entropy = Entropy(res.Output)

	if verdict.Similarity < simThreshold {
		verdict.Reasons = append(verdict.Reasons, domain.ReasonLowSimilarity)
	}
	if len(res.Output) >= entropyMinLength && verdict.Entropy < entThreshold {
		verdict.Reasons = append(verdict.Reasons, domain.ReasonLowEntropy)
	}

	if strings.TrimSpace(res.Output) == "" {
		verdict.StructureOK = false
		verdict.Reasons = append(verdict.Reasons, domain.ReasonStructure)
	}

	if task.Kind.ReadOnly() && containsAny(res.Output, editLanguageMarkers) {
		verdict.StructureOK = false
		verdict.Reasons = append(verdict.Reasons, domain.ReasonEditInReadOnly)
	}

	verdict.CrossCheck = e.crossCheck(task, res, before, after, verdict)

	verdict.Valid = true
	for _, r := range verdict.Reasons {
		if r != domain.ReasonUnverifiable {
			verdict.Valid = false
			break
		}
	}
	return verdict
}

// crossCheck compares the agent's mutation claims against the observed
// filesystem diff. Claims without observable effect invalidate the
// verdict even though the process exited successfully.
func (e *Engine) crossCheck(task *domain.Task, res *domain.ExecutionResult, before, after Snapshot, verdict *domain.ValidationVerdict) string {
	claimed := claimedPaths(res.ClaimedFiles)

	if task.Kind.ReadOnly() {
		if before == nil || after == nil {
			return CrossNotApplicable
		}
		if observed := Diff(before, after); !observed.Empty() {
			verdict.Reasons = append(verdict.Reasons, domain.ReasonOutsideScope)
		}
		return CrossNotApplicable
	}

	if before == nil || after == nil {
		if len(claimed) > 0 {
			verdict.Reasons = append(verdict.Reasons, domain.ReasonUnverifiable)
		}
		return CrossUnverifiable
	}

	observed := Diff(before, after)

	if observed.Empty() {
		if len(claimed) > 0 || containsAny(res.Output, editLanguageMarkers) {
			verdict.Reasons = append(verdict.Reasons, domain.ReasonNoEffectSuccess)
			return CrossNoEffect
		}
		// A mutating task with declared targets that touched nothing is
		// suspect even when it claims nothing.
		if len(task.TargetFiles) > 0 {
			verdict.Reasons = append(verdict.Reasons, domain.ReasonNoEffectSuccess)
			return CrossNoEffect
		}
		return CrossConfirmed
	}

	observedSet := make(map[string]bool)
	for _, p := range observed.All() {
		observedSet[p] = true
	}

	for _, p := range claimed {
		if !matchesObserved(p, observedSet) {
			verdict.Reasons = append(verdict.Reasons, domain.ReasonClaimsNoEvidence)
			break
		}
	}

	if len(task.TargetFiles) > 0 {
		targets := make(map[string]bool)
		for _, t := range task.TargetFiles {
			targets[filepath.ToSlash(t)] = true
		}
		for _, p := range observed.All() {
			if !targets[p] {
				verdict.Reasons = append(verdict.Reasons, domain.ReasonOutsideScope)
				break
			}
		}
	}

	return CrossConfirmed
}

// claimedPaths strips the verb prefix from bridge claim strings
func claimedPaths(claims []string) []string {
	var paths []string
	for _, c := range claims {
		if _, path, ok := strings.Cut(c, ": "); ok {
			paths = append(paths, filepath.ToSlash(strings.TrimSpace(path)))
		}
	}
	return paths
}

// matchesObserved accepts a claim when any observed path equals it or
// ends with it, since agents often report paths relative to a subdir.
func matchesObserved(claim string, observed map[string]bool) bool {
	if observed[claim] {
		return true
	}
	for p := range observed {
		if strings.HasSuffix(p, "/"+claim) || strings.HasSuffix(claim, "/"+p) {
			return true
		}
	}
	return false
}

func requestText(task *domain.Task) string {
	parts := []string{task.Title, task.Prompt}
	parts = append(parts, task.SuccessCriteria...)
	if task.Context != "" {
		parts = append(parts, task.Context)
	}
	return strings.Join(parts, "\n")
}

// Similarity scores how related two texts are, in [0, 1]. Character
// trigram Jaccard first, word Jaccard as a fallback for texts too short
// to produce trigram overlap.
func Similarity(a, b string) float64 {
	a = strings.TrimSpace(strings.ToLower(a))
	b = strings.TrimSpace(strings.ToLower(b))
	if a == "" || b == "" {
		return 0
	}

	if tri := jaccard(trigrams(a), trigrams(b)); tri > 0 {
		return tri
	}

	wordsA := make(map[string]bool)
	for _, w := range strings.Fields(a) {
		wordsA[w] = true
	}
	wordsB := make(map[string]bool)
	for _, w := range strings.Fields(b) {
		wordsB[w] = true
	}
	return jaccard(wordsA, wordsB)
}

func trigrams(s string) map[string]bool {
	grams := make(map[string]bool)
	runes := []rune(s)
	for i := 0; i+3 <= len(runes); i++ {
		grams[string(runes[i:i+3])] = true
	}
	return grams
}

func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for g := range a {
		if b[g] {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// Entropy returns the Shannon entropy of text normalized by the maximum
// entropy of its observed alphabet, in [0, 1]. Degenerate repetitive
// output scores near zero.
func Entropy(text string) float64 {
	if text == "" {
		return 0
	}
	counts := make(map[rune]int)
	total := 0
	for _, r := range text {
		counts[r]++
		total++
	}
	if len(counts) < 2 {
		return 0
	}

	entropy := 0.0
	for _, c := range counts {
		p := float64(c) / float64(total)
		entropy -= p * math.Log2(p)
	}
	return entropy / math.Log2(float64(len(counts)))
}

func containsAny(text string, markers []string) bool {
	lower := strings.ToLower(text)
	for _, m := range markers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}
