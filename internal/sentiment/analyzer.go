// Package sentiment labels review texts as positive, negative, or neutral
// with short reason phrases. Verdicts are cached by a hash of the normalized
// text, so a review is sent to the LLM at most once; everything after that
// first pass is deterministic.
package sentiment

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"sort"
	"strings"
	"time"

	"github.com/revq/revq/internal/gemini"
	"github.com/revq/revq/internal/storage"
)

const (
	defaultBatchSize = 10
	maxReviewChars   = 1200
	maxReasons       = 3
	topReasonCount   = 10

	maxAttempts    = 3
	initialBackoff = time.Second
	maxBackoff     = 10 * time.Second
)

const systemInstruction = `You analyze customer reviews.
Return ONLY valid JSON.
For each review, output an object:
{"idx": <int>, "sentiment": "positive|negative|neutral", "reasons": ["phrase", ...]}
Rules:
- reasons: up to 3 short noun phrases (2-5 words)
- no full sentences
- no punctuation
- return a JSON array of objects`

// ReasonCount pairs a reason phrase with its occurrence count.
type ReasonCount struct {
	Reason string `json:"reason"`
	Count  int    `json:"count"`
}

// Summary is the aggregated verdict over a set of reviews.
type Summary struct {
	AnalyzedCount int            `json:"analyzed_count"`
	Distribution  map[string]int `json:"distribution"`
	TopReasons    []ReasonCount  `json:"top_reasons"`
	CacheHits     int            `json:"cache_hits"`
}

// Store is the slice of the storage layer holding cached verdicts.
type Store interface {
	Sentiments(hashes []string) (map[string]storage.SentimentRow, error)
	PutSentiment(row storage.SentimentRow) error
}

// Generator is the LLM call used for uncached reviews.
type Generator interface {
	Generate(ctx context.Context, system, prompt string, opts gemini.Options) (string, error)
}

type Analyzer struct {
	store     Store
	gen       Generator
	model     string
	batchSize int
}

func NewAnalyzer(store Store, gen Generator, model string) *Analyzer {
	return &Analyzer{store: store, gen: gen, model: model, batchSize: defaultBatchSize}
}

// TextHash returns the cache key for a review text: SHA-256 over the
// trimmed, lowercased text. Normalization stays light so keys are stable.
func TextHash(text string) string {
	t := strings.ToLower(strings.TrimSpace(text))
	sum := sha256.Sum256([]byte(t))
	return hex.EncodeToString(sum[:])
}

// Summarize aggregates sentiment over the given texts. Cached verdicts are
// reused; uncached texts go to the LLM in batches, and a review whose
// verdict cannot be obtained fails closed to neutral. Duplicate texts are
// counted once.
func (a *Analyzer) Summarize(ctx context.Context, texts []string) (Summary, error) {
	var clean []string
	seen := make(map[string]bool)
	for _, t := range texts {
		tt := strings.TrimSpace(t)
		if tt == "" {
			continue
		}
		h := TextHash(tt)
		if seen[h] {
			continue
		}
		seen[h] = true
		clean = append(clean, tt)
	}
	if len(clean) == 0 {
		return Summary{Distribution: map[string]int{}}, nil
	}

	hashes := make([]string, len(clean))
	for i, t := range clean {
		hashes[i] = TextHash(t)
	}

	cached, err := a.store.Sentiments(hashes)
	if err != nil {
		return Summary{}, fmt.Errorf("reading sentiment cache: %w", err)
	}

	distribution := make(map[string]int)
	reasonCounts := make(map[string]int)
	countVerdict := func(sentiment string, reasons []string) {
		distribution[sentiment]++
		for _, r := range reasons {
			rr := strings.ToLower(strings.TrimSpace(r))
			if rr != "" {
				reasonCounts[rr]++
			}
		}
	}

	var uncachedIdx []int
	for i := range clean {
		row, ok := cached[hashes[i]]
		if !ok {
			uncachedIdx = append(uncachedIdx, i)
			continue
		}
		var reasons []string
		if err := json.Unmarshal([]byte(row.ReasonsJSON), &reasons); err != nil {
			reasons = nil
		}
		countVerdict(row.Sentiment, reasons)
	}

	for start := 0; start < len(uncachedIdx); start += a.batchSize {
		end := min(start+a.batchSize, len(uncachedIdx))
		chunk := uncachedIdx[start:end]

		chunkTexts := make([]string, len(chunk))
		for i, gi := range chunk {
			chunkTexts[i] = clean[gi]
		}

		began := time.Now()
		verdicts := a.analyzeBatch(ctx, chunkTexts)
		latencyMs := time.Since(began).Milliseconds()

		for i, gi := range chunk {
			v, ok := verdicts[i]
			if !ok {
				// Fail closed on a missing result.
				v = verdict{Sentiment: "neutral"}
			}
			reasonsJSON, _ := json.Marshal(v.Reasons)
			if err := a.store.PutSentiment(storage.SentimentRow{
				TextHash:    hashes[gi],
				Model:       a.model,
				Sentiment:   v.Sentiment,
				ReasonsJSON: string(reasonsJSON),
				LatencyMs:   latencyMs,
			}); err != nil {
				return Summary{}, fmt.Errorf("caching sentiment: %w", err)
			}
			countVerdict(v.Sentiment, v.Reasons)
		}
	}

	return Summary{
		AnalyzedCount: len(clean),
		Distribution:  distribution,
		TopReasons:    topReasons(reasonCounts, topReasonCount),
		CacheHits:     len(clean) - len(uncachedIdx),
	}, nil
}

type verdict struct {
	Idx       int      `json:"idx"`
	Sentiment string   `json:"sentiment"`
	Reasons   []string `json:"reasons"`
}

var allowedSentiments = map[string]bool{"positive": true, "negative": true, "neutral": true}

// analyzeBatch sends one numbered batch of reviews to the LLM and returns
// verdicts keyed by in-batch index. Retries transient failures; after the
// budget is spent it returns what it has (possibly nothing) and the caller
// fails closed.
func (a *Analyzer) analyzeBatch(ctx context.Context, texts []string) map[int]verdict {
	var lines []string
	for i, t := range texts {
		if len(t) > maxReviewChars {
			t = t[:maxReviewChars]
		}
		lines = append(lines, fmt.Sprintf("[%d] %s", i, t))
	}
	prompt := "Analyze the following reviews.\nReturn ONLY JSON array. Each element must include idx, sentiment, reasons.\n\n" +
		strings.Join(lines, "\n\n")

	var raw string
	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		raw, err = a.gen.Generate(ctx, systemInstruction, prompt, gemini.Options{
			Temperature:     0.2,
			MaxOutputTokens: 600,
			JSON:            true,
		})
		if err == nil {
			break
		}
		if attempt == maxAttempts || !gemini.IsTransient(err) {
			slog.Warn("sentiment batch failed", "attempt", attempt, "error", err)
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(jitteredBackoff(attempt)):
		}
	}

	var parsed []verdict
	if uerr := json.Unmarshal([]byte(raw), &parsed); uerr != nil {
		var single verdict
		if serr := json.Unmarshal([]byte(raw), &single); serr != nil {
			slog.Warn("unparseable sentiment output", "error", uerr)
			return nil
		}
		parsed = []verdict{single}
	}

	out := make(map[int]verdict, len(parsed))
	for _, v := range parsed {
		if !allowedSentiments[v.Sentiment] {
			continue
		}
		var reasons []string
		for _, r := range v.Reasons {
			if rr := strings.TrimSpace(r); rr != "" {
				reasons = append(reasons, rr)
			}
		}
		if len(reasons) > maxReasons {
			reasons = reasons[:maxReasons]
		}
		v.Reasons = reasons
		out[v.Idx] = v
	}
	return out
}

func jitteredBackoff(attempt int) time.Duration {
	d := initialBackoff << (attempt - 1)
	if d > maxBackoff || d <= 0 {
		d = maxBackoff
	}
	return time.Duration(float64(d) * (0.7 + 0.6*rand.Float64()))
}

// topReasons returns the n most frequent reasons, count descending with
// alphabetical tie-break for reproducibility.
func topReasons(counts map[string]int, n int) []ReasonCount {
	out := make([]ReasonCount, 0, len(counts))
	for r, c := range counts {
		out = append(out, ReasonCount{Reason: r, Count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Reason < out[j].Reason
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}
