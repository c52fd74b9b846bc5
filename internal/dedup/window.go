package dedup

import (
	"image"
	"log/slog"

	apperrors "github.com/binh234/video2slides/internal/errors"
)

// Defaults and bounds shared with the configuration layer.
const (
	DefaultHashSize   = 12
	DefaultQueueLen   = 5
	DefaultSimilarity = 96
	MinSimilarity     = 90
	MaxSimilarity     = 100
)

// DistanceThreshold converts a similarity percentage into the largest Hamming
// distance still counted as a duplicate: floor(hashSize² × (100 − s) / 100).
func DistanceThreshold(hashSize, similarity int) int {
	if similarity >= 100 {
		return 0
	}
	return hashSize * hashSize * (100 - similarity) / 100
}

// Verdict is the outcome of one Evaluate call.
type Verdict struct {
	ID string
	// Seq is the 1-based position of the call within the run.
	Seq       int
	Duplicate bool
	// Exact is set when a bit-identical fingerprint was seen earlier in the run.
	Exact bool
	// Distance is the smallest Hamming distance to the window, or -1 when the
	// decision did not need a comparison.
	Distance int
}

// Window classifies each new slide as unique or a duplicate of an earlier one.
// Exact repeats are found in an unbounded set of every unique fingerprint.
// Near repeats are only looked for among the most recent unique slides.
type Window struct {
	alg       Algorithm
	hashSize  int
	threshold int
	capacity  int

	seen   map[string]struct{}
	recent []Fingerprint // oldest first, len <= capacity

	evaluated  int
	duplicates []string
}

// New creates an empty window. A non-positive queueLen falls back to
// DefaultQueueLen with a warning.
func New(hashSize int, alg Algorithm, queueLen, distanceThreshold int) (*Window, error) {
	if hashSize < 2 || hashSize%2 != 0 {
		return nil, apperrors.Newf(apperrors.CodeConfigInvalid, "hash size must be a positive even number, got %d", hashSize)
	}
	if distanceThreshold < 0 {
		return nil, apperrors.Newf(apperrors.CodeConfigInvalid, "distance threshold must not be negative, got %d", distanceThreshold)
	}
	if queueLen <= 0 {
		slog.Warn("queue length must be positive, using default", "queue_len", queueLen, "default", DefaultQueueLen)
		queueLen = DefaultQueueLen
	}
	return &Window{
		alg:       alg,
		hashSize:  hashSize,
		threshold: distanceThreshold,
		capacity:  queueLen,
		seen:      make(map[string]struct{}),
		recent:    make([]Fingerprint, 0, queueLen),
	}, nil
}

// Capacity returns the size of the near-duplicate window.
func (w *Window) Capacity() int { return w.capacity }

// Threshold returns the maximum duplicate distance.
func (w *Window) Threshold() int { return w.threshold }

// Evaluate fingerprints img and classifies it under id.
func (w *Window) Evaluate(id string, img image.Image) (Verdict, error) {
	fp, err := Compute(img, w.alg, w.hashSize)
	if err != nil {
		return Verdict{}, err
	}
	return w.EvaluateFingerprint(id, fp)
}

// EvaluateFingerprint classifies an already computed fingerprint. Only unique
// fingerprints enter the seen set and the window.
func (w *Window) EvaluateFingerprint(id string, fp Fingerprint) (Verdict, error) {
	w.evaluated++
	key := fp.Key()
	if _, ok := w.seen[key]; ok {
		w.duplicates = append(w.duplicates, id)
		return Verdict{ID: id, Seq: w.evaluated, Duplicate: true, Exact: true, Distance: 0}, nil
	}

	best := -1
	for _, prev := range w.recent {
		d, err := fp.Distance(prev)
		if err != nil {
			w.evaluated--
			return Verdict{}, apperrors.Wrap(err, apperrors.CodeInternal, "compare fingerprints")
		}
		if best < 0 || d < best {
			best = d
		}
	}
	if best >= 0 && best <= w.threshold {
		w.duplicates = append(w.duplicates, id)
		return Verdict{ID: id, Seq: w.evaluated, Duplicate: true, Distance: best}, nil
	}

	w.seen[key] = struct{}{}
	if len(w.recent) == w.capacity {
		copy(w.recent, w.recent[1:])
		w.recent = w.recent[:len(w.recent)-1]
	}
	w.recent = append(w.recent, fp)
	return Verdict{ID: id, Seq: w.evaluated, Distance: best}, nil
}

// Drain returns the duplicate ids reported since the last Drain, in
// evaluation order.
func (w *Window) Drain() []string {
	out := w.duplicates
	w.duplicates = nil
	return out
}
