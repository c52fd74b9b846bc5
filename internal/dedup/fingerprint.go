// Package dedup removes slides that repeat a recently captured slide, using
// perceptual fingerprints compared by Hamming distance.
package dedup

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"sort"
	"strings"

	"github.com/corona10/goimagehash"
	"github.com/nfnt/resize"

	apperrors "github.com/binh234/video2slides/internal/errors"
)

// Algorithm selects the fingerprint function.
type Algorithm int

const (
	Difference Algorithm = iota
	Perceptual
	Average
)

func (a Algorithm) String() string {
	switch a {
	case Difference:
		return "dhash"
	case Perceptual:
		return "phash"
	case Average:
		return "ahash"
	}
	return "unknown"
}

func (a Algorithm) kind() goimagehash.Kind {
	switch a {
	case Perceptual:
		return goimagehash.PHash
	case Average:
		return goimagehash.AHash
	}
	return goimagehash.DHash
}

// ParseAlgorithm accepts short and long algorithm names, case-insensitively.
func ParseAlgorithm(s string) (Algorithm, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "dhash", "difference", "difference hashing":
		return Difference, nil
	case "phash", "perceptual", "perceptual hashing":
		return Perceptual, nil
	case "ahash", "average", "average hashing":
		return Average, nil
	}
	return 0, apperrors.Newf(apperrors.CodeConfigInvalid, "unknown hash algorithm %q", s)
}

// Fingerprint is a hashSize² bit summary of an image.
type Fingerprint struct {
	hash *goimagehash.ExtImageHash
}

// Bits returns the fingerprint length.
func (f Fingerprint) Bits() int { return f.hash.Bits() }

// Key is a stable string form, equal for bit-identical fingerprints.
func (f Fingerprint) Key() string {
	var sb strings.Builder
	for _, w := range f.hash.GetHash() {
		fmt.Fprintf(&sb, "%016x", w)
	}
	return sb.String()
}

// Distance returns the Hamming distance to o.
func (f Fingerprint) Distance(o Fingerprint) (int, error) {
	return f.hash.Distance(o.hash)
}

// Compute fingerprints img with alg at hashSize×hashSize bits. Sizes that the
// hashing library cannot represent (bit counts that are not a multiple of 64,
// or not a power of two for the perceptual hash) are computed locally.
func Compute(img image.Image, alg Algorithm, hashSize int) (Fingerprint, error) {
	if img == nil {
		return Fingerprint{}, apperrors.New(apperrors.CodeInvalidArgument, "nil image")
	}
	if hashSize < 2 {
		return Fingerprint{}, apperrors.Newf(apperrors.CodeConfigInvalid, "hash size must be at least 2, got %d", hashSize)
	}

	bits := hashSize * hashSize
	var (
		h   *goimagehash.ExtImageHash
		err error
	)
	switch {
	case alg == Difference && bits%64 == 0:
		h, err = goimagehash.ExtDifferenceHash(img, hashSize, hashSize)
	case alg == Average && bits%64 == 0:
		h, err = goimagehash.ExtAverageHash(img, hashSize, hashSize)
	case alg == Perceptual && bits%64 == 0 && bits&(bits-1) == 0:
		h, err = goimagehash.ExtPerceptionHash(img, hashSize, hashSize)
	default:
		h = goimagehash.NewExtImageHash(pack(localBits(img, alg, hashSize)), alg.kind(), bits)
	}
	if err != nil {
		return Fingerprint{}, apperrors.Wrapf(err, apperrors.CodeInternal, "%s fingerprint failed", alg)
	}
	return Fingerprint{hash: h}, nil
}

// localBits implements the three algorithms on a grayscale thumbnail.
func localBits(img image.Image, alg Algorithm, size int) []bool {
	switch alg {
	case Difference:
		px := grayThumb(img, size+1, size)
		out := make([]bool, 0, size*size)
		for y := 0; y < size; y++ {
			for x := 0; x < size; x++ {
				out = append(out, px[y][x+1] > px[y][x])
			}
		}
		return out

	case Perceptual:
		n := size * 4
		coeffs := dct2(grayThumb(img, n, n))
		low := make([]float64, 0, size*size)
		for y := 0; y < size; y++ {
			low = append(low, coeffs[y][:size]...)
		}
		med := median(low)
		out := make([]bool, len(low))
		for i, v := range low {
			out[i] = v > med
		}
		return out

	default:
		px := grayThumb(img, size, size)
		var sum float64
		for _, row := range px {
			for _, v := range row {
				sum += v
			}
		}
		mean := sum / float64(size*size)
		out := make([]bool, 0, size*size)
		for _, row := range px {
			for _, v := range row {
				out = append(out, v > mean)
			}
		}
		return out
	}
}

func grayThumb(img image.Image, w, h int) [][]float64 {
	small := resize.Resize(uint(w), uint(h), img, resize.Bilinear)
	b := small.Bounds()
	px := make([][]float64, h)
	for y := 0; y < h; y++ {
		px[y] = make([]float64, w)
		for x := 0; x < w; x++ {
			g := color.GrayModel.Convert(small.At(b.Min.X+x, b.Min.Y+y)).(color.Gray)
			px[y][x] = float64(g.Y)
		}
	}
	return px
}

// dct2 is a separable, unnormalized 2-D DCT-II.
func dct2(px [][]float64) [][]float64 {
	n := len(px)
	cos := make([][]float64, n)
	for k := 0; k < n; k++ {
		cos[k] = make([]float64, n)
		for i := 0; i < n; i++ {
			cos[k][i] = math.Cos(math.Pi * float64(k) * float64(2*i+1) / float64(2*n))
		}
	}

	rows := make([][]float64, n)
	for y := 0; y < n; y++ {
		rows[y] = make([]float64, n)
		for k := 0; k < n; k++ {
			var s float64
			for i := 0; i < n; i++ {
				s += px[y][i] * cos[k][i]
			}
			rows[y][k] = 2 * s
		}
	}

	out := make([][]float64, n)
	for k := 0; k < n; k++ {
		out[k] = make([]float64, n)
		for x := 0; x < n; x++ {
			var s float64
			for i := 0; i < n; i++ {
				s += rows[i][x] * cos[k][i]
			}
			out[k][x] = 2 * s
		}
	}
	return out
}

func median(vals []float64) float64 {
	s := append([]float64(nil), vals...)
	sort.Float64s(s)
	mid := len(s) / 2
	if len(s)%2 == 0 {
		return (s[mid-1] + s[mid]) / 2
	}
	return s[mid]
}

// pack stores bits most-significant first in 64-bit words.
func pack(bits []bool) []uint64 {
	words := make([]uint64, (len(bits)+63)/64)
	for i, b := range bits {
		if b {
			words[i/64] |= 1 << uint(63-i%64)
		}
	}
	return words
}
