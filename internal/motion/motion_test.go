package motion

import (
	"image"
	"image/color"
	"testing"

	apperrors "github.com/binh234/video2slides/internal/errors"
)

func solidRGBA(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, c.A
	}
	return img
}

var (
	black = color.RGBA{A: 255}
	white = color.RGBA{R: 255, G: 255, B: 255, A: 255}
)

// halfChanged paints the left half white over a black frame.
func halfChanged(w, h int) *image.RGBA {
	img := solidRGBA(w, h, black)
	for y := 0; y < h; y++ {
		for x := 0; x < w/2; x++ {
			img.SetRGBA(x, y, white)
		}
	}
	return img
}

func TestParseKind(t *testing.T) {
	tests := []struct {
		in   string
		want Kind
	}{
		{"GMG", KindDecisionThreshold},
		{"gmg", KindDecisionThreshold},
		{"BackgroundModel-DecisionThreshold", KindDecisionThreshold},
		{"KNN", KindSquaredDistance},
		{"BackgroundModel-SquaredDistance", KindSquaredDistance},
		{"Frame_Diff", KindFrameDiff},
		{"Frame Diff", KindFrameDiff},
		{"FrameDifference", KindFrameDiff},
	}

	for _, tt := range tests {
		got, err := ParseKind(tt.in)
		if err != nil {
			t.Errorf("ParseKind(%q) error = %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseKind(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}

	if _, err := ParseKind("MOG2"); !apperrors.IsCode(err, apperrors.CodeConfigInvalid) {
		t.Errorf("ParseKind(MOG2) = %v, want CONFIG_INVALID", err)
	}
}

func TestKindString(t *testing.T) {
	if KindDecisionThreshold.String() != "GMG" || KindSquaredDistance.String() != "KNN" || KindFrameDiff.String() != "Frame_Diff" {
		t.Error("Kind names should match the command-line choices")
	}
}

func TestResizeToWidth(t *testing.T) {
	tests := []struct {
		w, h       int
		wantW      int
		wantH      int
		sameResult bool
	}{
		{1280, 720, 640, 360, false},
		{100, 50, 640, 320, false},
		{1000, 333, 640, 213, false}, // 213.12 truncated
		{640, 480, 640, 480, true},
	}

	for _, tt := range tests {
		src := solidRGBA(tt.w, tt.h, white)
		got := resizeToWidth(src, WorkingWidth)
		if got.Bounds().Dx() != tt.wantW || got.Bounds().Dy() != tt.wantH {
			t.Errorf("resize %dx%d = %v, want %dx%d", tt.w, tt.h, got.Bounds(), tt.wantW, tt.wantH)
		}
		if tt.sameResult && got != src {
			t.Errorf("resize %dx%d should return the input unchanged", tt.w, tt.h)
		}
	}
}

func TestBackgroundModelSubImage(t *testing.T) {
	tests := []struct {
		kind      Kind
		threshold float64
	}{
		{KindDecisionThreshold, 0.75},
		{KindSquaredDistance, 100},
	}
	for _, tt := range tests {
		kind := tt.kind
		// A static 640x360 view cut out of a wider canvas whose left part keeps changing.
		canvas := solidRGBA(WorkingWidth+100, 360, black)
		view := canvas.SubImage(image.Rect(100, 0, WorkingWidth+100, 360)).(*image.RGBA)

		m, err := NewBackgroundModel(kind, 3, tt.threshold)
		if err != nil {
			t.Fatalf("NewBackgroundModel(%v) error = %v", kind, err)
		}
		var got float64
		for i := 0; i < 8; i++ {
			fill := black
			if i%2 == 1 {
				fill = white
			}
			for y := 0; y < 360; y++ {
				for x := 0; x < 100; x++ {
					canvas.SetRGBA(x, y, fill)
				}
			}
			got = m.Apply(view)
		}
		if got != 0 {
			t.Errorf("%v: static sub-image reported %v%% foreground, want 0", kind, got)
		}
	}
}

func TestCompact(t *testing.T) {
	canvas := solidRGBA(8, 4, black)
	canvas.SetRGBA(5, 2, white)
	view := canvas.SubImage(image.Rect(4, 1, 8, 4)).(*image.RGBA)

	got := compact(view)
	if got.Bounds() != image.Rect(0, 0, 4, 3) || got.Stride != 16 {
		t.Fatalf("compact() bounds = %v stride = %d, want 4x3 packed", got.Bounds(), got.Stride)
	}
	if c := got.RGBAAt(1, 1); c != white {
		t.Errorf("compact() pixel (1,1) = %v, want %v", c, white)
	}
	if full := solidRGBA(4, 3, black); compact(full) != full {
		t.Error("compact() copied an already packed image")
	}
}

func TestNewBackgroundModelValidation(t *testing.T) {
	tests := []struct {
		name      string
		kind      Kind
		history   int
		threshold float64
	}{
		{"frame diff is not a model", KindFrameDiff, 15, 0.75},
		{"zero history", KindDecisionThreshold, 0, 0.75},
		{"zero threshold", KindSquaredDistance, 15, 0},
		{"decision threshold of one", KindDecisionThreshold, 15, 1},
	}

	for _, tt := range tests {
		_, err := NewBackgroundModel(tt.kind, tt.history, tt.threshold)
		if !apperrors.IsCode(err, apperrors.CodeConfigInvalid) {
			t.Errorf("%s: error = %v, want CONFIG_INVALID", tt.name, err)
		}
	}
}

func TestDecisionModelInitialization(t *testing.T) {
	m, err := NewBackgroundModel(KindDecisionThreshold, 5, 0.75)
	if err != nil {
		t.Fatalf("NewBackgroundModel() error = %v", err)
	}

	frame := solidRGBA(64, 48, black)
	for i := 1; i <= 5; i++ {
		if got := m.Apply(frame); got != 0 {
			t.Errorf("init frame %d fraction = %v, want 0", i, got)
		}
	}
	if got := m.Apply(frame); got != 0 {
		t.Errorf("learned background fraction = %v, want 0", got)
	}
}

func TestDecisionModelDetectsAndSettles(t *testing.T) {
	m, _ := NewBackgroundModel(KindDecisionThreshold, 5, 0.75)
	for i := 0; i < 5; i++ {
		m.Apply(solidRGBA(64, 48, black))
	}

	changed := solidRGBA(64, 48, white)
	if got := m.Apply(changed); got != 100 {
		t.Errorf("new scene fraction = %v, want 100", got)
	}

	settled := -1
	for i := 2; i <= 10; i++ {
		if m.Apply(changed) < 1 {
			settled = i
			break
		}
	}
	if settled < 0 {
		t.Fatal("model never absorbed the new scene")
	}
	if settled != 5 {
		t.Errorf("settled on repeat %d, want 5", settled)
	}
}

func TestDistanceModelDetectsAndSettles(t *testing.T) {
	m, _ := NewBackgroundModel(KindSquaredDistance, 15, 100)

	if got := m.Apply(solidRGBA(64, 48, black)); got != 0 {
		t.Errorf("seed frame fraction = %v, want 0", got)
	}
	if got := m.Apply(solidRGBA(64, 48, black)); got != 0 {
		t.Errorf("static frame fraction = %v, want 0", got)
	}

	changed := solidRGBA(64, 48, white)
	if got := m.Apply(changed); got != 100 {
		t.Errorf("new scene fraction = %v, want 100", got)
	}

	settled := false
	for i := 0; i < 10; i++ {
		if m.Apply(changed) == 0 {
			settled = true
			break
		}
	}
	if !settled {
		t.Error("samples never absorbed the new scene")
	}
}

func TestDistanceModelToleratesNoise(t *testing.T) {
	m, _ := NewBackgroundModel(KindSquaredDistance, 15, 100)
	m.Apply(solidRGBA(64, 48, color.RGBA{R: 100, G: 100, B: 100, A: 255}))

	// squared distance 3*5^2 = 75 <= 100
	if got := m.Apply(solidRGBA(64, 48, color.RGBA{R: 105, G: 105, B: 105, A: 255})); got != 0 {
		t.Errorf("small deviation fraction = %v, want 0", got)
	}
	// squared distance 3*6^2 = 108 > 100
	if got := m.Apply(solidRGBA(64, 48, color.RGBA{R: 106, G: 106, B: 106, A: 255})); got != 100 {
		t.Errorf("large deviation fraction = %v, want 100", got)
	}
}

func TestBackgroundModelResetsOnSizeChange(t *testing.T) {
	m, _ := NewBackgroundModel(KindSquaredDistance, 15, 100)
	m.Apply(solidRGBA(64, 48, black))

	if got := m.Apply(solidRGBA(64, 32, white)); got != 0 {
		t.Errorf("fraction after size change = %v, want 0 (reseeded)", got)
	}
}

func TestFrameDiff(t *testing.T) {
	d := NewFrameDiff(0)
	if d.threshold != DefaultDiffThreshold {
		t.Errorf("threshold = %d, want %d", d.threshold, DefaultDiffThreshold)
	}

	if got := d.Apply(solidRGBA(64, 48, black)); got != 100 {
		t.Errorf("first frame fraction = %v, want 100", got)
	}
	if got := d.Apply(solidRGBA(64, 48, black)); got != 0 {
		t.Errorf("static frame fraction = %v, want 0", got)
	}
	if got := d.Apply(solidRGBA(64, 48, white)); got != 100 {
		t.Errorf("full change fraction = %v, want 100", got)
	}

	d.Apply(solidRGBA(64, 48, black))
	got := d.Apply(halfChanged(64, 48))
	if got < 45 || got > 55 {
		t.Errorf("half change fraction = %v, want ~50", got)
	}
}

func TestFrameDiffIgnoresSmallDeltas(t *testing.T) {
	d := NewFrameDiff(DefaultDiffThreshold)
	d.Apply(solidRGBA(64, 48, color.RGBA{R: 100, G: 100, B: 100, A: 255}))

	if got := d.Apply(solidRGBA(64, 48, color.RGBA{R: 150, G: 150, B: 150, A: 255})); got != 0 {
		t.Errorf("sub-threshold change fraction = %v, want 0", got)
	}
}

func TestNewSelectsStrategy(t *testing.T) {
	for _, kind := range []Kind{KindDecisionThreshold, KindSquaredDistance, KindFrameDiff} {
		p := DefaultParams()
		p.Kind = kind
		c, err := New(p)
		if err != nil {
			t.Fatalf("New(%v) error = %v", kind, err)
		}
		if c.Kind() != kind {
			t.Errorf("New(%v).Kind() = %v", kind, c.Kind())
		}
	}

	p := DefaultParams()
	p.Kind = Kind(42)
	if _, err := New(p); !apperrors.IsCode(err, apperrors.CodeConfigInvalid) {
		t.Errorf("New(42) = %v, want CONFIG_INVALID", err)
	}
}
