package params

import (
	"errors"
	"testing"
	"time"

	"camhal/pkg/types"
)

func TestDefaultsValidate(t *testing.T) {
	p := Defaults(DefaultOptions{})
	s, err := Validate(p)
	if err != nil {
		t.Fatal(err)
	}
	if s.Preview != DefaultPreviewSize || s.Picture != DefaultPictureSize {
		t.Errorf("preview %s picture %s", s.Preview, s.Picture)
	}
	if s.Thumbnail != DefaultThumbnailSize {
		t.Errorf("thumbnail %s", s.Thumbnail)
	}
	if s.JpegQuality != 100 || s.ThumbnailQuality != 85 {
		t.Errorf("quality %d/%d", s.JpegQuality, s.ThumbnailQuality)
	}
	if s.Effect != EffectOff || s.WhiteBalance != WBAuto || s.Antibanding != AntibandingOff {
		t.Errorf("effect %d wb %d antibanding %d", s.Effect, s.WhiteBalance, s.Antibanding)
	}
	if s.Rotation != NotFound {
		t.Errorf("rotation = %d, want NotFound", s.Rotation)
	}
	if got := p[KeyEffectValues]; got != "none,mono,negative,solarize,sepia,posterize,whiteboard,blackboard,aqua" {
		t.Errorf("effect values %q", got)
	}
	if p.GetInt(KeyMaxZoom) != 4 || p[KeyZoomRatios] != "100,150,200,250,300" {
		t.Error("zoom keys not advertised")
	}
}

func TestDefaultsEffectOption(t *testing.T) {
	s, err := Validate(Defaults(DefaultOptions{Effect: "one"}))
	if err != nil {
		t.Fatal(err)
	}
	if s.Effect != NotFound {
		t.Errorf("effect = %d, want NotFound for an unknown name", s.Effect)
	}
}

func TestValidatePreviewSizes(t *testing.T) {
	for _, size := range PreviewSizes() {
		p := Defaults(DefaultOptions{})
		p.SetPreviewSize(size)
		s, err := Validate(p)
		if err != nil {
			t.Errorf("%s: %v", size, err)
			continue
		}
		if s.FrameSize() != size.Width*size.Height*3/2 {
			t.Errorf("%s: frame size %d", size, s.FrameSize())
		}
	}
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		key, value string
	}{
		{KeyPreviewSize, "640x480"},
		{KeyPreviewSize, "320"},
		{KeyPreviewSize, ""},
		{KeyPictureSize, "800x600"},
		{KeyJpegQuality, "101"},
		{KeyJpegQuality, "0"},
		{KeyJpegQuality, "-5"},
		{KeyJpegQuality, "high"},
		{KeyZoom, "-2"},
	}
	for _, tt := range tests {
		p := Defaults(DefaultOptions{})
		p[tt.key] = tt.value
		_, err := Validate(p)
		if !errors.Is(err, ErrInvalid) {
			t.Errorf("%s=%q: err = %v, want ErrInvalid", tt.key, tt.value, err)
			continue
		}
		var verr *ValidationError
		if !errors.As(err, &verr) || verr.Key != tt.key {
			t.Errorf("%s=%q: err = %#v", tt.key, tt.value, err)
		}
	}
}

func TestThumbnailDefaults(t *testing.T) {
	p := Defaults(DefaultOptions{})
	p.Remove(KeyThumbnailWidth)
	p.Set(KeyThumbnailHeight, "96")
	s, err := Validate(p)
	if err != nil {
		t.Fatal(err)
	}
	if s.Thumbnail != (types.Size{Width: 192, Height: 96}) {
		t.Errorf("thumbnail %s", s.Thumbnail)
	}
}

func TestZoomValue(t *testing.T) {
	tests := []struct {
		picture string
		zoom    int
		want    int32
	}{
		{"1024x768", 1, 4},
		{"1600x1200", 2, 4},
		{"2048x1536", 3, 0},
	}
	for _, tt := range tests {
		p := Defaults(DefaultOptions{})
		p.Set(KeyPictureSize, tt.picture)
		p.SetInt(KeyZoom, tt.zoom)
		s, err := Validate(p)
		if err != nil {
			t.Fatal(err)
		}
		if got := s.ZoomValue(); got != tt.want {
			t.Errorf("%s zoom %d: value %d, want %d", tt.picture, tt.zoom, got, tt.want)
		}
	}
}

func TestFlatten(t *testing.T) {
	p := New()
	p.Set("b", "2")
	p.Set("a", "1")
	p.Set("bad", "x;y")
	if got := p.Flatten(); got != "a=1;b=2" {
		t.Errorf("flatten = %q", got)
	}

	q := Unflatten("a=1;;b=2;junk")
	if len(q) != 2 || q["a"] != "1" || q["b"] != "2" {
		t.Errorf("unflatten = %v", q)
	}
	if q.GetInt("a") != 1 || q.GetInt("missing") != -1 {
		t.Error("GetInt")
	}
}

func TestTables(t *testing.T) {
	if Effects.Lookup("aqua") != EffectAqua || Effects.Lookup("nope") != NotFound {
		t.Error("effect lookup")
	}
	if name, ok := WhiteBalances.Name(WBTwilight); !ok || name != "twilight" {
		t.Errorf("white balance name %q", name)
	}
	if PictureSizes.Lookup("1024x768") != Shot1M {
		t.Error("picture size lookup")
	}

	sizes := PreviewSizes()
	sizes[0] = types.Size{}
	if !IsPreviewSize(types.Size{Width: 384, Height: 288}) {
		t.Error("preview size table was mutated through a returned copy")
	}
}

func TestParseLocation(t *testing.T) {
	now := time.Unix(1700000000, 0)
	p := New()
	if _, ok := ParseLocation(p, now); ok {
		t.Error("empty parameters produced a location")
	}

	p.Set(KeyGPSLatitude, "37.7749")
	p.Set(KeyGPSLongitude, "-122.4194")
	p.Set(KeyGPSAltitude, "16")
	p.Set(KeyGPSTimestamp, "0")
	loc, ok := ParseLocation(p, now)
	if !ok {
		t.Fatal("location not parsed")
	}
	if loc.Latitude != 37.7749 || loc.Longitude != -122.4194 || loc.Altitude != 16 {
		t.Errorf("location %+v", loc)
	}
	if !loc.Timestamp.Equal(now) {
		t.Errorf("zero timestamp not replaced: %s", loc.Timestamp)
	}

	p.Set(KeyGPSAltitude, "high")
	if _, ok = ParseLocation(p, now); ok {
		t.Error("malformed altitude accepted")
	}

	p.Set(KeyGPSAltitude, "16")
	p.Remove(KeyGPSTimestamp)
	if _, ok = ParseLocation(p, now); ok {
		t.Error("missing timestamp accepted")
	}
}
