package params

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"camhal/pkg/types"
)

var ErrInvalid = errors.New("invalid parameter")

// ValidationError reports a rejected parameter value.
type ValidationError struct {
	Key    string
	Value  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s %q: %s", e.Key, e.Value, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalid
}

const (
	DefaultFrameRate        = 15
	DefaultJpegQuality      = 100
	DefaultThumbnailQuality = 85
	DefaultMaxZoom          = 4
	DefaultZoomRatios       = "100,150,200,250,300"
)

var (
	DefaultPreviewSize   = types.Size{Width: 320, Height: 240}
	DefaultPictureSize   = types.Size{Width: 1600, Height: 1200}
	DefaultThumbnailSize = types.Size{Width: 192, Height: 144}
)

// DefaultOptions tune the initial parameter set.
type DefaultOptions struct {
	PreviewSize types.Size
	PictureSize types.Size
	// Effect is the initial value of the effect key. Historically it was
	// not a valid table name, which left the effect untouched until the
	// client picked one.
	Effect string
}

// Defaults builds the initial parameter set, including the advertised
// supported values.
func Defaults(opts DefaultOptions) Parameters {
	if opts.PreviewSize == (types.Size{}) {
		opts.PreviewSize = DefaultPreviewSize
	}
	if opts.PictureSize == (types.Size{}) {
		opts.PictureSize = DefaultPictureSize
	}
	if opts.Effect == "" {
		opts.Effect = "none"
	}

	p := New()
	p.SetPreviewSize(opts.PreviewSize)
	p.SetInt(KeyPreviewFrameRate, DefaultFrameRate)
	p.Set(KeyPreviewFormat, "yuv420sp")
	p.Set(KeyPictureFormat, "jpeg")
	p.SetInt(KeyJpegQuality, DefaultJpegQuality)
	p.SetInt(KeyThumbnailWidth, DefaultThumbnailSize.Width)
	p.SetInt(KeyThumbnailHeight, DefaultThumbnailSize.Height)
	p.SetInt(KeyThumbnailQuality, DefaultThumbnailQuality)
	p.SetPictureSize(opts.PictureSize)
	p.Set(KeyAntibanding, "off")
	p.Set(KeyEffect, opts.Effect)
	p.Set(KeyWhiteBalance, "auto")
	p.Set(KeyFlashMode, "off")
	p.Set(KeyFocusMode, "fixed")

	p.Set(KeyAntibandingValues, Antibandings.Values())
	p.Set(KeyEffectValues, Effects.Values())
	p.Set(KeyWhiteBalanceValues, WhiteBalances.Values())
	p.Set(KeyPictureSizeValues, PictureSizes.Values())
	p.Set(KeyPreviewSizeValues, previewSizeValues)
	p.Set(KeyFlashModeValues, "off")
	p.Set(KeyFocusModeValues, "fixed")
	p.Set(KeyPreviewFormatValues, "yuv420sp")
	p.Set(KeyPreviewFrameRateVals, "24,15,10")

	p.Set(KeyZoomSupported, "true")
	p.SetInt(KeyZoom, 0)
	p.SetInt(KeyMaxZoom, DefaultMaxZoom)
	p.Set(KeyZoomRatios, DefaultZoomRatios)

	return p
}

// Location is the GPS position embedded in captured pictures.
type Location struct {
	Latitude  float64
	Longitude float64
	Altitude  int16
	Timestamp time.Time
}

// Settings is the validated, typed view of a parameter set. Enumerated
// values absent from their table are NotFound and left unapplied.
type Settings struct {
	Preview   types.Size
	Picture   types.Size
	Thumbnail types.Size

	JpegQuality      int
	ThumbnailQuality int
	Rotation         int

	Effect       int32
	WhiteBalance int32
	Antibanding  int32
	PictureShot  int32
	Zoom         int
}

// FrameSize is the byte size of one YUV 4:2:0 semi-planar preview frame.
func (s Settings) FrameSize() int {
	return s.Preview.Area() * 3 / 2
}

// RawSize is the byte size of one YUV 4:2:0 semi-planar picture.
func (s Settings) RawSize() int {
	return s.Picture.Area() * 3 / 2
}

// ZoomValue is the device zoom value requested by the zoom key.
func (s Settings) ZoomValue() int32 {
	return ZoomStep(s.PictureShot) * int32(s.Zoom)
}

// Validate checks p and returns its typed view. Preview and picture sizes
// must come from the supported lists; missing thumbnail dimensions fall back
// to the defaults.
func Validate(p Parameters) (Settings, error) {
	var s Settings

	raw := p[KeyPreviewSize]
	preview, err := types.ParseSize(raw)
	if err != nil {
		return s, &ValidationError{Key: KeyPreviewSize, Value: raw, Reason: err.Error()}
	}
	if !IsPreviewSize(preview) {
		return s, &ValidationError{Key: KeyPreviewSize, Value: raw, Reason: "unsupported preview size"}
	}
	s.Preview = preview

	raw = p[KeyPictureSize]
	picture, err := types.ParseSize(raw)
	if err != nil {
		return s, &ValidationError{Key: KeyPictureSize, Value: raw, Reason: err.Error()}
	}
	s.PictureShot = PictureSizes.Lookup(picture.String())
	if s.PictureShot == NotFound {
		return s, &ValidationError{Key: KeyPictureSize, Value: raw, Reason: "unsupported picture size"}
	}
	s.Picture = picture

	s.Thumbnail = types.Size{Width: p.GetInt(KeyThumbnailWidth), Height: p.GetInt(KeyThumbnailHeight)}
	if s.Thumbnail.Width < 0 {
		logger.Warnf("%s is not specified: defaulting to %d", KeyThumbnailWidth, DefaultThumbnailSize.Width)
		s.Thumbnail.Width = DefaultThumbnailSize.Width
	}
	if s.Thumbnail.Height < 0 {
		logger.Warnf("%s is not specified: defaulting to %d", KeyThumbnailHeight, DefaultThumbnailSize.Height)
		s.Thumbnail.Height = DefaultThumbnailSize.Height
	}

	s.JpegQuality = p.GetInt(KeyJpegQuality)
	if s.JpegQuality < 1 || s.JpegQuality > 100 {
		return s, &ValidationError{Key: KeyJpegQuality, Value: p[KeyJpegQuality], Reason: "quality outside [1, 100]"}
	}
	s.ThumbnailQuality = p.GetInt(KeyThumbnailQuality)
	s.Rotation = p.GetInt(KeyRotation)

	s.Effect = Effects.Lookup(p[KeyEffect])
	s.WhiteBalance = WhiteBalances.Lookup(p[KeyWhiteBalance])
	s.Antibanding = Antibandings.Lookup(p[KeyAntibanding])

	s.Zoom = p.GetInt(KeyZoom)
	if _, ok := p[KeyZoom]; ok && s.Zoom < 0 {
		return s, &ValidationError{Key: KeyZoom, Value: p[KeyZoom], Reason: "not a non-negative integer"}
	}

	return s, nil
}

// ParseLocation reads the gps-* keys. ok is true only when timestamp,
// latitude, longitude and altitude are all present and parse. A timestamp of
// zero means now, but a missing one still makes ok false.
func ParseLocation(p Parameters, now time.Time) (loc Location, ok bool) {
	ok = true
	loc.Timestamp = now

	if v, found := p[KeyGPSTimestamp]; found {
		ts, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			logger.Errorf("GPS timestamp %s could not be parsed as a long", v)
			ok = false
		} else if ts != 0 {
			loc.Timestamp = time.Unix(ts, 0)
		}
	} else {
		ok = false
	}

	if v, found := p[KeyGPSAltitude]; found {
		alt, err := strconv.ParseInt(v, 10, 16)
		if err != nil {
			logger.Errorf("GPS altitude %s could not be parsed as a short", v)
			ok = false
		}
		loc.Altitude = int16(alt)
	} else {
		ok = false
	}

	for _, f := range []struct {
		key string
		dst *float64
	}{
		{KeyGPSLatitude, &loc.Latitude},
		{KeyGPSLongitude, &loc.Longitude},
	} {
		v, found := p[f.key]
		if !found {
			logger.Infof("%s not specified, location not embedded", f.key)
			ok = false
			continue
		}
		n, err := strconv.ParseFloat(v, 64)
		if err != nil {
			logger.Errorf("%s %s could not be parsed as a double", f.key, v)
			ok = false
			continue
		}
		*f.dst = n
	}

	return loc, ok
}
