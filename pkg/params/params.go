// Package params is the camera parameter store: a flat string map of the
// client-visible keys plus validation into typed Settings.
package params

import (
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"camhal/pkg/types"
	"camhal/pkg/utils"
)

var logger *zap.SugaredLogger

func init() {
	logger = utils.GetLogger().Named("params")
}

const (
	KeyPreviewSize          = "preview-size"
	KeyPreviewFormat        = "preview-format"
	KeyPreviewFrameRate     = "preview-frame-rate"
	KeyPictureSize          = "picture-size"
	KeyPictureFormat        = "picture-format"
	KeyJpegQuality          = "jpeg-quality"
	KeyThumbnailWidth       = "jpeg-thumbnail-width"
	KeyThumbnailHeight      = "jpeg-thumbnail-height"
	KeyThumbnailQuality     = "jpeg-thumbnail-quality"
	KeyRotation             = "rotation"
	KeyGPSLatitude          = "gps-latitude"
	KeyGPSLongitude         = "gps-longitude"
	KeyGPSAltitude          = "gps-altitude"
	KeyGPSTimestamp         = "gps-timestamp"
	KeyEffect               = "effect"
	KeyWhiteBalance         = "whitebalance"
	KeyAntibanding          = "antibanding"
	KeyZoom                 = "zoom"
	KeyMaxZoom              = "max-zoom"
	KeyZoomSupported        = "zoom-supported"
	KeyZoomRatios           = "zoom-ratios"
	KeyFlashMode            = "flash-mode"
	KeyFocusMode            = "focus-mode"
	KeyPreviewSizeValues    = "preview-size-values"
	KeyPictureSizeValues    = "picture-size-values"
	KeyEffectValues         = "effect-values"
	KeyWhiteBalanceValues   = "whitebalance-values"
	KeyAntibandingValues    = "antibanding-values"
	KeyFlashModeValues      = "flash-mode-values"
	KeyFocusModeValues      = "focus-mode-values"
	KeyPreviewFormatValues  = "preview-format-values"
	KeyPreviewFrameRateVals = "preview-frame-rate-values"
)

// Parameters maps parameter keys to their string values.
type Parameters map[string]string

func New() Parameters {
	return make(Parameters)
}

func (p Parameters) Get(key string) (string, bool) {
	v, ok := p[key]
	return v, ok
}

func (p Parameters) Set(key, value string) {
	if strings.ContainsAny(key, "=;") || strings.ContainsAny(value, "=;") {
		logger.Warnf("parameter %q=%q contains a reserved character, ignored", key, value)
		return
	}
	p[key] = value
}

func (p Parameters) SetInt(key string, value int) {
	p.Set(key, strconv.Itoa(value))
}

// GetInt returns the integer value of key, or -1 if it is absent or not a
// number.
func (p Parameters) GetInt(key string) int {
	v, ok := p[key]
	if !ok {
		return NotFound
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return NotFound
	}
	return n
}

func (p Parameters) Remove(key string) {
	delete(p, key)
}

func (p Parameters) Clone() Parameters {
	return maps.Clone(p)
}

func (p Parameters) SetPreviewSize(size types.Size) {
	p.Set(KeyPreviewSize, size.String())
}

func (p Parameters) PreviewSize() (types.Size, error) {
	return types.ParseSize(p[KeyPreviewSize])
}

func (p Parameters) SetPictureSize(size types.Size) {
	p.Set(KeyPictureSize, size.String())
}

func (p Parameters) PictureSize() (types.Size, error) {
	return types.ParseSize(p[KeyPictureSize])
}

// Flatten encodes the parameters as "k1=v1;k2=v2" with sorted keys.
func (p Parameters) Flatten() string {
	keys := slices.Sorted(maps.Keys(p))
	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(';')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(p[k])
	}
	return b.String()
}

// Unflatten decodes the Flatten format. Pairs without '=' are skipped.
func Unflatten(s string) Parameters {
	p := New()
	for _, pair := range strings.Split(s, ";") {
		k, v, ok := strings.Cut(pair, "=")
		if !ok || k == "" {
			continue
		}
		p[k] = v
	}
	return p
}

func (p Parameters) String() string {
	return fmt.Sprintf("params(%d): %s", len(p), p.Flatten())
}
