package encoder

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"time"

	exif "github.com/dsoprea/go-exif/v3"
	exifcommon "github.com/dsoprea/go-exif/v3/common"
	jis "github.com/dsoprea/go-jpeg-image-structure/v2"

	"camhal/pkg/params"
)

// Metadata is embedded into a finished JPEG as an EXIF APP1 segment.
type Metadata struct {
	// Rotation in degrees; values other than 0, 90, 180 and 270 are not
	// recorded.
	Rotation int
	Time     time.Time
	Location *params.Location
}

const (
	exifDateTimeForm = "2006:01:02 15:04:05"
	gpsIfdPath       = "IFD/GPSInfo"
)

var ErrNotJPEG = errors.New("data does not start with a JPEG SOI marker")

var (
	exifPrefix = []byte("Exif\x00\x00")
	be         = exifcommon.EncodeDefaultByteOrder
)

func orientation(rotation int) (uint16, bool) {
	switch rotation {
	case 0:
		return 1, true
	case 90:
		return 6, true
	case 180:
		return 3, true
	case 270:
		return 8, true
	default:
		return 0, false
	}
}

func dms(deg float64) []exifcommon.Rational {
	deg = math.Abs(deg)
	d := math.Floor(deg)
	m := math.Floor((deg - d) * 60)
	s := (deg - d - m/60) * 3600
	return []exifcommon.Rational{
		{Numerator: uint32(d), Denominator: 1},
		{Numerator: uint32(m), Denominator: 1},
		{Numerator: uint32(math.Round(s * 1000)), Denominator: 1000},
	}
}

type tagValue struct {
	name  string
	value any
}

func gpsTags(loc *params.Location) []tagValue {
	latRef, lonRef := "N", "E"
	if loc.Latitude < 0 {
		latRef = "S"
	}
	if loc.Longitude < 0 {
		lonRef = "W"
	}
	var altRef byte
	alt := int32(loc.Altitude)
	if alt < 0 {
		altRef, alt = 1, -alt
	}
	ts := loc.Timestamp.UTC()

	return []tagValue{
		{"GPSVersionID", []byte{2, 2, 0, 0}},
		{"GPSLatitudeRef", latRef},
		{"GPSLatitude", dms(loc.Latitude)},
		{"GPSLongitudeRef", lonRef},
		{"GPSLongitude", dms(loc.Longitude)},
		{"GPSAltitudeRef", []byte{altRef}},
		{"GPSAltitude", []exifcommon.Rational{{Numerator: uint32(alt), Denominator: 1}}},
		{"GPSTimeStamp", []exifcommon.Rational{
			{Numerator: uint32(ts.Hour()), Denominator: 1},
			{Numerator: uint32(ts.Minute()), Denominator: 1},
			{Numerator: uint32(ts.Second()), Denominator: 1},
		}},
		{"GPSDateStamp", ts.Format("2006:01:02")},
	}
}

func addTags(ib *exif.IfdBuilder, tags []tagValue) error {
	for _, t := range tags {
		if err := ib.AddStandardWithName(t.name, t.value); err != nil {
			return fmt.Errorf("exif tag %s: %w", t.name, err)
		}
	}
	return nil
}

// buildIfd returns the root IFD for meta, with the GPS IFD chained under
// it, or nil when there is nothing to record.
func buildIfd(meta Metadata) (*exif.IfdBuilder, error) {
	var tags []tagValue
	if o, ok := orientation(meta.Rotation); ok {
		tags = append(tags, tagValue{"Orientation", []uint16{o}})
	}
	if !meta.Time.IsZero() {
		tags = append(tags, tagValue{"DateTime", meta.Time.Format(exifDateTimeForm)})
	}
	if len(tags) == 0 && meta.Location == nil {
		return nil, nil
	}

	im, err := exifcommon.NewIfdMappingWithStandard()
	if err != nil {
		return nil, err
	}
	ib := exif.NewIfdBuilder(im, exif.NewTagIndex(), exifcommon.IfdStandardIfdIdentity, be)
	if err = addTags(ib, tags); err != nil {
		return nil, err
	}

	if meta.Location != nil {
		gps, err := exif.GetOrCreateIbFromRootIb(ib, gpsIfdPath)
		if err != nil {
			return nil, fmt.Errorf("gps ifd: %w", err)
		}
		if err = addTags(gps, gpsTags(meta.Location)); err != nil {
			return nil, err
		}
	}

	return ib, nil
}

func segment(ib *exif.IfdBuilder) ([]byte, error) {
	tiff, err := exif.NewIfdByteEncoder().EncodeToExif(ib)
	if err != nil {
		return nil, fmt.Errorf("encode exif: %w", err)
	}
	size := 2 + len(exifPrefix) + len(tiff)
	if size > math.MaxUint16 {
		return nil, fmt.Errorf("exif segment of %d bytes is too large", size)
	}

	seg := []byte{0xff, jis.MARKER_APP1, 0, 0}
	be.PutUint16(seg[2:], uint16(size))
	seg = append(seg, exifPrefix...)
	return append(seg, tiff...), nil
}

// APP1 builds the complete EXIF APP1 segment, marker included. It returns
// nil when meta records nothing.
func APP1(meta Metadata) ([]byte, error) {
	ib, err := buildIfd(meta)
	if err != nil || ib == nil {
		return nil, err
	}
	return segment(ib)
}

// Embed sets the EXIF segment for meta on the JPEG in buf[:n], rewriting
// the image in place, and returns the new length. A segment is inserted
// right after SOI when the image has none. buf is left untouched when the
// result would not fit.
func Embed(buf []byte, n int, meta Metadata) (int, error) {
	if n < 2 || n > len(buf) || buf[0] != 0xff || buf[1] != jis.MARKER_SOI {
		return n, ErrNotJPEG
	}
	ib, err := buildIfd(meta)
	if err != nil || ib == nil {
		return n, err
	}
	seg, err := segment(ib)
	if err != nil {
		return n, err
	}
	if n+len(seg) > len(buf) {
		return n, fmt.Errorf("exif segment of %d bytes does not fit: %d of %d used", len(seg), n, len(buf))
	}

	mc, err := jis.NewJpegMediaParser().ParseBytes(buf[:n])
	if err != nil {
		return n, fmt.Errorf("parse jpeg: %w", err)
	}
	sl, ok := mc.(*jis.SegmentList)
	if !ok {
		return n, fmt.Errorf("parse jpeg: unexpected media context %T", mc)
	}
	if err = sl.SetExif(ib); err != nil {
		return n, fmt.Errorf("set exif: %w", err)
	}

	var out bytes.Buffer
	out.Grow(n + len(seg))
	if err = sl.Write(&out); err != nil {
		return n, fmt.Errorf("write jpeg: %w", err)
	}
	if out.Len() > len(buf) {
		return n, fmt.Errorf("jpeg with exif of %d bytes does not fit into %d", out.Len(), len(buf))
	}
	copy(buf, out.Bytes())

	return out.Len(), nil
}
