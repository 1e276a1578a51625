package encoder

import (
	"bytes"
	"errors"
	"image/jpeg"
	"sync"
	"testing"
	"time"

	"camhal/pkg/params"
	"camhal/pkg/utils"
)

const (
	tagOrientation = 0x0112
	tagGPSVersion  = 0x0000
)

func grayNV21(w, h int) []byte {
	raw := make([]byte, utils.YUV420SPSize(w, h))
	for i := range raw {
		raw[i] = 128
	}
	return raw
}

type collector struct {
	mu     sync.Mutex
	frags  int
	data   bytes.Buffer
	status chan Status
}

func newCollector() *collector {
	return &collector{status: make(chan Status, 1)}
}

func (c *collector) handler() Handler {
	return Handler{
		Fragment: func(p []byte) {
			c.mu.Lock()
			defer c.mu.Unlock()
			c.frags++
			c.data.Write(p)
		},
		Done: func(s Status) { c.status <- s },
	}
}

func TestSoftwareEncode(t *testing.T) {
	enc := NewSoftware(512)
	if err := enc.Init(); err != nil {
		t.Fatal(err)
	}
	defer enc.Close()
	if err := enc.SetMainImageQuality(90); err != nil {
		t.Fatal(err)
	}

	c := newCollector()
	if err := enc.Start(Job{Raw: grayNV21(64, 48), Width: 64, Height: 48}, c.handler()); err != nil {
		t.Fatal(err)
	}
	select {
	case s := <-c.status:
		if s != StatusDone {
			t.Fatalf("status = %s", s)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("encode did not finish")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.frags < 1 {
		t.Fatal("no fragments")
	}
	img, err := jpeg.Decode(&c.data)
	if err != nil {
		t.Fatal(err)
	}
	if b := img.Bounds(); b.Dx() != 64 || b.Dy() != 48 {
		t.Errorf("decoded %v", b)
	}
}

func TestSoftwareRejects(t *testing.T) {
	enc := NewSoftware(0)
	c := newCollector()
	job := Job{Raw: grayNV21(16, 16), Width: 16, Height: 16}
	if err := enc.Start(job, c.handler()); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("err = %v, want ErrNotInitialized", err)
	}
	_ = enc.Init()
	if err := enc.Start(Job{Raw: make([]byte, 10), Width: 16, Height: 16}, c.handler()); err == nil {
		t.Error("short raw buffer accepted")
	}
	if err := enc.SetMainImageQuality(0); err == nil {
		t.Error("quality 0 accepted")
	}
	_ = enc.Close()
	select {
	case <-c.status:
		t.Error("callback fired for a job that did not start")
	default:
	}
}

func encodeSample(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	img := utils.DecodeNV21(grayNV21(32, 32), 32, 32)
	if err := utils.EncodeJPEG(img, &buf, 80); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestEmbed(t *testing.T) {
	src := encodeSample(t)
	buf := make([]byte, len(src)+1024)
	copy(buf, src)

	meta := Metadata{
		Rotation: 90,
		Time:     time.Date(2024, 5, 1, 12, 30, 0, 0, time.UTC),
		Location: &params.Location{
			Latitude:  -33.8688,
			Longitude: 151.2093,
			Altitude:  58,
			Timestamp: time.Date(2024, 5, 1, 2, 30, 0, 0, time.UTC),
		},
	}
	n, err := Embed(buf, len(src), meta)
	if err != nil {
		t.Fatal(err)
	}
	out := buf[:n]
	if out[2] != 0xff || out[3] != 0xe1 || string(out[6:12]) != "Exif\x00\x00" {
		t.Fatalf("no APP1 after SOI: % x", out[:12])
	}
	segLen := int(be.Uint16(out[4:]))
	if n != len(src)+segLen+2 {
		t.Errorf("length %d, want %d", n, len(src)+segLen+2)
	}

	tiff := out[12:]
	if string(tiff[:2]) != "MM" {
		t.Fatalf("byte order %q", tiff[:2])
	}
	ifd := tiff[8:]
	count := be.Uint16(ifd)
	if count != 3 {
		t.Fatalf("ifd0 entries = %d, want 3", count)
	}
	if tag := be.Uint16(ifd[2:]); tag != tagOrientation {
		t.Errorf("first tag %#x", tag)
	}
	if v := be.Uint16(ifd[2+8:]); v != 6 {
		t.Errorf("orientation = %d, want 6", v)
	}
	gpsOff := be.Uint32(ifd[2+2*12+8:])
	if tag := be.Uint16(tiff[gpsOff+2:]); tag != tagGPSVersion {
		t.Errorf("gps ifd does not start with the version tag: %#x", tag)
	}
	latRef := tiff[gpsOff+2+12+8]
	if latRef != 'S' {
		t.Errorf("latitude ref %q", latRef)
	}

	if _, err = jpeg.Decode(bytes.NewReader(out)); err != nil {
		t.Errorf("jpeg with exif does not decode: %v", err)
	}
}

func TestEmbedErrors(t *testing.T) {
	src := encodeSample(t)
	buf := append([]byte(nil), src...)
	if n, err := Embed(buf, len(src), Metadata{Rotation: 0}); err == nil || n != len(src) {
		t.Errorf("embed without room: n=%d err=%v", n, err)
	}
	if !bytes.Equal(buf, src) {
		t.Error("buffer modified on failure")
	}
	if _, err := Embed([]byte{1, 2, 3}, 3, Metadata{}); !errors.Is(err, ErrNotJPEG) {
		t.Errorf("err = %v, want ErrNotJPEG", err)
	}
}

func TestAPP1(t *testing.T) {
	seg, err := APP1(Metadata{Rotation: 180})
	if err != nil {
		t.Fatal(err)
	}
	if seg[0] != 0xff || seg[1] != 0xe1 || int(be.Uint16(seg[2:]))+2 != len(seg) {
		t.Fatalf("segment header % x", seg[:4])
	}
	tiff := seg[10:]
	if n := be.Uint16(tiff[8:]); n != 1 {
		t.Errorf("ifd0 entries = %d, want 1", n)
	}
	if v := be.Uint16(tiff[8+2+8:]); v != 3 {
		t.Errorf("orientation = %d, want 3", v)
	}
}

func TestAPP1WithoutMetadata(t *testing.T) {
	seg, err := APP1(Metadata{Rotation: -1})
	if err != nil || seg != nil {
		t.Errorf("segment % x, err %v", seg, err)
	}

	src := encodeSample(t)
	buf := make([]byte, len(src)+1024)
	copy(buf, src)
	n, err := Embed(buf, len(src), Metadata{Rotation: -1})
	if err != nil || n != len(src) || !bytes.Equal(buf[:n], src) {
		t.Errorf("embed of nothing: n=%d err=%v", n, err)
	}
}

func TestEmbedReplacesExif(t *testing.T) {
	src := encodeSample(t)
	buf := make([]byte, len(src)+2048)
	copy(buf, src)

	n, err := Embed(buf, len(src), Metadata{Rotation: 90})
	if err != nil {
		t.Fatal(err)
	}
	n, err = Embed(buf, n, Metadata{Rotation: 270})
	if err != nil {
		t.Fatal(err)
	}
	out := buf[:n]
	if bytes.Count(out, []byte("Exif\x00\x00")) != 1 {
		t.Error("exif segment duplicated")
	}
	if v := be.Uint16(out[12+8+2+8:]); v != 8 {
		t.Errorf("orientation = %d, want 8", v)
	}
	if _, err = jpeg.Decode(bytes.NewReader(out)); err != nil {
		t.Errorf("jpeg does not decode: %v", err)
	}
}
