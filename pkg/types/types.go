package types

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

type Size struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

func (s Size) String() string {
	return fmt.Sprintf("%dx%d", s.Width, s.Height)
}

func (s Size) Area() int {
	return s.Width * s.Height
}

// ParseSize parses "WIDTHxHEIGHT".
func ParseSize(str string) (Size, error) {
	w, h, ok := strings.Cut(str, "x")
	if !ok {
		return Size{}, fmt.Errorf("size %q is not WIDTHxHEIGHT", str)
	}
	width, err := strconv.Atoi(w)
	if err != nil {
		return Size{}, fmt.Errorf("size %q: bad width: %w", str, err)
	}
	height, err := strconv.Atoi(h)
	if err != nil {
		return Size{}, fmt.Errorf("size %q: bad height: %w", str, err)
	}

	return Size{Width: width, Height: height}, nil
}

// MsgType is the client message bitmask.
type MsgType int32

const (
	MsgError           MsgType = 0x001
	MsgShutter         MsgType = 0x002
	MsgFocus           MsgType = 0x004
	MsgZoom            MsgType = 0x008
	MsgPreviewFrame    MsgType = 0x010
	MsgVideoFrame      MsgType = 0x020
	MsgPostviewFrame   MsgType = 0x040
	MsgRawImage        MsgType = 0x080
	MsgCompressedImage MsgType = 0x100
	MsgAll             MsgType = 0xFFFF
)

var msgNames = []struct {
	t    MsgType
	name string
}{
	{MsgError, "error"},
	{MsgShutter, "shutter"},
	{MsgFocus, "focus"},
	{MsgZoom, "zoom"},
	{MsgPreviewFrame, "preview-frame"},
	{MsgVideoFrame, "video-frame"},
	{MsgPostviewFrame, "postview-frame"},
	{MsgRawImage, "raw-image"},
	{MsgCompressedImage, "compressed-image"},
}

func (m MsgType) String() string {
	var names []string
	for _, n := range msgNames {
		if m&n.t != 0 {
			names = append(names, n.name)
		}
	}
	if len(names) == 0 {
		return fmt.Sprintf("msg(%#x)", int32(m))
	}

	return strings.Join(names, "|")
}

type File struct {
	Name    string    `json:"name"`
	Size    string    `json:"size"`
	ModTime time.Time `json:"modTime"`
}
