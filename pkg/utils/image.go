package utils

import (
	"image"
	"image/jpeg"
	"io"
)

// YUV420SPSize is the byte size of a width x height NV21 frame.
func YUV420SPSize(width, height int) int {
	return width * height * 3 / 2
}

// DecodeNV21 wraps a YUV 4:2:0 semi-planar frame (Y plane followed by
// interleaved V/U samples) into an image.YCbCr.
func DecodeNV21(data []byte, width, height int) *image.YCbCr {
	img := image.NewYCbCr(image.Rect(0, 0, width, height), image.YCbCrSubsampleRatio420)
	ySize := width * height
	copy(img.Y, data[:ySize])

	vu := data[ySize:]
	cw, ch := (width+1)/2, (height+1)/2
	for y := 0; y < ch; y++ {
		row := vu[y*width:]
		for x := 0; x < cw; x++ {
			i := y*img.CStride + x
			img.Cr[i] = row[2*x]
			img.Cb[i] = row[2*x+1]
		}
	}

	return img
}

// YUYVToNV21 converts a packed 4:2:2 frame into dst, which must hold
// YUV420SPSize(width, height) bytes. Chroma is taken from even rows.
func YUYVToNV21(dst, src []byte, width, height int) {
	ySize := width * height
	stride := width * 2
	for y := 0; y < height; y++ {
		in := src[y*stride:]
		out := dst[y*width:]
		for x := 0; x < width; x++ {
			out[x] = in[2*x]
		}
		if y%2 != 0 {
			continue
		}
		vu := dst[ySize+(y/2)*width:]
		for x := 0; x+1 < width; x += 2 {
			vu[x] = in[2*x+3]
			vu[x+1] = in[2*x+1]
		}
	}
}

// ScaleNV21 resamples src into dst using nearest neighbour sampling.
func ScaleNV21(dst []byte, dw, dh int, src []byte, sw, sh int) {
	dySize, sySize := dw*dh, sw*sh
	for y := 0; y < dh; y++ {
		sy := y * sh / dh
		for x := 0; x < dw; x++ {
			dst[y*dw+x] = src[sy*sw+x*sw/dw]
		}
	}
	for y := 0; y < dh/2; y++ {
		sy := y * sh / dh
		for x := 0; x+1 < dw; x += 2 {
			sx := (x * sw / dw) &^ 1
			dst[dySize+y*dw+x] = src[sySize+sy*sw+sx]
			dst[dySize+y*dw+x+1] = src[sySize+sy*sw+sx+1]
		}
	}
}

func EncodeJPEG(img image.Image, dst io.Writer, quality int) error {
	return jpeg.Encode(dst, img, &jpeg.Options{Quality: quality})
}
