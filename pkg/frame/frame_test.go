package frame

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClone_IsDeep(t *testing.T) {
	f := Fill(2, 2, 10, 20, 30)
	c := f.Clone()
	c.Pix[0] = 99

	assert.Equal(t, uint8(10), f.Pix[0])
	assert.Equal(t, f.Width, c.Width)
	assert.Equal(t, f.Channels, c.Channels)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		f       Frame
		wantErr bool
	}{
		{"bgr ok", New(4, 3, 3), false},
		{"gray ok", New(4, 3, 1), false},
		{"bgra ok", New(4, 3, 4), false},
		{"short buffer", Frame{Width: 4, Height: 3, Channels: 3, Pix: make([]byte, 10)}, true},
		{"two channels", Frame{Width: 1, Height: 1, Channels: 2, Pix: make([]byte, 2)}, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.f.Validate()
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLuma(t *testing.T) {
	tests := []struct {
		name    string
		b, g, r uint8
		want    uint8
	}{
		{"white", 255, 255, 255, 255},
		{"black", 0, 0, 0, 0},
		{"pure red", 0, 0, 255, 76},
		{"pure green", 0, 255, 0, 150},
		{"pure blue", 255, 0, 0, 29},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := Fill(1, 1, tc.b, tc.g, tc.r)
			assert.Equal(t, tc.want, f.Luma(0))
		})
	}
}

func TestFromImage_SwapsToBGR(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 2, 1))
	img.Set(0, 0, color.RGBA{R: 200, G: 100, B: 50, A: 255})
	img.Set(1, 0, color.RGBA{R: 1, G: 2, B: 3, A: 255})

	f := FromImage(img)
	require.NoError(t, f.Validate())
	assert.Equal(t, []byte{50, 100, 200, 3, 2, 1}, f.Pix)
}

func TestBGR_ExpandsGray(t *testing.T) {
	f := Frame{Width: 2, Height: 1, Channels: 1, Pix: []byte{7, 9}}
	out := f.BGR()
	assert.Equal(t, 3, out.Channels)
	assert.Equal(t, []byte{7, 7, 7, 9, 9, 9}, out.Pix)
}

func TestEmpty(t *testing.T) {
	assert.True(t, Frame{}.Empty())
	assert.False(t, Fill(1, 1, 0, 0, 0).Empty())
}
