package apple

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"sync"
)

type placeholder struct {
	name   string
	width  int
	height int
}

var placeholders = []placeholder{
	{name: "icon.png", width: 29, height: 29},
	{name: "icon@2x.png", width: 58, height: 58},
	{name: "logo.png", width: 160, height: 50},
	{name: "logo@2x.png", width: 320, height: 100},
}

var (
	placeholderOnce  sync.Once
	placeholderFiles map[string][]byte
	placeholderErr   error
)

// placeholderImages renders the solid-color art used when a program has no
// custom artwork. The result is shared and must not be mutated.
func placeholderImages() (map[string][]byte, error) {
	placeholderOnce.Do(func() {
		files := make(map[string][]byte, len(placeholders))
		fill := color.RGBA{R: 33, G: 37, B: 41, A: 255}
		for _, ph := range placeholders {
			img := image.NewRGBA(image.Rect(0, 0, ph.width, ph.height))
			for y := 0; y < ph.height; y++ {
				for x := 0; x < ph.width; x++ {
					img.SetRGBA(x, y, fill)
				}
			}
			var buf bytes.Buffer
			if err := png.Encode(&buf, img); err != nil {
				placeholderErr = err
				return
			}
			files[ph.name] = buf.Bytes()
		}
		placeholderFiles = files
	})
	return placeholderFiles, placeholderErr
}
