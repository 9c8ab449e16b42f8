package screen

import "image"

// CropBorders trims black letterboxing around the content.
// If both the top-left and bottom-right pixels carry content the frame is returned as is.
// An all-black frame is also returned unchanged, never an empty one.
func CropBorders(img *image.RGBA) *image.RGBA {
	b := img.Bounds()
	if b.Empty() {
		return img
	}
	if !black(img, b.Min.X, b.Min.Y) && !black(img, b.Max.X-1, b.Max.Y-1) {
		return img
	}

	minX, minY := b.Max.X, b.Max.Y
	maxX, maxY := b.Min.X-1, b.Min.Y-1
	for y := b.Min.Y; y < b.Max.Y; y++ {
		row := img.Pix[img.PixOffset(b.Min.X, y) : img.PixOffset(b.Max.X-1, y)+4]
		first := -1
		last := -1
		for i := 0; i < len(row); i += 4 {
			if row[i]|row[i+1]|row[i+2] != 0 {
				if first < 0 {
					first = i / 4
				}
				last = i / 4
			}
		}
		if first < 0 {
			continue
		}
		minY = min(minY, y)
		maxY = y
		minX = min(minX, b.Min.X+first)
		maxX = max(maxX, b.Min.X+last)
	}
	if maxY < minY {
		return img
	}

	content := image.Rect(minX, minY, maxX+1, maxY+1)
	if content == b {
		return img
	}
	return img.SubImage(content).(*image.RGBA)
}

func black(img *image.RGBA, x, y int) bool {
	i := img.PixOffset(x, y)
	return img.Pix[i]|img.Pix[i+1]|img.Pix[i+2] == 0
}
