package display

import (
	"image"

	"github.com/kbinani/screenshot"
)

// Screenshot enumerates displays through github.com/kbinani/screenshot.
type Screenshot struct{}

func (Screenshot) NumDisplays() int { return screenshot.NumActiveDisplays() }

func (Screenshot) DisplayBounds(i int) image.Rectangle { return screenshot.GetDisplayBounds(i) }
