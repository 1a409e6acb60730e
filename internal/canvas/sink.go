package canvas

import (
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
)

// PNGSink writes each frame to a PNG file, replacing it atomically
type PNGSink struct {
	Path string
}

// WriteFrame implements FrameSink
func (s *PNGSink) WriteFrame(frame *image.RGBA) error {
	tmp, err := os.CreateTemp(filepath.Dir(s.Path), ".frame-*.png")
	if err != nil {
		return fmt.Errorf("create temp frame: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := png.Encode(tmp, frame); err != nil {
		tmp.Close()
		return fmt.Errorf("encode frame: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close frame: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.Path); err != nil {
		return fmt.Errorf("rename frame: %w", err)
	}
	return nil
}
