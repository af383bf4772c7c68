//go:build tesseract

package main

import (
	"io"

	"github.com/GriffinCanCode/live-translator/backend/platform/internal/recognition"
	"github.com/GriffinCanCode/live-translator/backend/platform/internal/recognition/tesseract"
)

func newTesseract(languages []string) (recognition.Backend, io.Closer, error) {
	b, err := tesseract.New(languages...)
	if err != nil {
		return nil, nil, err
	}
	return b, b, nil
}
