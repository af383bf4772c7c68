//go:build !tesseract

package main

import (
	"io"

	apperrors "github.com/GriffinCanCode/live-translator/backend/platform/internal/errors"
	"github.com/GriffinCanCode/live-translator/backend/platform/internal/recognition"
)

func newTesseract([]string) (recognition.Backend, io.Closer, error) {
	return nil, nil, apperrors.New(apperrors.InvalidConfiguration,
		"OCR_BACKEND=tesseract requires a build with -tags tesseract")
}
