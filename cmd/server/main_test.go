package main

import (
	"testing"

	"github.com/GriffinCanCode/live-translator/backend/platform/internal/changedetect"
	"github.com/GriffinCanCode/live-translator/backend/platform/internal/config"
	"github.com/GriffinCanCode/live-translator/backend/platform/internal/grpcclient"
)

func TestFingerprinter(t *testing.T) {
	cfg := &config.Config{HashMode: config.HashModePerceptual, PerceptualMaxDistance: 7, DownsampleRate: 2}
	if h, ok := fingerprinter(cfg).(changedetect.PerceptualHasher); !ok || h.MaxDistance != 7 {
		t.Errorf("perceptual mode = %#v", fingerprinter(cfg))
	}

	cfg.HashMode = config.HashModeExact
	if _, ok := fingerprinter(cfg).(changedetect.StrideHasher); !ok {
		t.Errorf("exact mode = %#v, want StrideHasher", fingerprinter(cfg))
	}
}

func TestRecognitionBackendRemote(t *testing.T) {
	client, err := grpcclient.New("localhost:0", grpcclient.Options{})
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	b, closer, err := recognitionBackend(&config.Config{OCRBackend: config.OCRBackendRemote}, client)
	if err != nil {
		t.Fatalf("recognitionBackend error = %v", err)
	}
	if b != client || closer != nil {
		t.Errorf("remote backend = (%v, %v), want the inference client and no closer", b, closer)
	}
}
