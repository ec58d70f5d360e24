package api

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"

	"github.com/loqalabs/loqa-voicelab/internal/audio"
	"github.com/loqalabs/loqa-voicelab/internal/synthesis"
)

// writeWAV streams audio as 16-bit mono PCM. The encoder needs a seekable
// sink to patch the header, so the file is staged on disk first.
func writeWAV(w http.ResponseWriter, a synthesis.NormalizedAudio) error {
	tmp, err := os.CreateTemp("", "voicelab-*.wav")
	if err != nil {
		respondError(w, http.StatusInternalServerError, "encode audio failed")
		return fmt.Errorf("create temp wav: %w", err)
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	if err := audio.WriteWAV(tmp, a.SampleRate, a.Samples); err != nil {
		respondError(w, http.StatusInternalServerError, "encode audio failed")
		return err
	}
	size, err := tmp.Seek(0, io.SeekEnd)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "encode audio failed")
		return err
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		respondError(w, http.StatusInternalServerError, "encode audio failed")
		return err
	}

	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	w.WriteHeader(http.StatusOK)
	_, err = io.Copy(w, tmp)
	return err
}
