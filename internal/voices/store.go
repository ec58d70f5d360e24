// Package voices serves voice identities from directories on disk. Each
// voice is a subdirectory holding reference clips (*.wav, *.mp3) and an
// optional latents.json with precomputed conditioning.
package voices

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/loqalabs/loqa-voicelab/internal/config"
	"github.com/loqalabs/loqa-voicelab/internal/synthesis"
)

const latentsFile = "latents.json"

var ErrVoiceNotFound = errors.New("voice not found")

type conditioning struct {
	clips   []synthesis.Clip
	latents *synthesis.Latents
}

// Store implements synthesis.VoiceStore.
type Store struct {
	dirs  []string
	cache *lru.Cache[string, conditioning]
	log   *slog.Logger
}

func NewStore(cfg config.VoicesConfig, log *slog.Logger) (*Store, error) {
	s := &Store{
		dirs: append([]string(nil), cfg.Directories...),
		log:  log.With(slog.String("component", "voice-store")),
	}
	if cfg.CacheSize > 0 {
		cache, err := lru.New[string, conditioning](cfg.CacheSize)
		if err != nil {
			return nil, fmt.Errorf("create voice cache: %w", err)
		}
		s.cache = cache
	}
	return s, nil
}

// ListVoices returns every voice directory name, sorted. When two roots
// hold the same name the first root wins.
func (s *Store) ListVoices(ctx context.Context) ([]string, error) {
	seen := make(map[string]struct{})
	var names []string
	for _, dir := range s.dirs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		entries, err := os.ReadDir(dir)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				s.log.Debug("voice directory missing", slog.String("dir", dir))
				continue
			}
			return nil, fmt.Errorf("list voices in %s: %w", dir, err)
		}
		for _, entry := range entries {
			name := entry.Name()
			if !entry.IsDir() || strings.HasPrefix(name, ".") {
				continue
			}
			if _, ok := seen[name]; ok {
				continue
			}
			seen[name] = struct{}{}
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// LoadVoice returns the clips and latents for names. Several names are
// merged: clips are concatenated and latents averaged when every voice has them.
func (s *Store) LoadVoice(ctx context.Context, names []string) ([]synthesis.Clip, *synthesis.Latents, error) {
	if len(names) == 0 {
		return nil, nil, errors.New("no voice requested")
	}
	for _, name := range names {
		if !validName(name) {
			return nil, nil, fmt.Errorf("%w: %q", ErrVoiceNotFound, name)
		}
	}
	// valid names never contain a slash
	key := strings.Join(names, "/")
	if s.cache != nil {
		if cached, ok := s.cache.Get(key); ok {
			c := cached.clone()
			return c.clips, c.latents, nil
		}
	}

	var (
		clips   []synthesis.Clip
		latents []*synthesis.Latents
	)
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		c, err := s.loadOne(name)
		if err != nil {
			return nil, nil, err
		}
		clips = append(clips, c.clips...)
		latents = append(latents, c.latents)
	}
	merged := conditioning{clips: clips, latents: averageLatents(latents)}
	if s.cache != nil {
		s.cache.Add(key, merged)
		merged = merged.clone()
	}
	return merged.clips, merged.latents, nil
}

// clone copies the sample buffers so callers can never alter a cache entry.
func (c conditioning) clone() conditioning {
	out := conditioning{clips: make([]synthesis.Clip, len(c.clips))}
	for i, clip := range c.clips {
		out.clips[i] = synthesis.Clip{SampleRate: clip.SampleRate, Samples: slices.Clone(clip.Samples)}
	}
	if c.latents != nil {
		out.latents = &synthesis.Latents{
			Autoregressive: slices.Clone(c.latents.Autoregressive),
			Diffusion:      slices.Clone(c.latents.Diffusion),
		}
	}
	return out
}

func (s *Store) loadOne(name string) (conditioning, error) {
	dir, err := s.find(name)
	if err != nil {
		return conditioning{}, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return conditioning{}, fmt.Errorf("read voice %s: %w", name, err)
	}

	var out conditioning
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		var clip synthesis.Clip
		switch strings.ToLower(filepath.Ext(entry.Name())) {
		case ".wav":
			clip, err = decodeWAV(path)
		case ".mp3":
			clip, err = decodeMP3(path)
		default:
			continue
		}
		if err != nil {
			return conditioning{}, fmt.Errorf("voice %s: %w", name, err)
		}
		out.clips = append(out.clips, clip)
	}
	out.latents, err = readLatents(filepath.Join(dir, latentsFile))
	if err != nil {
		return conditioning{}, fmt.Errorf("voice %s: %w", name, err)
	}
	if len(out.clips) == 0 && out.latents == nil {
		return conditioning{}, fmt.Errorf("voice %s has no clips or latents", name)
	}
	s.log.Debug("voice loaded", slog.String("voice", name), slog.Int("clips", len(out.clips)), slog.Bool("latents", out.latents != nil))
	return out, nil
}

func (s *Store) find(name string) (string, error) {
	if !validName(name) {
		return "", fmt.Errorf("%w: %q", ErrVoiceNotFound, name)
	}
	for _, root := range s.dirs {
		dir := filepath.Join(root, name)
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			return dir, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrVoiceNotFound, name)
}

func validName(name string) bool {
	return name != "" && name == filepath.Base(name) && !strings.HasPrefix(name, ".")
}

// averageLatents is nil unless every entry is present with matching lengths.
func averageLatents(all []*synthesis.Latents) *synthesis.Latents {
	if len(all) == 0 {
		return nil
	}
	if len(all) == 1 {
		return all[0]
	}
	for _, l := range all {
		if l == nil || len(l.Autoregressive) != len(all[0].Autoregressive) || len(l.Diffusion) != len(all[0].Diffusion) {
			return nil
		}
	}
	return &synthesis.Latents{
		Autoregressive: mean(all, func(l *synthesis.Latents) []float32 { return l.Autoregressive }),
		Diffusion:      mean(all, func(l *synthesis.Latents) []float32 { return l.Diffusion }),
	}
}

func mean(all []*synthesis.Latents, field func(*synthesis.Latents) []float32) []float32 {
	out := make([]float32, len(field(all[0])))
	for _, l := range all {
		for i, v := range field(l) {
			out[i] += v
		}
	}
	for i := range out {
		out[i] /= float32(len(all))
	}
	return out
}
