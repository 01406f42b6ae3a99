// Package audiocache derives deterministic, content-addressed paths for
// synthesized audio artifacts.
//
// Every distinct synthesis request maps to a stable key, so re-running the
// pipeline over unchanged text addresses the same files and skips work that
// is already done. Chunk artifacts are sharded by key prefix to bound
// directory fanout; chapter-stage artifacts live under a per-book
// directory.
package audiocache

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"unicode/utf16"
)

// keyVersion is baked into every hashed payload so the key scheme can be
// migrated without colliding with older cache entries.
const keyVersion = 1

const dirPermissions = 0o755

// KeyParams identifies one logical synthesis request. Optional string
// fields are normalized to "" before hashing, so an unset field and an
// empty field produce the same key.
type KeyParams struct {
	ModelID    string
	Voice      string
	LangCode   string
	RefAudioID string
	RefText    string
	Speed      float64
	SampleRate int
	Channels   int
}

// keyPayload is the canonical hashed form of a request. Field order is the
// sorted key order of the serialized object; encoding/json preserves it.
type keyPayload struct {
	Channels   int    `json:"channels"`
	LangCode   string `json:"lang_code"`
	ModelID    string `json:"model_id"`
	RefAudioID string `json:"ref_audio_id"`
	RefText    string `json:"ref_text"`
	SampleRate int    `json:"sample_rate"`
	Speed      string `json:"speed"`
	Text       string `json:"text"`
	Version    int    `json:"v"`
	Voice      string `json:"voice"`
}

// ChunkKey returns the deterministic cache key for synthesizing text with
// params: "tts_" followed by 64 hex characters. Speed is rounded to four
// decimal places before hashing, so sub-rounding differences do not split
// the cache.
func ChunkKey(text string, params KeyParams) string {
	payload := keyPayload{
		Channels:   params.Channels,
		LangCode:   params.LangCode,
		ModelID:    params.ModelID,
		RefAudioID: params.RefAudioID,
		RefText:    params.RefText,
		SampleRate: params.SampleRate,
		Speed:      formatSpeed(params.Speed),
		Text:       text,
		Version:    keyVersion,
		Voice:      params.Voice,
	}

	serialized, err := json.Marshal(payload)
	if err != nil {
		// Marshaling a struct of strings and ints cannot fail.
		panic(fmt.Sprintf("audiocache: marshal key payload: %v", err))
	}

	digest := sha256.Sum256(asciiEscape(serialized))
	return fmt.Sprintf("tts_%x", digest)
}

// formatSpeed renders speed rounded to 4 decimal places in a fixed width,
// so 1.0 and 1.00001 serialize identically.
func formatSpeed(speed float64) string {
	rounded := math.Round(speed*10000) / 10000
	return strconv.FormatFloat(rounded, 'f', 4, 64)
}

// asciiEscape rewrites non-ASCII bytes of serialized JSON as \uXXXX escape
// sequences, keeping the canonical form byte-stable regardless of how the
// encoder treats multibyte runes.
func asciiEscape(serialized []byte) []byte {
	var out strings.Builder
	out.Grow(len(serialized))
	for _, r := range string(serialized) {
		if r < 0x80 {
			out.WriteRune(r)
			continue
		}
		if r > 0xFFFF {
			hi, lo := utf16.EncodeRune(r)
			fmt.Fprintf(&out, `\u%04x\u%04x`, hi, lo)
			continue
		}
		fmt.Fprintf(&out, `\u%04x`, r)
	}
	return []byte(out.String())
}

// Layout maps cache keys and chapter stages onto a directory tree rooted
// at Root. All path derivations are pure; the Ensure variants create
// parent directories idempotently and are safe to call concurrently.
type Layout struct {
	Root string
}

// NewLayout returns a Layout rooted at root.
func NewLayout(root string) Layout {
	return Layout{Root: root}
}

// TTSDir is the root of all chunk-level artifacts.
func (l Layout) TTSDir() string {
	return filepath.Join(l.Root, "tts")
}

// ChunkDir is the parent of all sharded chunk directories.
func (l Layout) ChunkDir() string {
	return filepath.Join(l.TTSDir(), "chunks")
}

// ChapterDir is the root of all chapter-stage artifacts.
func (l Layout) ChapterDir() string {
	return filepath.Join(l.Root, "chapters")
}

// ChunkPath returns the artifact path for key, sharded by the first two
// characters of the key.
func (l Layout) ChunkPath(key, ext string) string {
	if ext == "" {
		ext = "wav"
	}
	prefix := "00"
	if len(key) >= 2 {
		prefix = key[:2]
	}
	return filepath.Join(l.ChunkDir(), prefix, key+"."+ext)
}

// ChapterPath returns the path of a chapter-stage artifact, e.g.
// chapters/<slug>/chapter_003_stitched.wav.
func (l Layout) ChapterPath(bookSlug string, chapterIndex int, stage string) string {
	name := fmt.Sprintf("chapter_%03d_%s.wav", chapterIndex, strings.ReplaceAll(stage, " ", "_"))
	return filepath.Join(l.ChapterDir(), bookSlug, name)
}

// EnsureChunkDir creates the shard directory for key and returns it.
func (l Layout) EnsureChunkDir(key string) (string, error) {
	dir := filepath.Dir(l.ChunkPath(key, "wav"))
	if err := os.MkdirAll(dir, dirPermissions); err != nil {
		return "", fmt.Errorf("create chunk directory: %w", err)
	}
	return dir, nil
}

// EnsureChapterDir creates the per-book chapter directory and returns it.
func (l Layout) EnsureChapterDir(bookSlug string) (string, error) {
	dir := filepath.Join(l.ChapterDir(), bookSlug)
	if err := os.MkdirAll(dir, dirPermissions); err != nil {
		return "", fmt.Errorf("create chapter directory: %w", err)
	}
	return dir, nil
}
