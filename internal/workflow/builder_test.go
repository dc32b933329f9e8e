package workflow

import (
	"context"
	"encoding/base64"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"styleforge/internal/domain"
)

const testGraph = `{
  "1": {"class_type": "CheckpointLoaderSimple", "inputs": {"ckpt_name": "base.safetensors"}},
  "2": {"class_type": "LoadImage", "inputs": {"image": "", "upload": "image"}},
  "3": {"class_type": "CLIPTextEncode", "inputs": {"text": "{{style}} style, detailed", "clip": ["1", 1]}},
  "4": {"class_type": "EmptyLatentImage", "inputs": {"width": 1000, "height": 30, "batch_size": 0}},
  "5": {"class_type": "KSampler", "inputs": {"seed": 0, "steps": 20, "model": ["1", 0]}}
}`

const urlGraph = `{
  "1": {"class_type": "LoadImageFromUrl", "inputs": {"image": ""}},
  "2": {"class_type": "KSamplerAdvanced", "inputs": {"noise_seed": 0}},
  "3": {"class_type": "VHS_VideoCombine", "inputs": {"frame_rate": 12, "filename_prefix": ""}}
}`

type stubFetcher struct {
	data []byte
	mime string
	err  error
}

func (f *stubFetcher) Fetch(context.Context, string) ([]byte, string, error) {
	return f.data, f.mime, f.err
}

func writeTemplates(t *testing.T, files map[string]string) *TemplateResolver {
	t.Helper()
	dir := t.TempDir()
	for name, body := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
			t.Fatalf("write template %s: %v", name, err)
		}
	}
	return NewTemplateResolver(dir)
}

func newTestBuilder(t *testing.T, files map[string]string, opts BuilderOptions) *Builder {
	t.Helper()
	opts.Templates = writeTemplates(t, files)
	if opts.Fetcher == nil {
		opts.Fetcher = &stubFetcher{data: []byte{0x89, 'P', 'N', 'G'}, mime: "image/png"}
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC) }
	}
	return NewBuilder(opts)
}

func TestBuildInlineMode(t *testing.T) {
	raw := []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a}
	b := newTestBuilder(t, map[string]string{"default.json": testGraph},
		BuilderOptions{Fetcher: &stubFetcher{data: raw, mime: "image/png"}})

	p, err := b.Build(context.Background(), "https://store.example/uploads/a.png", "sketch", nil)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if p.Mode != ModeImages {
		t.Fatalf("mode = %s, want images", p.Mode)
	}
	if len(p.Images) != 1 {
		t.Fatalf("attachments = %d, want 1", len(p.Images))
	}
	decoded, err := base64.StdEncoding.DecodeString(p.Images[0].Data)
	if err != nil || string(decoded) != string(raw) {
		t.Fatalf("attachment bytes mismatch: %v %v", err, decoded)
	}
	node := p.Workflow["2"].(map[string]any)["inputs"].(map[string]any)
	if node["image"] != p.Images[0].Name {
		t.Fatalf("image slot = %v, want attachment name %q", node["image"], p.Images[0].Name)
	}
}

func TestBuildURLModeInferredFromLoader(t *testing.T) {
	b := newTestBuilder(t, map[string]string{"default.json": urlGraph}, BuilderOptions{})
	p, err := b.Build(context.Background(), "https://store.example/uploads/a.png", "sketch", nil)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if p.Mode != ModeURL {
		t.Fatalf("mode = %s, want url", p.Mode)
	}
	if len(p.Images) != 0 {
		t.Fatalf("url mode must not attach images")
	}
	node := p.Workflow["1"].(map[string]any)["inputs"].(map[string]any)
	if node["image"] != "https://store.example/uploads/a.png" {
		t.Fatalf("image slot = %v, want source url", node["image"])
	}
}

func TestBuildModeOverrideWins(t *testing.T) {
	b := newTestBuilder(t, map[string]string{"default.json": urlGraph},
		BuilderOptions{ModeOverride: "images"})
	p, err := b.Build(context.Background(), "https://store.example/a.png", "sketch", nil)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if p.Mode != ModeImages {
		t.Fatalf("mode = %s, want images despite url loader", p.Mode)
	}
}

func TestBuildUnknownStyleFallsBackToDefault(t *testing.T) {
	b := newTestBuilder(t, map[string]string{"default.json": testGraph}, BuilderOptions{})
	p, err := b.Build(context.Background(), "https://x/a.png", "no such style!", nil)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if p.StyleKey != "no_such_style" {
		t.Fatalf("style key = %q", p.StyleKey)
	}
}

func TestBuildMalformedTemplateIsHardError(t *testing.T) {
	b := newTestBuilder(t, map[string]string{
		"default.json": testGraph,
		"broken.json":  `{"1": {`,
	}, BuilderOptions{})
	if _, err := b.Build(context.Background(), "https://x/a.png", "broken", nil); err == nil {
		t.Fatalf("expected parse error, not fallback")
	}
}

func TestBuildNoSeedSlot(t *testing.T) {
	graph := `{"1": {"class_type": "LoadImage", "inputs": {"image": ""}}}`
	b := newTestBuilder(t, map[string]string{"default.json": graph}, BuilderOptions{})
	_, err := b.Build(context.Background(), "https://x/a.png", "sketch", nil)
	if !errors.Is(err, domain.ErrNoSeedSlot) {
		t.Fatalf("err = %v, want ErrNoSeedSlot", err)
	}
}

func TestBuildNoImageSlot(t *testing.T) {
	graph := `{"1": {"class_type": "KSampler", "inputs": {"seed": 0}}}`
	b := newTestBuilder(t, map[string]string{"default.json": graph}, BuilderOptions{})
	_, err := b.Build(context.Background(), "https://x/a.png", "sketch", nil)
	if !errors.Is(err, domain.ErrNoImageSlot) {
		t.Fatalf("err = %v, want ErrNoImageSlot", err)
	}
}

func TestBuildSeedInjection(t *testing.T) {
	seed := int64(424242)
	b := newTestBuilder(t, map[string]string{"default.json": testGraph}, BuilderOptions{})
	p, err := b.Build(context.Background(), "https://x/a.png", "sketch", &seed)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if p.Seed != seed {
		t.Fatalf("seed = %d, want %d", p.Seed, seed)
	}
	sampler := p.Workflow["5"].(map[string]any)["inputs"].(map[string]any)
	if sampler["seed"] != seed {
		t.Fatalf("sampler seed = %v, want %d", sampler["seed"], seed)
	}
}

func TestBuildPlaceholderSubstitution(t *testing.T) {
	b := newTestBuilder(t, map[string]string{"default.json": testGraph}, BuilderOptions{})
	p, err := b.Build(context.Background(), "https://x/a.png", "oil paint", nil)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	text := p.Workflow["3"].(map[string]any)["inputs"].(map[string]any)["text"].(string)
	if text != "oil paint style, detailed" {
		t.Fatalf("text = %q", text)
	}
}

func TestBuildLatentNormalization(t *testing.T) {
	b := newTestBuilder(t, map[string]string{"default.json": testGraph}, BuilderOptions{})
	p, err := b.Build(context.Background(), "https://x/a.png", "sketch", nil)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	latent := p.Workflow["4"].(map[string]any)["inputs"].(map[string]any)
	if latent["width"] != 1000-1000%8 {
		t.Fatalf("width = %v, want %d", latent["width"], 1000-1000%8)
	}
	if latent["height"] != 1024 {
		t.Fatalf("height = %v, want 1024 fallback", latent["height"])
	}
	if latent["batch_size"] != 1 {
		t.Fatalf("batch_size = %v, want 1", latent["batch_size"])
	}
}

func TestBuildVideoPrefixSynthesized(t *testing.T) {
	b := newTestBuilder(t, map[string]string{"default.json": urlGraph}, BuilderOptions{})
	p, err := b.Build(context.Background(), "https://x/a.png", "sketch", nil)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	prefix := p.Workflow["3"].(map[string]any)["inputs"].(map[string]any)["filename_prefix"].(string)
	if !strings.HasPrefix(prefix, "sketch_") {
		t.Fatalf("filename_prefix = %q, want sketch_<timestamp>", prefix)
	}
}

func TestBuildRejectsAudioCheckpoint(t *testing.T) {
	b := newTestBuilder(t, map[string]string{"default.json": testGraph},
		BuilderOptions{CheckpointName: "audio-vocoder-v2.safetensors"})
	_, err := b.Build(context.Background(), "https://x/a.png", "sketch", nil)
	if !errors.Is(err, domain.ErrBadCheckpoint) {
		t.Fatalf("err = %v, want ErrBadCheckpoint", err)
	}
}

func TestBuildCheckpointSkipWhenUnset(t *testing.T) {
	b := newTestBuilder(t, map[string]string{"default.json": testGraph}, BuilderOptions{})
	p, err := b.Build(context.Background(), "https://x/a.png", "sketch", nil)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	ckpt := p.Workflow["1"].(map[string]any)["inputs"].(map[string]any)["ckpt_name"]
	if ckpt != "base.safetensors" {
		t.Fatalf("ckpt_name = %v, template default should stand", ckpt)
	}
}

func TestBuildStyleCheckpointOverrideWinsOverGlobal(t *testing.T) {
	b := newTestBuilder(t, map[string]string{"default.json": testGraph}, BuilderOptions{
		CheckpointName: "global.safetensors",
		StyleCheckpoint: func(key string) string {
			if key == "SKETCH" {
				return "sketch_special.safetensors"
			}
			return ""
		},
	})
	p, err := b.Build(context.Background(), "https://x/a.png", "sketch", nil)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	ckpt := p.Workflow["1"].(map[string]any)["inputs"].(map[string]any)["ckpt_name"]
	if ckpt != "sketch_special.safetensors" {
		t.Fatalf("ckpt_name = %v, want style override", ckpt)
	}
}

func TestBuildSizeCeiling(t *testing.T) {
	big := make([]byte, 64<<10)
	b := newTestBuilder(t, map[string]string{"default.json": testGraph}, BuilderOptions{
		Fetcher:         &stubFetcher{data: big, mime: "image/png"},
		MaxRequestBytes: 16 << 10,
	})
	_, err := b.Build(context.Background(), "https://x/a.png", "sketch", nil)
	if !errors.Is(err, domain.ErrPayloadTooLarge) {
		t.Fatalf("err = %v, want ErrPayloadTooLarge", err)
	}
}

func TestBuildRejectsUnsupportedMIME(t *testing.T) {
	b := newTestBuilder(t, map[string]string{"default.json": testGraph},
		BuilderOptions{Fetcher: &stubFetcher{data: []byte("%PDF-1.7"), mime: "application/pdf"}})
	_, err := b.Build(context.Background(), "https://x/a.pdf", "sketch", nil)
	if !errors.Is(err, domain.ErrInvalidImage) {
		t.Fatalf("err = %v, want ErrInvalidImage", err)
	}
}

func TestResolveSeed(t *testing.T) {
	for _, want := range []int64{0, 1, 123456, maxSeed - 2} {
		seed := want
		if got := ResolveSeed(&seed); got != want {
			t.Fatalf("ResolveSeed(%d) = %d", want, got)
		}
	}
	seen := make(map[int64]struct{})
	for i := 0; i < 100; i++ {
		got := ResolveSeed(nil)
		if got < 0 || got >= maxSeed {
			t.Fatalf("random seed %d out of range", got)
		}
		seen[got] = struct{}{}
	}
	if len(seen) < 90 {
		t.Fatalf("random seeds collide too often: %d distinct of 100", len(seen))
	}
}

func TestNormalizeStyleKey(t *testing.T) {
	cases := map[string]string{
		"  Oil Paint ":  "oil_paint",
		"SKETCH":        "sketch",
		"neo-tokyo/art": "neo_tokyo_art",
		"":              "",
	}
	for in, want := range cases {
		if got := NormalizeStyleKey(in); got != want {
			t.Errorf("NormalizeStyleKey(%q) = %q, want %q", in, got, want)
		}
	}
}
