package workflow

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"styleforge/internal/domain"
	"styleforge/internal/infra"
)

// TransportMode selects how the source image travels to the provider.
type TransportMode string

const (
	// ModeURL passes the source URL straight into the image slot.
	ModeURL TransportMode = "url"
	// ModeImages inlines base64 bytes as a named attachment.
	ModeImages TransportMode = "images"
)

var (
	imageLoaderPattern = regexp.MustCompile(`(?i)(load.*image|image.*load)`)
	urlLoaderPattern   = regexp.MustCompile(`(?i)url`)
	latentNodePattern  = regexp.MustCompile(`(?i)empty.*latent`)
	videoNodePattern   = regexp.MustCompile(`(?i)video.?combine`)

	styleMarker = "{{style}}"
)

var allowedImageMIME = map[string]struct{}{
	"image/png":  {},
	"image/jpeg": {},
	"image/webp": {},
	"image/avif": {},
	"image/gif":  {},
}

// ImageAttachment is one inline-encoded image shipped alongside the graph.
type ImageAttachment struct {
	Name string `json:"name"`
	Data string `json:"image"`
}

// Payload is a fully prepared provider submission.
type Payload struct {
	Workflow map[string]any
	Seed     int64
	StyleKey string
	Images   []ImageAttachment
	Mode     TransportMode
}

// SourceFetcher retrieves source image bytes for inline transport. The
// storage client implements it with an authenticated fetch plus public
// fallback.
type SourceFetcher interface {
	Fetch(ctx context.Context, url string) (data []byte, mime string, err error)
}

// Builder prepares provider payloads from style templates.
type Builder struct {
	templates       *TemplateResolver
	fetcher         SourceFetcher
	modeOverride    TransportMode // empty means infer per template
	checkpointName  string
	styleCheckpoint func(string) string
	maxRequestBytes int64
	now             func() time.Time
	logger          infra.Logger
}

// BuilderOptions configures a Builder.
type BuilderOptions struct {
	Templates       *TemplateResolver
	Fetcher         SourceFetcher
	ModeOverride    string
	CheckpointName  string
	StyleCheckpoint func(string) string
	MaxRequestBytes int64
	Now             func() time.Time
	Logger          infra.Logger
}

func NewBuilder(opts BuilderOptions) *Builder {
	maxBytes := opts.MaxRequestBytes
	if maxBytes <= 0 {
		maxBytes = infra.DefaultMaxRequestBytes
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Builder{
		templates:       opts.Templates,
		fetcher:         opts.Fetcher,
		modeOverride:    TransportMode(strings.ToLower(strings.TrimSpace(opts.ModeOverride))),
		checkpointName:  opts.CheckpointName,
		styleCheckpoint: opts.StyleCheckpoint,
		maxRequestBytes: maxBytes,
		now:             now,
		logger:          opts.Logger,
	}
}

// Build resolves the style template, wires the source image into its image
// slot, injects seed and checkpoint, substitutes style placeholders and
// normalizes latent/batch/output fields. The returned payload is ready for
// submission.
func (b *Builder) Build(ctx context.Context, sourceURL, style string, seed *int64) (*Payload, error) {
	graph, styleKey, err := b.templates.Resolve(style)
	if err != nil {
		return nil, err
	}
	nodes := collectNodes(graph)
	if len(nodes) == 0 {
		return nil, fmt.Errorf("workflow: template %s contains no nodes", styleKey)
	}

	imageNode, err := findImageSlot(nodes)
	if err != nil {
		return nil, err
	}

	mode := b.resolveMode(imageNode)
	payload := &Payload{Workflow: graph, StyleKey: styleKey, Mode: mode}

	switch mode {
	case ModeURL:
		imageNode.Inputs["image"] = sourceURL
	case ModeImages:
		attachment, err := b.inlineImage(ctx, sourceURL, styleKey)
		if err != nil {
			return nil, err
		}
		imageNode.Inputs["image"] = attachment.Name
		payload.Images = append(payload.Images, *attachment)
	}

	payload.Seed = ResolveSeed(seed)
	if injectSeed(nodes, payload.Seed) == 0 {
		return nil, fmt.Errorf("workflow: template %s: %w", styleKey, domain.ErrNoSeedSlot)
	}

	rewriteStrings(graph, func(s string) string {
		return strings.ReplaceAll(s, styleMarker, style)
	})

	checkpoint, err := resolveCheckpoint(styleKey, b.checkpointName, b.styleCheckpoint)
	if err != nil {
		return nil, err
	}
	injectCheckpoint(nodes, checkpoint)

	normalizeLatents(nodes)
	b.nameVideoOutputs(nodes, styleKey)

	if err := b.checkSizeCeiling(payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// findImageSlot prefers an image-loader node with a string image field and
// falls back to any node carrying one.
func findImageSlot(nodes []Node) (*Node, error) {
	var fallback *Node
	for i := range nodes {
		node := &nodes[i]
		if _, ok := node.Inputs["image"].(string); !ok {
			continue
		}
		if imageLoaderPattern.MatchString(node.ClassType) {
			return node, nil
		}
		if fallback == nil {
			fallback = node
		}
	}
	if fallback != nil {
		return fallback, nil
	}
	return nil, domain.ErrNoImageSlot
}

func (b *Builder) resolveMode(imageNode *Node) TransportMode {
	switch b.modeOverride {
	case ModeURL, ModeImages:
		return b.modeOverride
	}
	if urlLoaderPattern.MatchString(imageNode.ClassType) {
		return ModeURL
	}
	return ModeImages
}

func (b *Builder) inlineImage(ctx context.Context, sourceURL, styleKey string) (*ImageAttachment, error) {
	if b.fetcher == nil {
		return nil, fmt.Errorf("workflow: inline transport requires a source fetcher")
	}
	data, mime, err := b.fetcher.Fetch(ctx, sourceURL)
	if err != nil {
		return nil, fmt.Errorf("workflow: fetch source image: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("workflow: source image is empty: %w", domain.ErrInvalidImage)
	}
	base := strings.SplitN(strings.ToLower(strings.TrimSpace(mime)), ";", 2)[0]
	if _, ok := allowedImageMIME[base]; !ok {
		return nil, fmt.Errorf("workflow: unsupported source mime %q: %w", mime, domain.ErrInvalidImage)
	}
	ext := strings.TrimPrefix(base, "image/")
	if ext == "jpeg" {
		ext = "jpg"
	}
	name := fmt.Sprintf("input_%s_%d.%s", styleKey, b.now().UnixNano(), ext)
	return &ImageAttachment{Name: name, Data: base64.StdEncoding.EncodeToString(data)}, nil
}

// normalizeLatents clamps latent image dimensions to >=64 rounded down to a
// multiple of 8 (1024 when unusable) and forces a positive batch size.
func normalizeLatents(nodes []Node) {
	for _, node := range nodes {
		if !latentNodePattern.MatchString(node.ClassType) {
			continue
		}
		for _, field := range []string{"width", "height"} {
			if _, ok := node.Inputs[field]; ok {
				node.Inputs[field] = clampDimension(node.Inputs[field])
			}
		}
		if _, ok := node.Inputs["batch_size"]; ok {
			batch := asInt(node.Inputs["batch_size"])
			if batch < 1 {
				batch = 1
			}
			node.Inputs["batch_size"] = batch
		}
	}
}

func clampDimension(v any) int {
	d := asInt(v)
	if d < 64 {
		return 1024
	}
	return d - d%8
}

func asInt(v any) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	case int64:
		return int(n)
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return int(i)
		}
	}
	return 0
}

// nameVideoOutputs backfills an empty filename prefix on video-combine
// nodes so provider output files are attributable.
func (b *Builder) nameVideoOutputs(nodes []Node, styleKey string) {
	for _, node := range nodes {
		if !videoNodePattern.MatchString(node.ClassType) {
			continue
		}
		prefix, _ := node.Inputs["filename_prefix"].(string)
		if strings.TrimSpace(prefix) == "" {
			node.Inputs["filename_prefix"] = fmt.Sprintf("%s_%s", styleKey, b.now().UTC().Format("20060102T150405"))
		}
	}
}

func (b *Builder) checkSizeCeiling(p *Payload) error {
	body := map[string]any{"workflow": p.Workflow}
	if len(p.Images) > 0 {
		body["images"] = p.Images
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("workflow: serialize payload: %w", err)
	}
	if int64(len(raw)) > b.maxRequestBytes {
		return fmt.Errorf("workflow: payload is %d bytes, ceiling %d: %w",
			len(raw), b.maxRequestBytes, domain.ErrPayloadTooLarge)
	}
	return nil
}
