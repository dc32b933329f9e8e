package workflow

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// DefaultTemplateName is the fallback graph used when a style has no
// dedicated template file.
const DefaultTemplateName = "default"

var styleSeparators = regexp.MustCompile(`[\s\-./]+`)

// NormalizeStyleKey canonicalizes a free-text style into a file-safe key:
// trimmed, lowercased, separator runs collapsed to single underscores.
func NormalizeStyleKey(style string) string {
	key := strings.ToLower(strings.TrimSpace(style))
	key = styleSeparators.ReplaceAllString(key, "_")
	return strings.Trim(key, "_")
}

// TemplateResolver loads workflow graphs from a directory of JSON files,
// one file per style key.
type TemplateResolver struct {
	dir string
}

func NewTemplateResolver(dir string) *TemplateResolver {
	return &TemplateResolver{dir: dir}
}

// Resolve returns the decoded graph for the given style. An unknown style
// falls back to the default template; a template file that exists but does
// not parse is a hard error, never a fallback trigger.
func (r *TemplateResolver) Resolve(style string) (map[string]any, string, error) {
	key := NormalizeStyleKey(style)
	if key == "" {
		key = DefaultTemplateName
	}
	graph, err := r.load(key)
	if err == nil {
		return graph, key, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, "", err
	}
	if key == DefaultTemplateName {
		return nil, "", fmt.Errorf("workflow: default template missing: %w", err)
	}
	graph, err = r.load(DefaultTemplateName)
	if err != nil {
		return nil, "", fmt.Errorf("workflow: no template for style %q and default unavailable: %w", key, err)
	}
	return graph, key, nil
}

func (r *TemplateResolver) load(key string) (map[string]any, error) {
	path := filepath.Join(r.dir, key+".json")
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var graph map[string]any
	if err := json.Unmarshal(raw, &graph); err != nil {
		return nil, fmt.Errorf("workflow: template %s is not valid JSON: %w", key, err)
	}
	return graph, nil
}

// Style describes one installed preset.
type Style struct {
	Key         string `json:"key"`
	DisplayName string `json:"display_name"`
}

var styleTitle = cases.Title(language.English)

// ListStyles enumerates installed template files as presentable presets.
// The default template is listed last.
func (r *TemplateResolver) ListStyles() ([]Style, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return nil, fmt.Errorf("workflow: read template dir: %w", err)
	}
	var styles []Style
	hasDefault := false
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		key := strings.TrimSuffix(name, ".json")
		if key == DefaultTemplateName {
			hasDefault = true
			continue
		}
		styles = append(styles, Style{
			Key:         key,
			DisplayName: styleTitle.String(strings.ReplaceAll(key, "_", " ")),
		})
	}
	sort.Slice(styles, func(i, j int) bool { return styles[i].Key < styles[j].Key })
	if hasDefault {
		styles = append(styles, Style{Key: DefaultTemplateName, DisplayName: "Default"})
	}
	return styles, nil
}
