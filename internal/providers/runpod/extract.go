package runpod

import (
	"encoding/json"
	"fmt"
	"reflect"
	"regexp"
	"strings"
)

// Asset extraction has to cope with whatever shape the worker template
// placed under output: a bare URL string, {message: url}, nested arrays of
// node outputs, or free text with URLs embedded. Keyed matches win over
// URLs scavenged from free text.

var (
	imageKeyPattern = regexp.MustCompile(`(?i)^(image|img|output_image|preview|result)s?$`)
	videoKeyPattern = regexp.MustCompile(`(?i)^(video|timelapse|output_video)s?$`)

	urlTokenPattern = regexp.MustCompile(`https?://[^\s"'<>\\]+`)

	imageExtPattern = regexp.MustCompile(`(?i)\.(png|jpg|jpeg|webp|avif|gif)(\?|#|$)`)
	videoExtPattern = regexp.MustCompile(`(?i)\.(mp4|mov|webm|mkv)(\?|#|$)`)
)

// ExtractAssets pulls the best-guess image and video result URLs out of an
// arbitrary provider output value. Either return may be empty.
func ExtractAssets(v any) (imageURL, videoURL string) {
	if s, ok := v.(string); ok {
		return scanText(s)
	}

	visited := make(map[uintptr]struct{})
	keyedImage, keyedVideo := keyedSearch(v, visited)

	imageURL, videoURL = keyedImage, keyedVideo
	if imageURL != "" && videoURL != "" {
		return imageURL, videoURL
	}

	// Fall back to a depth-first sweep over every string in the tree,
	// classifying by extension.
	visited = make(map[uintptr]struct{})
	fallbackImage, fallbackVideo := sweepStrings(v, visited)
	if imageURL == "" {
		imageURL = fallbackImage
	}
	if videoURL == "" {
		videoURL = fallbackVideo
	}
	return imageURL, videoURL
}

// keyedSearch walks objects/arrays looking for field names that advertise
// their category; the first asset string reachable under a matching key
// wins for that category.
func keyedSearch(v any, visited map[uintptr]struct{}) (imageURL, videoURL string) {
	switch val := v.(type) {
	case map[string]any:
		if !markVisited(visited, val) {
			return "", ""
		}
		for key, child := range val {
			if imageURL == "" && imageKeyPattern.MatchString(key) {
				imageURL = firstAssetString(child, visited)
			}
			if videoURL == "" && videoKeyPattern.MatchString(key) {
				videoURL = firstAssetString(child, visited)
			}
		}
		for _, child := range val {
			if imageURL != "" && videoURL != "" {
				break
			}
			img, vid := keyedSearch(child, visited)
			if imageURL == "" {
				imageURL = img
			}
			if videoURL == "" {
				videoURL = vid
			}
		}
	case []any:
		if !markVisited(visited, val) {
			return "", ""
		}
		for _, child := range val {
			if imageURL != "" && videoURL != "" {
				break
			}
			img, vid := keyedSearch(child, visited)
			if imageURL == "" {
				imageURL = img
			}
			if videoURL == "" {
				videoURL = vid
			}
		}
	}
	return imageURL, videoURL
}

// firstAssetString resolves a keyed value to its first embedded asset
// reference, descending through nested containers.
func firstAssetString(v any, visited map[uintptr]struct{}) string {
	switch val := v.(type) {
	case string:
		if isAssetRef(val) {
			return strings.TrimSpace(val)
		}
	case map[string]any:
		if !markVisited(visited, val) {
			return ""
		}
		for _, child := range val {
			if s := firstAssetString(child, visited); s != "" {
				return s
			}
		}
	case []any:
		if !markVisited(visited, val) {
			return ""
		}
		for _, child := range val {
			if s := firstAssetString(child, visited); s != "" {
				return s
			}
		}
	}
	return ""
}

func sweepStrings(v any, visited map[uintptr]struct{}) (imageURL, videoURL string) {
	switch val := v.(type) {
	case string:
		return scanText(val)
	case map[string]any:
		if !markVisited(visited, val) {
			return "", ""
		}
		for _, child := range val {
			if imageURL != "" && videoURL != "" {
				break
			}
			img, vid := sweepStrings(child, visited)
			if imageURL == "" {
				imageURL = img
			}
			if videoURL == "" {
				videoURL = vid
			}
		}
	case []any:
		if !markVisited(visited, val) {
			return "", ""
		}
		for _, child := range val {
			if imageURL != "" && videoURL != "" {
				break
			}
			img, vid := sweepStrings(child, visited)
			if imageURL == "" {
				imageURL = img
			}
			if videoURL == "" {
				videoURL = vid
			}
		}
	}
	return imageURL, videoURL
}

// scanText pulls URLs out of free text and classifies each by suffix;
// first match per category wins.
func scanText(s string) (imageURL, videoURL string) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "data:image/") {
		return s, ""
	}
	if strings.HasPrefix(s, "data:video/") {
		return "", s
	}
	for _, token := range urlTokenPattern.FindAllString(s, -1) {
		switch {
		case imageURL == "" && imageExtPattern.MatchString(token):
			imageURL = token
		case videoURL == "" && videoExtPattern.MatchString(token):
			videoURL = token
		}
		if imageURL != "" && videoURL != "" {
			break
		}
	}
	return imageURL, videoURL
}

func isAssetRef(s string) bool {
	s = strings.TrimSpace(s)
	return strings.HasPrefix(s, "http://") ||
		strings.HasPrefix(s, "https://") ||
		strings.HasPrefix(s, "data:image/") ||
		strings.HasPrefix(s, "data:video/")
}

func markVisited(visited map[uintptr]struct{}, v any) bool {
	ptr := reflect.ValueOf(v).Pointer()
	if _, seen := visited[ptr]; seen {
		return false
	}
	visited[ptr] = struct{}{}
	return true
}

const maxFailureReasonLen = 500

// failureFields is the ordered candidate list scanned for a human-readable
// failure explanation.
var failureFields = []string{"error", "message"}

// FailureReason extracts a readable failure explanation from a provider
// payload: top-level error/message, then the same under output, then one
// level deeper inside those. The result is whitespace-collapsed and
// truncated to 500 characters.
func FailureReason(env *Envelope) string {
	if env == nil {
		return ""
	}
	candidates := make([]any, 0, 6)
	for _, field := range failureFields {
		if v, ok := env.Field(field); ok {
			candidates = append(candidates, v)
		}
	}
	if out, ok := env.Output().(map[string]any); ok {
		for _, field := range failureFields {
			if v, ok := out[field]; ok {
				candidates = append(candidates, v)
			}
		}
	}
	for _, candidate := range candidates {
		if reason := stringifyReason(candidate, true); reason != "" {
			return reason
		}
	}
	return ""
}

func stringifyReason(v any, descend bool) string {
	switch val := v.(type) {
	case string:
		return tidyReason(val)
	case map[string]any:
		if descend {
			for _, field := range failureFields {
				if child, ok := val[field]; ok {
					if reason := stringifyReason(child, false); reason != "" {
						return reason
					}
				}
			}
		}
		if raw, err := json.Marshal(val); err == nil {
			return tidyReason(string(raw))
		}
	case nil:
		return ""
	default:
		return tidyReason(fmt.Sprint(val))
	}
	return ""
}

func tidyReason(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if s == "" || s == "{}" || s == "null" {
		return ""
	}
	if len(s) > maxFailureReasonLen {
		return s[:maxFailureReasonLen] + "…"
	}
	return s
}
