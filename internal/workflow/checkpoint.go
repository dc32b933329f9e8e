package workflow

import (
	"fmt"
	"regexp"
	"strings"

	"styleforge/internal/domain"
)

var (
	checkpointNodePattern = regexp.MustCompile(`(?i)checkpointloader`)
	// Audio/vocoder model families will load but produce garbage through an
	// image pipeline, so a resolved name matching this pattern is rejected
	// outright instead of submitted.
	audioCheckpointPattern = regexp.MustCompile(`(?i)(vocoder|audio|acestep|musicgen)`)
)

// resolveCheckpoint picks the checkpoint name to inject: the per-style env
// override wins, then the global override. When neither is set it returns
// "", and injection is skipped so the template's own checkpoint stands.
func resolveCheckpoint(styleKey, globalOverride string, styleOverride func(string) string) (string, error) {
	name := ""
	if styleOverride != nil {
		name = strings.TrimSpace(styleOverride(strings.ToUpper(styleKey)))
	}
	if name == "" {
		name = strings.TrimSpace(globalOverride)
	}
	if name == "" {
		return "", nil
	}
	if audioCheckpointPattern.MatchString(name) {
		return "", fmt.Errorf("workflow: checkpoint %q: %w", name, domain.ErrBadCheckpoint)
	}
	return name, nil
}

// injectCheckpoint rewrites ckpt_name on every checkpoint-loader node.
func injectCheckpoint(nodes []Node, name string) {
	if name == "" {
		return
	}
	for _, node := range nodes {
		if !checkpointNodePattern.MatchString(node.ClassType) {
			continue
		}
		if _, ok := node.Inputs["ckpt_name"]; ok {
			node.Inputs["ckpt_name"] = name
		}
	}
}
