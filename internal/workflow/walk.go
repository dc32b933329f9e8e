package workflow

import "reflect"

// Node is one addressable unit of a workflow graph: a discriminator type
// name plus its live inputs map. Inputs aliases the map inside the decoded
// template, so writes through it mutate the graph in place.
type Node struct {
	ClassType string
	Inputs    map[string]any
}

// collectNodes walks an arbitrarily nested decoded JSON value and returns
// every node-shaped object it finds, in depth-first order. A node is any
// object carrying a string "class_type" and an object "inputs". Maps and
// slices are tracked in a visited set so self-referencing structures
// produced upstream cannot loop the walk.
func collectNodes(root any) []Node {
	var nodes []Node
	visited := make(map[uintptr]struct{})
	var walk func(v any)
	walk = func(v any) {
		switch val := v.(type) {
		case map[string]any:
			if !mark(visited, val) {
				return
			}
			if node, ok := asNode(val); ok {
				nodes = append(nodes, node)
			}
			for _, child := range val {
				walk(child)
			}
		case []any:
			if !mark(visited, val) {
				return
			}
			for _, child := range val {
				walk(child)
			}
		}
	}
	walk(root)
	return nodes
}

func asNode(obj map[string]any) (Node, bool) {
	class, ok := obj["class_type"].(string)
	if !ok || class == "" {
		return Node{}, false
	}
	inputs, ok := obj["inputs"].(map[string]any)
	if !ok {
		return Node{}, false
	}
	return Node{ClassType: class, Inputs: inputs}, true
}

// mark records a map or slice identity; it returns false when the value was
// already seen.
func mark(visited map[uintptr]struct{}, v any) bool {
	ptr := reflect.ValueOf(v).Pointer()
	if _, seen := visited[ptr]; seen {
		return false
	}
	visited[ptr] = struct{}{}
	return true
}

// rewriteStrings visits every string field in the tree and replaces it with
// fn's result. It mutates the tree in place and carries the same cycle guard
// as collectNodes.
func rewriteStrings(root any, fn func(string) string) {
	visited := make(map[uintptr]struct{})
	var walk func(v any)
	walk = func(v any) {
		switch val := v.(type) {
		case map[string]any:
			if !mark(visited, val) {
				return
			}
			for key, child := range val {
				if s, ok := child.(string); ok {
					val[key] = fn(s)
					continue
				}
				walk(child)
			}
		case []any:
			if !mark(visited, val) {
				return
			}
			for i, child := range val {
				if s, ok := child.(string); ok {
					val[i] = fn(s)
					continue
				}
				walk(child)
			}
		}
	}
	walk(root)
}
