package deptree

// BreadthFirstLayers traverses the tree breadth first and returns each
// layer separately: layer 0 is the start node, layer N+1 the concatenated
// children of layer N. Unresolved nodes contribute no children. A node
// reachable through several parents appears once per path; callers that
// need a linear plan de-duplicate downstream.
func BreadthFirstLayers(base *Node) [][]*Node {
	layers := [][]*Node{{base}}
	for {
		var sublayer []*Node
		for _, node := range layers[len(layers)-1] {
			if node.Unresolved() {
				continue
			}
			sublayer = append(sublayer, node.Dependencies...)
		}
		if len(sublayer) == 0 {
			return layers
		}
		layers = append(layers, sublayer)
	}
}

// DepthFirst returns the tree's nodes in pre-order, including duplicate
// visits of shared subtrees. An explicit stack is used instead of
// recursion; dependency graphs can run deep.
func DepthFirst(base *Node) []*Node {
	var out []*Node
	stack := []*Node{base}
	for len(stack) > 0 {
		node := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		out = append(out, node)
		if node.Unresolved() {
			continue
		}
		// Push in reverse so the first child is visited first.
		for i := len(node.Dependencies) - 1; i >= 0; i-- {
			stack = append(stack, node.Dependencies[i])
		}
	}
	return out
}

// DepthFirstUnique returns the pre-order traversal with each name kept at
// its first occurrence only. The root is keyed by the empty name, so it
// always survives. This is the canonical ordering used for lock
// serialization.
func DepthFirstUnique(base *Node) []*Node {
	var out []*Node
	seen := make(map[string]bool)
	for _, node := range DepthFirst(base) {
		key := node.Name
		if node.Kind == KindRoot {
			key = ""
		}
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, node)
	}
	return out
}
