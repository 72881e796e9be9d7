package deps

// Why returns the shortest dependency chain from the project to name, excluding the project
// itself. Among chains of equal length the lexicographically first is returned. It returns nil
// when name is not part of the closure.
func (c *Closure) Why(name string) []string {
	if c.graph == nil {
		return nil
	}
	adj, err := c.graph.AdjacencyMap()
	if err != nil {
		return nil
	}
	if _, ok := adj[name]; !ok || name == RootVertex {
		return nil
	}

	prev := map[string]string{RootVertex: ""}
	queue := []string{RootVertex}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur == name {
			break
		}
		for _, next := range sortedKeysOf(adj[cur]) {
			if _, seen := prev[next]; !seen {
				prev[next] = cur
				queue = append(queue, next)
			}
		}
	}
	if _, ok := prev[name]; !ok {
		return nil
	}

	var chain []string
	for cur := name; cur != RootVertex; cur = prev[cur] {
		chain = append(chain, cur)
	}
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain
}

// Dependencies returns the sorted names name depends on. RootVertex yields the roots.
func (c *Closure) Dependencies(name string) []string {
	if c.graph == nil {
		return nil
	}
	adj, err := c.graph.AdjacencyMap()
	if err != nil {
		return nil
	}
	return sortedKeysOf(adj[name])
}

// Dependents returns the sorted names depending on name, RootVertex included for roots
func (c *Closure) Dependents(name string) []string {
	if c.graph == nil {
		return nil
	}
	pred, err := c.graph.PredecessorMap()
	if err != nil {
		return nil
	}
	return sortedKeysOf(pred[name])
}
