// SPDX-License-Identifier: MPL-2.0

package registry

import (
	"context"

	"github.com/bundlekit/bundlekit/pkg/bundle"
	"github.com/bundlekit/bundlekit/pkg/bundleuri"
)

type (
	// future is the handle concurrent requesters of one URI wait on. It is
	// settled exactly once: with a bundle on success, or empty when the load
	// failed, in which case waiters start their own attempt.
	future struct {
		done   chan struct{}
		bundle *bundle.Bundle
	}

	// chainLink is one ancestor in a load chain.
	chainLink struct {
		uri     string
		baseURI string
	}

	// chain is the immutable list of ancestors of the load in progress.
	// with never modifies the receiver, so sibling branches never see each
	// other's entries.
	chain []chainLink

	// waitGraph records which in-flight loads are blocked on which. An edge
	// a → b means the load of a cannot finish before the load of b.
	waitGraph map[string]map[string]int
)

func newFuture() *future {
	return &future{done: make(chan struct{})}
}

func (f *future) settle(b *bundle.Bundle) {
	f.bundle = b
	close(f.done)
}

// wait blocks until the future settles. A nil bundle means the load failed.
func (f *future) wait(ctx context.Context) (*bundle.Bundle, error) {
	select {
	case <-f.done:
		return f.bundle, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c chain) with(p *bundleuri.ParsedURI) chain {
	out := make(chain, len(c), len(c)+1)
	copy(out, c)
	return append(out, chainLink{uri: p.Raw, baseURI: p.BaseURI()})
}

// revisits reports whether loading p would re-enter the chain. A URI with a
// subdirectory may re-enter its own root, so only exact matches count for it.
func (c chain) revisits(p *bundleuri.ParsedURI) bool {
	base := p.BaseURI()
	for _, link := range c {
		if link.uri == p.Raw {
			return true
		}
		if p.Subpath == "" && link.baseURI == base {
			return true
		}
	}
	return false
}

func (c chain) uris() []string {
	out := make([]string, len(c))
	for i, link := range c {
		out[i] = link.uri
	}
	return out
}

func (g waitGraph) add(from, to string) {
	if from == "" {
		return
	}
	if g[from] == nil {
		g[from] = make(map[string]int)
	}
	g[from][to]++
}

func (g waitGraph) remove(from, to string) {
	edges := g[from]
	if edges == nil {
		return
	}
	if edges[to]--; edges[to] <= 0 {
		delete(edges, to)
	}
	if len(edges) == 0 {
		delete(g, from)
	}
}

// reaches reports whether from transitively waits on to.
func (g waitGraph) reaches(from, to string) bool {
	if from == to {
		return true
	}
	seen := map[string]bool{from: true}
	stack := []string{from}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for next := range g[cur] {
			if next == to {
				return true
			}
			if !seen[next] {
				seen[next] = true
				stack = append(stack, next)
			}
		}
	}
	return false
}
