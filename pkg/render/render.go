// Package render draws resolved dependency trees as Graphviz diagrams.
package render

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/goccy/go-graphviz"

	"github.com/matzehuels/lariat/pkg/deptree"
)

// Options configures diagram rendering.
type Options struct {
	// Detailed includes versions and categories in node labels. When
	// false, only the package name is shown.
	Detailed bool
}

// ToDOT converts a resolved tree to Graphviz DOT format. The resulting
// DOT string can be rendered with [RenderSVG] or [RenderPNG].
//
// VCS packages get a dashed outline and core packages a grey fill to
// distinguish them from repository packages.
func ToDOT(root *deptree.Node, opts Options) string {
	var buf bytes.Buffer
	buf.WriteString("digraph G {\n")
	buf.WriteString("  rankdir=TB;\n")
	buf.WriteString("  bgcolor=\"transparent\";\n")
	buf.WriteString("  node [shape=box, style=\"rounded,filled\", fillcolor=white, fontsize=24, margin=\"0.2,0.1\"];\n")
	buf.WriteString("  ranksep=0.5;\n")
	buf.WriteString("  nodesep=0.3;\n")
	buf.WriteString("\n")

	for _, n := range deptree.DepthFirstUnique(root) {
		attrs := fmtAttrs(n, fmtLabel(n, opts.Detailed))
		fmt.Fprintf(&buf, "  %q [%s];\n", nodeID(n), strings.Join(attrs, ", "))
	}

	buf.WriteString("\n")
	for _, edge := range edges(root) {
		fmt.Fprintf(&buf, "  %q -> %q;\n", edge[0], edge[1])
	}

	buf.WriteString("}\n")
	return buf.String()
}

func nodeID(n *deptree.Node) string {
	if n.Kind == deptree.KindRoot {
		return "project"
	}
	return n.Name
}

func fmtLabel(n *deptree.Node, detailed bool) string {
	id := nodeID(n)
	if !detailed || n.Kind == deptree.KindRoot {
		return id
	}

	var parts []string
	switch n.Kind {
	case deptree.KindSource:
		parts = append(parts, "version: "+n.Package.Version())
	case deptree.KindVCS:
		ref := n.Ref
		if ref == "" {
			ref = "HEAD"
		}
		parts = append(parts, n.VCSType+": "+n.URL+"@"+ref)
	}
	if cats := n.Categories(); len(cats) > 0 {
		parts = append(parts, "categories: "+strings.Join(cats, ", "))
	}
	if len(parts) == 0 {
		return id
	}
	return id + "\n" + strings.Join(parts, "\n")
}

func fmtAttrs(n *deptree.Node, label string) []string {
	attrs := []string{fmt.Sprintf("label=%q", label)}
	switch n.Kind {
	case deptree.KindVCS:
		attrs = append(attrs, "style=\"rounded,filled,dashed\"")
	case deptree.KindCore:
		attrs = append(attrs, "fillcolor=lightgrey")
	}
	return attrs
}

// edges collects every distinct parent -> child pair, shared nodes
// included, in depth-first order.
func edges(root *deptree.Node) [][2]string {
	var out [][2]string
	seenNode := make(map[*deptree.Node]bool)
	seenEdge := make(map[[2]string]bool)

	var walk func(n *deptree.Node)
	walk = func(n *deptree.Node) {
		if seenNode[n] {
			return
		}
		seenNode[n] = true
		for _, child := range n.Dependencies {
			edge := [2]string{nodeID(n), nodeID(child)}
			if !seenEdge[edge] {
				seenEdge[edge] = true
				out = append(out, edge)
			}
			walk(child)
		}
	}
	walk(root)
	return out
}

// RenderSVG renders a DOT graph to SVG using Graphviz.
func RenderSVG(dot string) ([]byte, error) {
	var buf bytes.Buffer
	if err := renderFormat(dot, graphviz.SVG, &buf); err != nil {
		return nil, err
	}
	return normalizeViewBox(buf.Bytes()), nil
}

// RenderPNG renders a DOT graph to PNG using Graphviz.
func RenderPNG(dot string) ([]byte, error) {
	var buf bytes.Buffer
	if err := renderFormat(dot, graphviz.PNG, &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func renderFormat(dot string, format graphviz.Format, buf *bytes.Buffer) error {
	ctx := context.Background()
	gv, err := graphviz.New(ctx)
	if err != nil {
		return fmt.Errorf("init graphviz: %w", err)
	}
	defer gv.Close()

	g, err := graphviz.ParseBytes([]byte(dot))
	if err != nil {
		return fmt.Errorf("parse DOT: %w", err)
	}
	defer g.Close()

	if err := gv.Render(ctx, g, format, buf); err != nil {
		return fmt.Errorf("render: %w", err)
	}
	return nil
}

var (
	svgTagRe  = regexp.MustCompile(`<svg[^>]*>`)
	viewBoxRe = regexp.MustCompile(`viewBox="([0-9.]+)\s+([0-9.]+)\s+([0-9.]+)\s+([0-9.]+)"`)
)

func normalizeViewBox(svg []byte) []byte {
	match := viewBoxRe.FindSubmatch(svg)
	if match == nil {
		return svg
	}

	w, _ := strconv.ParseFloat(string(match[3]), 64)
	h, _ := strconv.ParseFloat(string(match[4]), 64)
	if w == 0 || h == 0 {
		return svg
	}

	newSvg := fmt.Sprintf(`<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 %.2f %.2f" width="%.0f" height="%.0f">`,
		w, h, w, h)

	return svgTagRe.ReplaceAll(svg, []byte(newSvg))
}
