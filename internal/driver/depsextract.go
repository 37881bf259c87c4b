package driver

import (
	"fmt"
	"os"
	"strings"

	"nb/internal/depfile"
	"nb/internal/graph"
)

// extractDeps pulls the dependency nodes a just-finished command discovered
// out of its depfile (deps=gcc) or its own captured output (deps=msvc),
// normalizing each mentioned path into a graph node. For msvc it also
// rewrites result.Output in place, stripping the /showIncludes lines it
// consumed so they don't clutter the printed build log.
func (b *Builder) extractDeps(edge *graph.Edge, result *Result) ([]*graph.Node, error) {
	switch edge.DepsType() {
	case "":
		return nil, nil
	case "gcc":
		return b.extractGCCDeps(edge)
	case "msvc":
		return b.extractMSVCDeps(edge, result)
	default:
		return nil, fmt.Errorf("edge %q has unknown deps type %q", edge.Outputs[0].Path(), edge.DepsType())
	}
}

func (b *Builder) extractGCCDeps(edge *graph.Edge) ([]*graph.Node, error) {
	path := edge.Depfile()
	if path == "" {
		return nil, fmt.Errorf("edge with deps=gcc but no depfile binding makes no sense")
	}
	content, err := b.disk.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading depfile %q: %w", path, err)
	}
	if content == "" {
		return nil, nil
	}
	f, err := depfile.Parse([]byte(content))
	if err != nil {
		return nil, fmt.Errorf("parsing depfile %q: %w", path, err)
	}
	nodes := make([]*graph.Node, 0, len(f.Prereqs))
	for _, prereq := range f.Prereqs {
		canon, slashBits := graph.CanonicalizePath(prereq)
		nodes = append(nodes, b.state.GetNode(canon, slashBits))
	}
	if !b.keepDepfile {
		if err := b.disk.RemoveFile(path); err != nil {
			return nil, err
		}
	}
	return nodes, nil
}

const msvcDepsPrefixDefault = "Note: including file: "

func (b *Builder) extractMSVCDeps(edge *graph.Edge, result *Result) ([]*graph.Node, error) {
	prefix := edge.GetBinding("msvc_deps_prefix")
	if prefix == "" {
		prefix = msvcDepsPrefixDefault
	}

	var filtered strings.Builder
	seen := map[string]bool{}
	var nodes []*graph.Node

	for _, line := range splitOutputLines(result.Output) {
		if rest, ok := strings.CutPrefix(line, prefix); ok {
			include := strings.TrimPrefix(rest, " ")
			if include == "" {
				continue
			}
			if !seen[include] {
				seen[include] = true
				canon, slashBits := graph.CanonicalizePath(include)
				nodes = append(nodes, b.state.GetNode(canon, slashBits))
			}
			continue
		}
		filtered.WriteString(line)
		filtered.WriteByte('\n')
	}
	result.Output = filtered.String()
	return nodes, nil
}

func splitOutputLines(s string) []string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.TrimSuffix(s, "\n")
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}
