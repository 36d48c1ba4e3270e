// Package rewrite implements Marlin's URL rewriter / reverse-proxy
// chain (spec.md §4.I): a RuleSet of protocol/server/port/path/extension/route
// substitutions evaluated against an inbound message, and a Chain of
// Rewriters that forwards the request to a backend the moment one of
// them mutates the URL.
//
// Grounded on other_examples/ManuGH-xg2g's stream proxy: its Director
// closure over httputil.ReverseProxy that rewrites req.URL/Host ahead
// of forwarding, and its http.Transport tuning (dial/keepalive/idle
// timeouts) for the outbound client. The rule shape itself (named
// Match/Target pairs keyed by Protocol/Server/Port/Path/Extension/RouteN)
// comes from spec.md §6's site configuration surface, not from the
// teacher, since the teacher proxy has no rule-table rewriter of its
// own — only a single fixed Director. The eight-step evaluation order
// and the Path/Extension split are grounded directly on
// original_source/Marlin/URLRewriter.cpp's ReWriteURL: it sums the
// return values of RewritePath and RewriteExtension as two distinct
// calls against two distinct maps (m_pathMap, m_extensionMap), not one
// folded lookup.
package rewrite

import (
	"strconv"
	"strings"

	"github.com/johnjansen/marlin/message"
)

// Mapping is a single Match -> Target substitution. A zero-value
// Mapping (Match and Target both empty) is never applied — RuleSet
// only evaluates mappings a caller explicitly set.
type Mapping struct {
	Match  string
	Target string
}

func (m Mapping) present() bool { return m.Match != "" || m.Target != "" }

// RuleSet holds at most one mapping per kind, per spec.md §4.I /
// §6's "a single configuration block may declare at most one mapping
// per kind" constraint. Multiple rules on the same kind require
// multiple chained Rewriters.
type RuleSet struct {
	Protocol Mapping
	Server   Mapping
	Port     Mapping
	Path     Mapping

	// Extension maps a path's file extension independently of Path, per
	// original_source/Marlin/URLRewriter.cpp's separate m_extensionMap
	// and RewriteExtension step. Match/Target hold the extension without
	// its leading dot ("jpg", not ".jpg"), matching the config surface's
	// "extension:ext" naming.
	Extension Mapping

	// Route holds Route0..Route4: a mapping applied against the
	// routing segment at that index, when present.
	Route [5]Mapping

	// RemoveRoute names routing segments to drop wherever they occur,
	// the comma-list the config surface names.
	RemoveRoute []string

	// StartRoute, if non-empty, is prepended to the routing segments.
	StartRoute string
}

// Evaluate applies rs to msg in the fixed eight-step order
// original_source/Marlin/URLRewriter.cpp's ReWriteURL sums — protocol,
// server, port, path, extension, from-route (StartRoute), route
// (RouteN substitution), del-route (RemoveRoute) — and returns how many
// substitutions actually changed something. msg is mutated in place; a
// Path or Extension mapping also rewrites msg.Routing to match.
func (rs RuleSet) Evaluate(msg *message.Message) int {
	changes := 0

	if rs.Protocol.present() && msg.Scheme == rs.Protocol.Match {
		msg.Scheme = rs.Protocol.Target
		changes++
	}
	if rs.Server.present() && msg.Host == rs.Server.Match {
		msg.Host = rs.Server.Target
		changes++
	}
	if rs.Port.present() && strconv.Itoa(msg.Port) == rs.Port.Match {
		port, err := strconv.Atoi(rs.Port.Target)
		if err == nil {
			msg.Port = port
			changes++
		}
	}
	if rs.Path.present() && strings.HasPrefix(msg.Path, rs.Path.Match) {
		msg.Path = rs.Path.Target + strings.TrimPrefix(msg.Path, rs.Path.Match)
		msg.Routing = splitRouting(msg.Path)
		changes++
	}
	if rs.Extension.present() && pathExtension(msg.Path) == rs.Extension.Match {
		msg.Path = replacePathExtension(msg.Path, rs.Extension.Target)
		msg.Routing = splitRouting(msg.Path)
		changes++
	}

	if rs.StartRoute != "" {
		msg.Routing = append([]string{rs.StartRoute}, msg.Routing...)
		changes++
	}

	for i, m := range rs.Route {
		if !m.present() || i >= len(msg.Routing) {
			continue
		}
		if msg.Routing[i] == m.Match {
			msg.Routing[i] = m.Target
			changes++
		}
	}

	if len(rs.RemoveRoute) > 0 {
		kept := msg.Routing[:0:0]
		for _, seg := range msg.Routing {
			if containsSegment(rs.RemoveRoute, seg) {
				changes++
				continue
			}
			kept = append(kept, seg)
		}
		msg.Routing = kept
	}

	return changes
}

func containsSegment(list []string, seg string) bool {
	for _, s := range list {
		if s == seg {
			return true
		}
	}
	return false
}

// pathExtension returns the last path segment's file extension without
// its leading dot, or "" if the segment has none. Mirrors
// CrackedURL::GetExtension from original_source/Marlin/URLRewriter.cpp.
func pathExtension(path string) string {
	seg := path
	if i := strings.LastIndex(path, "/"); i >= 0 {
		seg = path[i+1:]
	}
	dot := strings.LastIndex(seg, ".")
	if dot < 0 {
		return ""
	}
	return seg[dot+1:]
}

// replacePathExtension swaps the last path segment's extension for ext
// (without a leading dot), leaving the rest of the path untouched.
// Mirrors CrackedURL::SetExtension.
func replacePathExtension(path, ext string) string {
	dir, seg := path, ""
	if i := strings.LastIndex(path, "/"); i >= 0 {
		dir, seg = path[:i+1], path[i+1:]
	}
	if dot := strings.LastIndex(seg, "."); dot >= 0 {
		seg = seg[:dot]
	}
	if ext != "" {
		seg += "." + ext
	}
	return dir + seg
}

func splitRouting(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}
