package rewrite

import (
	"strconv"
	"strings"

	"github.com/johnjansen/marlin/config"
)

// LoadRuleSet reads one Rewriter configuration block (spec.md §6's
// "Rewriter: Protocol, Server, Port, Path, Route0..4, RemoveRoute,
// StartRoute and matching Target* fields", supplemented per
// original_source/Marlin/URLRewriter.cpp's InitRewriter with the
// Extension/TargetExtension pair it reads as its own config key,
// independent of Path) from src's "Rewrite" section, layered for
// persistName per config.Source's usual precedence. A config block
// declares at most one mapping per kind; wiring multiple rules for the
// same kind means loading multiple RuleSets into separate chained
// Rewriters.
func LoadRuleSet(src *config.Source, persistName string) RuleSet {
	sec := src.Section(persistName, "Rewrite")

	get := func(key string) string {
		if v, ok := sec[key]; ok {
			return v.String()
		}
		return ""
	}

	rs := RuleSet{
		Protocol:  Mapping{Match: get("Protocol"), Target: get("TargetProtocol")},
		Server:    Mapping{Match: get("Server"), Target: get("TargetServer")},
		Port:      Mapping{Match: get("Port"), Target: get("TargetPort")},
		Path:      Mapping{Match: get("Path"), Target: get("TargetPath")},
		Extension: Mapping{Match: get("Extension"), Target: get("TargetExtension")},
	}

	for i := 0; i < len(rs.Route); i++ {
		key := "Route" + strconv.Itoa(i)
		rs.Route[i] = Mapping{Match: get(key), Target: get("Target" + key)}
	}

	if raw := get("RemoveRoute"); raw != "" {
		for _, seg := range strings.Split(raw, ",") {
			seg = strings.TrimSpace(seg)
			if seg != "" {
				rs.RemoveRoute = append(rs.RemoveRoute, seg)
			}
		}
	}

	rs.StartRoute = get("StartRoute")

	return rs
}
