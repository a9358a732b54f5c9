package mcp

// normalizeArguments repairs recurring mistakes models make when filling
// tool parameters, so a slightly wrong call still reaches the provider in
// a shape it accepts. The input map is never mutated.
func normalizeArguments(name string, args map[string]any) map[string]any {
	if args == nil {
		args = map[string]any{}
	}
	fixed := make(map[string]any, len(args))
	for k, v := range args {
		fixed[k] = v
	}

	switch name {
	case "get_observations":
		// Range bounds without date="range" make the provider ignore
		// them; models set one and forget the other constantly.
		if truthy(fixed["date_range_start"]) || truthy(fixed["date_range_end"]) {
			if fixed["date"] != "range" {
				fixed["date"] = "range"
			}
		}
		if _, ok := fixed["date"]; !ok {
			fixed["date"] = "latest"
		}
		for k, v := range fixed {
			if v == nil {
				delete(fixed, k)
			}
		}

	case "search_indicators":
		if place, ok := fixed["places"].(string); ok {
			fixed["places"] = []any{place}
		}
	}

	return fixed
}

// truthy mirrors loose JSON truthiness: nil, "", false, and zero are all
// treated as absent.
func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case string:
		return t != ""
	case bool:
		return t
	case float64:
		return t != 0
	default:
		return true
	}
}
