package upstream

import "strings"

// NormalizeID converts an upstream identifier to canonical dashed UUID form.
// Upstream may hand back either the canonical dashed form or a compact 32-hex
// form; the zero-id sentinel is preserved unchanged in either shape.
func NormalizeID(id string) string {
	id = strings.TrimSpace(id)
	if strings.Contains(id, "-") {
		return strings.ToLower(id)
	}
	if len(id) != 32 {
		return strings.ToLower(id)
	}
	id = strings.ToLower(id)
	return strings.Join([]string{
		id[0:8], id[8:12], id[12:16], id[16:20], id[20:32],
	}, "-")
}
