package asterdex

import (
	"fmt"
	"strings"

	"perpscope/internal/model"
)

// logoCDN serves coin icons keyed by lower-case base symbol.
const logoCDN = "https://cdn.asterdex.com/icons"

// Logos derives a base-symbol → icon-URL map from the current
// instrument universe. No network call per symbol; the CDN path is
// deterministic. Cached by the caller under the logo cache key.
func (c *Client) Logos(instruments []model.Instrument) map[string]string {
	out := make(map[string]string, len(instruments))
	for _, inst := range instruments {
		if inst.Symbol == "" {
			continue
		}
		out[inst.Symbol] = fmt.Sprintf("%s/%s.png", logoCDN, strings.ToLower(inst.Symbol))
	}
	return out
}
