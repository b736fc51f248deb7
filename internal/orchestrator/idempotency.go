package orchestrator

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// idempotencyKey derives a deterministic key for one mutating call from the
// turn identity and canonicalized parameters. Replaying the same turn yields
// the same key, so the backend can dedupe the side effect.
func idempotencyKey(userCtx UserContext, tool string, params map[string]any) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s|%s", userCtx.ConversationID, userCtx.MessageID, tool, canonicalParams(params))
	return hex.EncodeToString(h.Sum(nil))
}

// canonicalParams renders parameters with sorted keys so map iteration order
// cannot change the key.
func canonicalParams(params map[string]any) string {
	if len(params) == 0 {
		return ""
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		encoded, err := json.Marshal(params[k])
		if err != nil {
			encoded = []byte(fmt.Sprintf("%v", params[k]))
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.Write(encoded)
		b.WriteByte(';')
	}
	return b.String()
}
