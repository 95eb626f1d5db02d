// Package payments verifies payment provider notifications and settles the
// orders they refer to.
package payments

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strconv"
	"strings"
)

// excludedFields never take part in the token
var excludedFields = map[string]bool{
	"Receipt": true,
	"Data":    true,
	"Token":   true,
}

// Token computes the provider signature of params: the password is added
// under "Password", excluded and non-scalar fields are dropped, and the
// values are concatenated in key order and hashed with SHA-256.
func Token(params map[string]any, password string) string {
	fields := make(map[string]string, len(params)+1)
	for k, v := range params {
		if excludedFields[k] {
			continue
		}
		if s, ok := scalar(v); ok {
			fields[k] = s
		}
	}
	fields["Password"] = password

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		b.WriteString(fields[k])
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

func scalar(v any) (string, bool) {
	switch x := v.(type) {
	case string:
		return x, true
	case bool:
		return strconv.FormatBool(x), true
	case json.Number:
		return x.String(), true
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), true
	case int:
		return strconv.Itoa(x), true
	case int64:
		return strconv.FormatInt(x, 10), true
	case nil:
		return "", false
	default:
		// Nested objects and arrays are not signed.
		return "", false
	}
}
