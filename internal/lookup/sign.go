// Package lookup queries the external order-lookup API that maps a merchant
// order number to its pay order id.
package lookup

import (
	"crypto/md5"
	"encoding/hex"
	"sort"
	"strings"
)

// Sign returns the uppercase hex MD5 signature of params. The "sign" key and
// keys whose value is blank are skipped; the remaining pairs are joined in key
// order and suffixed with "&key=<secret>".
func Sign(params map[string]string, secret string) string {
	keys := make([]string, 0, len(params))
	for k, v := range params {
		if k == "sign" || strings.TrimSpace(v) == "" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for i, k := range keys {
		if i > 0 {
			sb.WriteByte('&')
		}
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(strings.TrimSpace(params[k]))
	}
	sb.WriteString("&key=")
	sb.WriteString(secret)

	sum := md5.Sum([]byte(sb.String()))
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}
