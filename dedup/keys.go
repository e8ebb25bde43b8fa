package dedup

import (
	"encoding/hex"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// Canonical keys longer than this are replaced by their digest so map
// keys stay bounded regardless of parameter size.
const maxKeyLength = 256

// Parameter names treated as geographic coordinates. Their values are
// rounded to three decimal places (roughly 110m) before inclusion so GPS
// jitter does not defeat deduplication.
var coordinateParams = map[string]struct{}{
	"lat":       {},
	"latitude":  {},
	"lng":       {},
	"lon":       {},
	"long":      {},
	"longitude": {},
}

// QueryKey derives a deduplication key from a query-style call:
// method + target + a stable ordering of parameters.
func QueryKey(method, target string, params map[string]any) string {
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString(method)
	b.WriteByte('|')
	b.WriteString(target)
	for _, name := range names {
		b.WriteByte('|')
		b.WriteString(name)
		b.WriteByte('=')
		b.WriteString(canonicalValue(name, params[name]))
	}

	key := b.String()
	if len(key) > maxKeyLength {
		sum := blake2b.Sum256([]byte(key))
		return fmt.Sprintf("%s|%s|#%s", method, target, hex.EncodeToString(sum[:16]))
	}
	return key
}

// RoundCoordinate rounds a geographic coordinate to three decimal places.
func RoundCoordinate(v float64) float64 {
	return math.Round(v*1000) / 1000
}

func canonicalValue(name string, value any) string {
	switch v := value.(type) {
	case float64:
		if _, ok := coordinateParams[strings.ToLower(name)]; ok {
			return strconv.FormatFloat(RoundCoordinate(v), 'f', 3, 64)
		}
		return strconv.FormatFloat(v, 'g', -1, 64)
	case float32:
		return canonicalValue(name, float64(v))
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case uint64:
		return strconv.FormatUint(v, 10)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", v)
	}
}
