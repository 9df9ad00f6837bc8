package core

import (
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// Key derives the canonical fingerprint of a logical request:
//
//	method:url:canonical(params):canonical(body)
//
// Mappings are serialised with keys in lexicographic order, recursively, so
// two requests that differ only in key ordering produce equal keys.
// Sequences preserve element order. Binary bodies collapse to a stable
// digest of their byte identity.
//
// The key is used by the cache and the debounce/throttle coalescer.
func Key(r *Request) string {
	var b strings.Builder
	b.WriteString(string(r.Method))
	b.WriteByte(':')
	b.WriteString(r.URL)
	b.WriteByte(':')
	writeCanonical(&b, paramsValue(r.Params))
	b.WriteByte(':')
	writeCanonical(&b, r.Body)
	return b.String()
}

func paramsValue(params map[string]string) any {
	if len(params) == 0 {
		return nil
	}
	m := make(map[string]any, len(params))
	for k, v := range params {
		m[k] = v
	}
	return m
}

// writeCanonical emits a stable serialisation of v. Maps sort their keys,
// slices keep order, raw bytes hash to their identity, and everything else
// round-trips through JSON so struct bodies normalise the same way their
// wire form would.
func writeCanonical(b *strings.Builder, v any) {
	switch val := v.(type) {
	case nil:
		b.WriteString("null")
	case []byte:
		fmt.Fprintf(b, "bytes:%016x", xxhash.Sum64(val))
	case string:
		b.WriteString(strconv.Quote(val))
	case bool:
		b.WriteString(strconv.FormatBool(val))
	case int:
		b.WriteString(strconv.Itoa(val))
	case int64:
		b.WriteString(strconv.FormatInt(val, 10))
	case float64:
		b.WriteString(strconv.FormatFloat(val, 'g', -1, 64))
	case url.Values:
		writeCanonicalValues(b, val)
	case map[string]string:
		m := make(map[string]any, len(val))
		for k, s := range val {
			m[k] = s
		}
		writeCanonicalMap(b, m)
	case map[string]any:
		writeCanonicalMap(b, val)
	case []any:
		b.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				b.WriteByte(',')
			}
			writeCanonical(b, item)
		}
		b.WriteByte(']')
	default:
		// Arbitrary struct bodies: normalise through JSON, then
		// canonicalise the generic form.
		raw, err := json.Marshal(val)
		if err != nil {
			fmt.Fprintf(b, "opaque:%T", val)
			return
		}
		var generic any
		if err := json.Unmarshal(raw, &generic); err != nil {
			fmt.Fprintf(b, "bytes:%016x", xxhash.Sum64(raw))
			return
		}
		writeCanonical(b, generic)
	}
}

func writeCanonicalMap(b *strings.Builder, m map[string]any) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Quote(k))
		b.WriteByte(':')
		writeCanonical(b, m[k])
	}
	b.WriteByte('}')
}

func writeCanonicalValues(b *strings.Builder, v url.Values) {
	keys := make([]string, 0, len(v))
	for k := range v {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Quote(k))
		b.WriteByte(':')
		vals := make([]any, len(v[k]))
		for j, s := range v[k] {
			vals[j] = s
		}
		writeCanonical(b, vals)
	}
	b.WriteByte('}')
}
