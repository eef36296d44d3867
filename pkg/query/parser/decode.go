package parser

import (
	"net/url"
	"sort"
	"strings"
)

// Decode turns query parameters into a nested RawQuery. Brackets and dots in
// a key both open a level: "price[gt]=5" and "price.gt=5" decode to
// {"price": {"gt": "5"}}. Only the first value of a repeated key is used.
// When a key is both a scalar and a parent of nested keys, the nested map
// wins.
func Decode(values url.Values) RawQuery {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := RawQuery{}
	for _, k := range keys {
		vs := values[k]
		if len(vs) == 0 {
			continue
		}
		segments := splitKey(k)
		if len(segments) == 0 {
			continue
		}
		insert(out, segments, vs[0])
	}
	return out
}

func insert(q RawQuery, segments []string, value string) {
	cur := q
	for _, seg := range segments[:len(segments)-1] {
		next, ok := cur[seg].(RawQuery)
		if !ok {
			next = RawQuery{}
			cur[seg] = next
		}
		cur = next
	}

	last := segments[len(segments)-1]
	if _, isMap := cur[last].(RawQuery); isMap {
		return
	}
	cur[last] = value
}

// splitKey splits "a.b[c][d]" into [a b c d]. Dots inside brackets are kept;
// an unterminated bracket is taken literally. Empty segments are dropped.
func splitKey(key string) []string {
	var segments []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			segments = append(segments, cur.String())
			cur.Reset()
		}
	}

	for i := 0; i < len(key); i++ {
		switch key[i] {
		case '.':
			flush()
		case '[':
			end := strings.IndexByte(key[i+1:], ']')
			if end < 0 {
				cur.WriteString(key[i:])
				i = len(key)
				continue
			}
			flush()
			cur.WriteString(key[i+1 : i+1+end])
			flush()
			i += end + 1
		default:
			cur.WriteByte(key[i])
		}
	}
	flush()
	return segments
}
