package auth

import "strings"

// Challenge is one parsed "Scheme param=value, param=value" entry from a
// WWW-Authenticate/Proxy-Authenticate header. A single header may carry
// several challenges (one per offered scheme).
type Challenge struct {
	Scheme string // lowercase
	Params map[string]string
}

// ParseChallenges splits a WWW-Authenticate/Proxy-Authenticate header value
// into its individual scheme challenges. This is a pragmatic parser
// (comma-separated key=value or key="quoted value" pairs, with a bare
// leading scheme token starting each challenge) rather than a full RFC 7235
// auth-param grammar implementation, sufficient for the Basic/Digest
// schemes spec.md §4.3 names.
func ParseChallenges(header string) []Challenge {
	segments := splitTopLevelCommas(header)

	var out []Challenge
	var cur *Challenge
	for _, seg := range segments {
		seg = strings.TrimSpace(seg)
		if seg == "" {
			continue
		}
		scheme, kv, startsNew := splitSchemeAndFirstParam(seg)
		if startsNew {
			out = append(out, Challenge{Scheme: strings.ToLower(scheme), Params: map[string]string{}})
			cur = &out[len(out)-1]
			seg = kv
			if seg == "" {
				continue
			}
		}
		if cur == nil {
			continue
		}
		k, v, ok := strings.Cut(seg, "=")
		if !ok {
			continue
		}
		cur.Params[strings.ToLower(strings.TrimSpace(k))] = strings.Trim(strings.TrimSpace(v), `"`)
	}
	return out
}

// splitTopLevelCommas splits on commas that are not inside a quoted string.
func splitTopLevelCommas(s string) []string {
	var out []string
	var cur strings.Builder
	inQuotes := false
	for _, r := range s {
		switch {
		case r == '"':
			inQuotes = !inQuotes
			cur.WriteRune(r)
		case r == ',' && !inQuotes:
			out = append(out, cur.String())
			cur.Reset()
		default:
			cur.WriteRune(r)
		}
	}
	out = append(out, cur.String())
	return out
}

// splitSchemeAndFirstParam detects "Scheme key=value" at the start of a
// segment (the opening segment of a new challenge) and separates the
// scheme token from its first param, if any. startsNew is false for a
// segment that is purely a continuation ("key=value") of the current
// challenge.
func splitSchemeAndFirstParam(seg string) (scheme, kvRemainder string, startsNew bool) {
	eq := strings.Index(seg, "=")
	sp := strings.IndexAny(seg, " \t")
	if sp == -1 {
		if eq == -1 {
			// Bare scheme token, no params at all.
			return seg, "", true
		}
		return "", seg, false
	}
	if eq == -1 || sp < eq {
		// There's whitespace before the first '=': "Digest realm=..." ->
		// scheme is the leading word.
		return seg[:sp], strings.TrimSpace(seg[sp+1:]), true
	}
	return "", seg, false
}

// Find returns the challenge offering scheme (case-insensitive), if any.
func Find(challenges []Challenge, scheme string) (Challenge, bool) {
	for _, c := range challenges {
		if strings.EqualFold(c.Scheme, scheme) {
			return c, true
		}
	}
	return Challenge{}, false
}
