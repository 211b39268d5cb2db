package jwtkit

import (
	"encoding/base64"
	"encoding/json"
	"strings"

	"github.com/PaulFidika/spinauth/autherr"
)

const bearerScheme = "Bearer"

// ExtractBearer pulls the token out of an Authorization header value of the
// form "Bearer <token>". The scheme is case-sensitive and separated by a single
// space. Quote characters wrapping the token are stripped, since some clients
// send the header as Bearer "<jwt>".
func ExtractBearer(header string) (string, error) {
	if header == "" {
		return "", autherr.New(autherr.InvalidHeaderFormat, "")
	}
	parts := strings.Split(header, " ")
	if len(parts) != 2 || parts[0] != bearerScheme {
		return "", autherr.New(autherr.InvalidHeaderFormat, "")
	}
	token := strings.Trim(parts[1], `"`)
	if token == "" {
		return "", autherr.New(autherr.InvalidHeaderFormat, "")
	}
	return token, nil
}

// SegmentCount returns the number of dot-separated segments in token.
// Used for diagnostics; it never fails.
func SegmentCount(token string) int {
	if token == "" {
		return 0
	}
	return strings.Count(token, ".") + 1
}

// SplitToken validates the gross shape of a compact JWS: exactly three
// non-empty dot-separated segments (header, payload, signature).
func SplitToken(token string) ([3]string, error) {
	var out [3]string
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return out, autherr.New(autherr.MalformedToken, "")
	}
	for i, p := range parts {
		if p == "" {
			return out, autherr.New(autherr.MalformedToken, "")
		}
		out[i] = p
	}
	return out, nil
}

// UnverifiedHeader is the decoded JOSE header of a token whose signature has
// not been checked yet. It is only good for picking a candidate key.
type UnverifiedHeader struct {
	Alg string
	Kid string
	Typ string
	Raw map[string]any
}

// ParseUnverifiedHeader checks the token shape and decodes its first segment.
// The payload and signature are left alone; that is the verifier's job.
func ParseUnverifiedHeader(token string) (UnverifiedHeader, error) {
	segs, err := SplitToken(token)
	if err != nil {
		return UnverifiedHeader{}, err
	}
	b, err := decodeSegment(segs[0])
	if err != nil {
		return UnverifiedHeader{}, autherr.Wrap(autherr.MalformedToken, "", err)
	}
	var raw map[string]any
	if err := json.Unmarshal(b, &raw); err != nil || raw == nil {
		if err == nil {
			err = errNullHeader
		}
		return UnverifiedHeader{}, autherr.Wrap(autherr.MalformedToken, "", err)
	}
	h := UnverifiedHeader{Raw: raw}
	h.Alg, _ = raw["alg"].(string)
	h.Kid, _ = raw["kid"].(string)
	h.Typ, _ = raw["typ"].(string)
	return h, nil
}

type headerError string

func (e headerError) Error() string { return string(e) }

const errNullHeader = headerError("token header is not a JSON object")

// decodeSegment accepts base64url with or without padding.
func decodeSegment(seg string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(strings.TrimRight(seg, "="))
}
