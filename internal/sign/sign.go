// Package sign builds signed query strings for the provider's
// authenticated endpoints.
package sign

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strconv"
)

// HeaderAPIKey carries the API key identifier on authenticated requests.
const HeaderAPIKey = "X-MBX-APIKEY"

// Builder constructs canonical query strings and HMAC-SHA256 signatures
// over them. The signature is computed over the byte-identical string that
// is sent; callers must not reorder or re-encode the result afterwards.
type Builder struct {
	apiKey string
	secret []byte
}

// New creates a Builder for the given credentials. An empty secret yields
// signatures the provider will reject; configuration validation guards
// against that before any request is built.
func New(apiKey, secret string) *Builder {
	return &Builder{apiKey: apiKey, secret: []byte(secret)}
}

// Query encodes parameters in sorted key order. url.Values.Encode already
// sorts, which gives the stable order the signature depends on.
func (b *Builder) Query(params map[string]string) string {
	v := url.Values{}
	for k, val := range params {
		v.Set(k, val)
	}
	return v.Encode()
}

// SignedQuery merges the shared timestamp and receive window into the
// parameters, encodes them canonically and appends the signature.
func (b *Builder) SignedQuery(params map[string]string, timestamp, recvWindow int64) string {
	merged := make(map[string]string, len(params)+2)
	for k, val := range params {
		merged[k] = val
	}
	merged["timestamp"] = strconv.FormatInt(timestamp, 10)
	merged["recvWindow"] = strconv.FormatInt(recvWindow, 10)

	qs := b.Query(merged)
	return qs + "&signature=" + b.Sign(qs)
}

// Sign returns the hex HMAC-SHA256 of the exact payload string.
func (b *Builder) Sign(payload string) string {
	mac := hmac.New(sha256.New, b.secret)
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

// Headers returns the authentication headers for signed requests.
func (b *Builder) Headers() map[string]string {
	return map[string]string{HeaderAPIKey: b.apiKey}
}
