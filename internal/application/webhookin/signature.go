package webhookin

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"

	"github.com/merchkit/opshub/internal/domain"
)

// signatureScheme describes how one platform signs webhook deliveries. All
// supported platforms use HMAC-SHA256 over the raw body; they differ in
// header name and digest encoding.
type signatureScheme struct {
	header   string
	encoding string // "base64" or "hex"
	prefix   string // stripped from the header value if present
}

var signatureSchemes = map[domain.Platform]signatureScheme{
	domain.PlatformShopify:  {header: "X-Shopify-Hmac-Sha256", encoding: "base64"},
	domain.PlatformPrintify: {header: "X-Printify-Signature", encoding: "hex", prefix: "sha256="},
	domain.PlatformEtsy:     {header: "X-Etsy-Signature", encoding: "hex"},
	domain.PlatformAmazon:   {header: "X-Amz-Signature", encoding: "hex"},
	domain.PlatformGumroad:  {header: "X-Gumroad-Signature", encoding: "hex"},
	domain.PlatformKDP:      {header: "X-Kdp-Signature", encoding: "hex"},
}

// verifySignature checks the platform signature header against
// HMAC-SHA256(secret, body) in constant time.
func verifySignature(platform domain.Platform, secret string, body []byte, header http.Header) error {
	scheme, ok := signatureSchemes[platform]
	if !ok {
		return fmt.Errorf("%w: no signature scheme for platform %s", domain.ErrUnauthorized, platform)
	}

	provided := header.Get(scheme.header)
	if provided == "" {
		return fmt.Errorf("%w: missing %s header", domain.ErrUnauthorized, scheme.header)
	}
	if scheme.prefix != "" {
		provided = strings.TrimPrefix(provided, scheme.prefix)
	}

	var providedMAC []byte
	var err error
	switch scheme.encoding {
	case "base64":
		providedMAC, err = base64.StdEncoding.DecodeString(provided)
	default:
		providedMAC, err = hex.DecodeString(provided)
	}
	if err != nil {
		return fmt.Errorf("%w: malformed signature", domain.ErrUnauthorized)
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	if !hmac.Equal(providedMAC, mac.Sum(nil)) {
		return fmt.Errorf("%w: signature mismatch", domain.ErrUnauthorized)
	}
	return nil
}

// computeSignature produces the header value a platform would send. Used by
// tests and by outbound delivery simulation in dev tooling.
func computeSignature(platform domain.Platform, secret string, body []byte) string {
	scheme := signatureSchemes[platform]
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	sum := mac.Sum(nil)

	var encoded string
	switch scheme.encoding {
	case "base64":
		encoded = base64.StdEncoding.EncodeToString(sum)
	default:
		encoded = hex.EncodeToString(sum)
	}
	return scheme.prefix + encoded
}
