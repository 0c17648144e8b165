package webhookin

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/merchkit/opshub/internal/domain"
)

// extracted carries the identity of one delivery before normalization.
type extracted struct {
	ExternalID string
	EventType  string
	Data       domain.Payload
}

// extract pulls external_id and event_type out of a delivery. It is total:
// payloads missing an id fall back to a digest of the body, so replay dedup
// still works.
func extract(platform domain.Platform, body []byte, header http.Header) extracted {
	var data domain.Payload
	// Non-JSON bodies (form fallback) keep an empty data map.
	_ = json.Unmarshal(body, &data)
	if data == nil {
		data = domain.Payload{}
	}

	ex := extracted{Data: data}
	switch platform {
	case domain.PlatformShopify:
		ex.EventType = header.Get("X-Shopify-Topic")
		ex.ExternalID = stringField(data, "admin_graphql_api_id")
		if ex.ExternalID == "" {
			ex.ExternalID = stringField(data, "id")
		}
		if ex.ExternalID == "" {
			ex.ExternalID = header.Get("X-Shopify-Webhook-Id")
		}
	case domain.PlatformPrintify:
		ex.EventType = stringField(data, "type")
		ex.ExternalID = stringField(data, "id")
		if ex.ExternalID == "" {
			if res, ok := data["resource"].(map[string]any); ok {
				ex.ExternalID = stringField(res, "id")
			}
		}
	default:
		ex.EventType = stringField(data, "event_type")
		if ex.EventType == "" {
			ex.EventType = stringField(data, "type")
		}
		ex.ExternalID = stringField(data, "id")
	}

	if ex.EventType == "" {
		ex.EventType = "unknown"
	}
	if ex.ExternalID == "" {
		sum := sha256.Sum256(body)
		ex.ExternalID = hex.EncodeToString(sum[:16])
	}
	return ex
}

// normalize maps a platform delivery onto the platform-independent event
// shape. Unknown topics become resource_type "unknown" with action "update"
// rather than failing.
func normalize(platform domain.Platform, ex extracted) domain.NormalizedEvent {
	ev := domain.NormalizedEvent{
		EventType:    ex.EventType,
		ResourceType: "unknown",
		ResourceID:   ex.ExternalID,
		Action:       "update",
		Data:         ex.Data,
	}

	switch platform {
	case domain.PlatformShopify:
		// Topics look like "orders/create".
		if res, action, ok := strings.Cut(ex.EventType, "/"); ok {
			ev.ResourceType = singular(res)
			ev.Action = normalizeAction(action)
		}
	case domain.PlatformPrintify:
		// Types look like "product:publish:started" or "order:created".
		parts := strings.Split(ex.EventType, ":")
		if len(parts) >= 2 {
			ev.ResourceType = singular(parts[0])
			ev.Action = normalizeAction(parts[1])
		}
	default:
		if res, action, ok := strings.Cut(ex.EventType, "."); ok {
			ev.ResourceType = singular(res)
			ev.Action = normalizeAction(action)
		}
	}
	return ev
}

func normalizeAction(action string) string {
	switch action {
	case "create", "created", "add", "added":
		return "create"
	case "update", "updated", "edit", "edited", "publish", "published":
		return "update"
	case "delete", "deleted", "remove", "removed", "cancelled", "canceled":
		return "delete"
	default:
		return "update"
	}
}

func singular(resource string) string {
	if resource == "" {
		return "unknown"
	}
	return strings.TrimSuffix(resource, "s")
}

func stringField(data domain.Payload, key string) string {
	switch v := data[key].(type) {
	case string:
		return v
	case float64:
		// JSON numbers decode as float64; platform ids are integral.
		if v == math.Trunc(v) {
			return strconv.FormatInt(int64(v), 10)
		}
		return strconv.FormatFloat(v, 'f', -1, 64)
	case json.Number:
		return v.String()
	default:
		return ""
	}
}
