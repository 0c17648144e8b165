package webhookin

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/merchkit/opshub/internal/domain"
)

func TestExtractShopify(t *testing.T) {
	header := http.Header{}
	header.Set("X-Shopify-Topic", "orders/create")

	t.Run("prefers admin graphql id", func(t *testing.T) {
		body := []byte(`{"id":820982911946154508,"admin_graphql_api_id":"gid://shopify/Order/820982911946154508"}`)
		ex := extract(domain.PlatformShopify, body, header)
		require.Equal(t, "gid://shopify/Order/820982911946154508", ex.ExternalID)
		require.Equal(t, "orders/create", ex.EventType)
	})

	t.Run("falls back to numeric id", func(t *testing.T) {
		ex := extract(domain.PlatformShopify, []byte(`{"id":12345}`), header)
		require.Equal(t, "12345", ex.ExternalID)
	})

	t.Run("falls back to webhook id header", func(t *testing.T) {
		withID := http.Header{}
		withID.Set("X-Shopify-Topic", "orders/create")
		withID.Set("X-Shopify-Webhook-Id", "wh-1")
		ex := extract(domain.PlatformShopify, []byte(`{}`), withID)
		require.Equal(t, "wh-1", ex.ExternalID)
	})
}

func TestExtractPrintifyNestedResource(t *testing.T) {
	body := []byte(`{"type":"order:created","resource":{"id":"5a96f649b2439217d070f507"}}`)
	ex := extract(domain.PlatformPrintify, body, http.Header{})
	require.Equal(t, "order:created", ex.EventType)
	require.Equal(t, "5a96f649b2439217d070f507", ex.ExternalID)
}

func TestExtractDigestsUnidentifiablePayloads(t *testing.T) {
	a := extract(domain.PlatformGumroad, []byte(`{"event_type":"sale"}`), http.Header{})
	b := extract(domain.PlatformGumroad, []byte(`{"event_type":"sale"}`), http.Header{})
	c := extract(domain.PlatformGumroad, []byte(`{"event_type":"sale","x":1}`), http.Header{})

	require.NotEmpty(t, a.ExternalID)
	require.Equal(t, a.ExternalID, b.ExternalID, "identical bodies must dedup")
	require.NotEqual(t, a.ExternalID, c.ExternalID, "distinct bodies must not collide")
}

func TestExtractNonJSONBody(t *testing.T) {
	ex := extract(domain.PlatformGumroad, []byte("seller_id=abc&price=100"), http.Header{})
	require.Equal(t, "unknown", ex.EventType)
	require.NotEmpty(t, ex.ExternalID)
	require.NotNil(t, ex.Data)
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name         string
		platform     domain.Platform
		eventType    string
		resourceType string
		action       string
	}{
		{"shopify create", domain.PlatformShopify, "orders/create", "order", "create"},
		{"shopify update", domain.PlatformShopify, "products/update", "product", "update"},
		{"shopify delete", domain.PlatformShopify, "products/delete", "product", "delete"},
		{"printify publish", domain.PlatformPrintify, "product:publish:started", "product", "update"},
		{"printify created", domain.PlatformPrintify, "order:created", "order", "create"},
		{"etsy dotted", domain.PlatformEtsy, "listings.updated", "listing", "update"},
		{"cancelled maps to delete", domain.PlatformEtsy, "orders.cancelled", "order", "delete"},
		{"unparseable topic", domain.PlatformShopify, "ping", "unknown", "update"},
		{"unknown verb defaults to update", domain.PlatformShopify, "orders/fulfilled", "order", "update"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := normalize(tt.platform, extracted{EventType: tt.eventType, ExternalID: "x"})
			require.Equal(t, tt.eventType, ev.EventType)
			require.Equal(t, tt.resourceType, ev.ResourceType)
			require.Equal(t, tt.action, ev.Action)
			require.Equal(t, "x", ev.ResourceID)
		})
	}
}

func TestStringField(t *testing.T) {
	data := domain.Payload{
		"s":     "abc",
		"small": float64(42),
		"frac":  1.5,
		"b":     true,
	}
	require.Equal(t, "abc", stringField(data, "s"))
	require.Equal(t, "42", stringField(data, "small"))
	require.Equal(t, "1.5", stringField(data, "frac"))
	require.Equal(t, "", stringField(data, "b"))
	require.Equal(t, "", stringField(data, "missing"))
}
