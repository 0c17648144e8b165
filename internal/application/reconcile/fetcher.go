package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/merchkit/opshub/internal/application/gateway"
	"github.com/merchkit/opshub/internal/domain"
)

// maxPages bounds a single pass so a misbehaving platform cannot pin a
// worker for its whole lease.
const maxPages = 50

// Caller is the slice of the gateway the fetcher needs.
type Caller interface {
	Call(ctx context.Context, storeID string, req gateway.Request) (*gateway.Response, error)
}

// GatewayFetcher pulls remote listings through the platform gateway,
// GraphQL for cost-metered platforms and paginated REST for the rest.
type GatewayFetcher struct {
	gw Caller
}

// NewGatewayFetcher wires a GatewayFetcher.
func NewGatewayFetcher(gw Caller) *GatewayFetcher {
	return &GatewayFetcher{gw: gw}
}

func (f *GatewayFetcher) FetchListings(ctx context.Context, store *domain.Store) ([]RemoteListing, error) {
	if store.Platform == domain.PlatformShopify {
		return f.fetchShopify(ctx, store)
	}
	return f.fetchRest(ctx, store)
}

// shopifyProductsQuery pages through products with their primary variant.
// The cursor argument is always present so pagination metadata survives
// query slimming.
const shopifyProductsQuery = `{
  products(first: 100, after: %s) {
    pageInfo { hasNextPage endCursor }
    edges {
      node {
        id
        status
        variants(first: 1) {
          edges { node { price inventoryQuantity } }
        }
      }
    }
  }
}`

type shopifyProductsPage struct {
	Data struct {
		Products struct {
			PageInfo struct {
				HasNextPage bool   `json:"hasNextPage"`
				EndCursor   string `json:"endCursor"`
			} `json:"pageInfo"`
			Edges []struct {
				Node struct {
					ID       string `json:"id"`
					Status   string `json:"status"`
					Variants struct {
						Edges []struct {
							Node struct {
								Price             string `json:"price"`
								InventoryQuantity int    `json:"inventoryQuantity"`
							} `json:"node"`
						} `json:"edges"`
					} `json:"variants"`
				} `json:"node"`
			} `json:"edges"`
		} `json:"products"`
	} `json:"data"`
}

func (f *GatewayFetcher) fetchShopify(ctx context.Context, store *domain.Store) ([]RemoteListing, error) {
	var out []RemoteListing
	cursor := "null"

	for page := 0; page < maxPages; page++ {
		resp, err := f.gw.Call(ctx, store.ID, gateway.Request{
			Path:    "/admin/api/2024-07/graphql.json",
			GraphQL: fmt.Sprintf(shopifyProductsQuery, cursor),
		})
		if err != nil {
			return nil, err
		}

		var parsed shopifyProductsPage
		if err := json.Unmarshal(resp.Body, &parsed); err != nil {
			return nil, fmt.Errorf("failed to decode products page: %w", err)
		}

		products := parsed.Data.Products
		for _, edge := range products.Edges {
			listing := RemoteListing{
				ExternalID: edge.Node.ID,
				Status:     edge.Node.Status,
			}
			if variants := edge.Node.Variants.Edges; len(variants) > 0 {
				listing.Quantity = variants[0].Node.InventoryQuantity
				if p, err := strconv.ParseFloat(variants[0].Node.Price, 64); err == nil {
					listing.Price = p
				}
			}
			out = append(out, listing)
		}

		if !products.PageInfo.HasNextPage || products.PageInfo.EndCursor == "" {
			return out, nil
		}
		cursor = strconv.Quote(products.PageInfo.EndCursor)
	}
	return out, nil
}

// restListingEndpoint maps REST platforms to their listing collection path.
func restListingEndpoint(platform domain.Platform) string {
	switch platform {
	case domain.PlatformPrintify:
		return "/v1/shops/products.json"
	case domain.PlatformEtsy:
		return "/v3/application/listings"
	case domain.PlatformGumroad:
		return "/v2/products"
	default:
		return "/listings"
	}
}

// flexString decodes either a JSON string or a bare number; the platforms
// disagree on which their ids and prices are.
type flexString string

func (s *flexString) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*s = flexString(v)
		return nil
	}
	if string(b) == "null" {
		*s = ""
		return nil
	}
	*s = flexString(b)
	return nil
}

// restListing tolerates the field spellings the platforms disagree on.
type restListing struct {
	ID       flexString `json:"id"`
	Status   string     `json:"status"`
	State    string     `json:"state"`
	Quantity *int       `json:"quantity"`
	Stock    *int       `json:"stock"`
	Price    flexString `json:"price"`
}

type restListingPage struct {
	Data     []restListing `json:"data"`
	Listings []restListing `json:"listings"`
	Products []restListing `json:"products"`
	Results  []restListing `json:"results"`
}

func (f *GatewayFetcher) fetchRest(ctx context.Context, store *domain.Store) ([]RemoteListing, error) {
	endpoint := restListingEndpoint(store.Platform)
	var out []RemoteListing

	for page := 1; page <= maxPages; page++ {
		resp, err := f.gw.Call(ctx, store.ID, gateway.Request{
			Method: http.MethodGet,
			Path:   endpoint,
			Query: url.Values{
				"page":  []string{strconv.Itoa(page)},
				"limit": []string{"100"},
			},
		})
		if err != nil {
			return nil, err
		}

		items, err := decodeRestPage(resp.Body)
		if err != nil {
			return nil, err
		}
		if len(items) == 0 {
			return out, nil
		}
		for _, item := range items {
			out = append(out, item.toRemote())
		}
		if len(items) < 100 {
			return out, nil
		}
	}
	return out, nil
}

func decodeRestPage(body []byte) ([]restListing, error) {
	// Bare arrays first, then the envelope spellings.
	var bare []restListing
	if err := json.Unmarshal(body, &bare); err == nil {
		return bare, nil
	}
	var page restListingPage
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, fmt.Errorf("failed to decode listings page: %w", err)
	}
	for _, candidate := range [][]restListing{page.Data, page.Listings, page.Products, page.Results} {
		if len(candidate) > 0 {
			return candidate, nil
		}
	}
	return nil, nil
}

func (r restListing) toRemote() RemoteListing {
	listing := RemoteListing{
		ExternalID: string(r.ID),
		Status:     r.Status,
	}
	if listing.Status == "" {
		listing.Status = r.State
	}
	switch {
	case r.Quantity != nil:
		listing.Quantity = *r.Quantity
	case r.Stock != nil:
		listing.Quantity = *r.Stock
	}
	if p, err := strconv.ParseFloat(string(r.Price), 64); err == nil {
		listing.Price = p
	}
	return listing
}
