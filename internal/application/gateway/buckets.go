package gateway

import (
	"strings"

	"github.com/merchkit/opshub/internal/domain"
)

// bucketSpec defines one named bucket of a platform's limit taxonomy.
type bucketSpec struct {
	name     string
	capacity float64
	refill   float64 // tokens per second
}

// charge is one bucket debit a call must clear. Charges are consumed in
// order; a failed later charge refunds the earlier ones in the same critical
// section.
type charge struct {
	spec bucketSpec
	cost float64
}

var (
	printifyGlobal  = bucketSpec{name: "global", capacity: 600, refill: 10}
	printifyCatalog = bucketSpec{name: "catalog", capacity: 100, refill: 100.0 / 60}
	shopifyCost     = bucketSpec{name: "cost", capacity: 1000, refill: 50}
	etsyGlobal      = bucketSpec{name: "global", capacity: 10, refill: 10}
	amazonGlobal    = bucketSpec{name: "global", capacity: 10, refill: 0.5}
	gumroadGlobal   = bucketSpec{name: "global", capacity: 60, refill: 1}
	kdpGlobal       = bucketSpec{name: "global", capacity: 30, refill: 0.5}
	fallbackGlobal  = bucketSpec{name: "global", capacity: 40, refill: 2}
)

// chargesFor computes the bucket debits for one call. estimatedCost only
// applies to cost-based platforms.
func chargesFor(platform domain.Platform, path string, estimatedCost float64) []charge {
	switch platform {
	case domain.PlatformShopify:
		if estimatedCost < 1 {
			estimatedCost = 1
		}
		return []charge{{spec: shopifyCost, cost: estimatedCost}}
	case domain.PlatformPrintify:
		charges := []charge{{spec: printifyGlobal, cost: 1}}
		if strings.HasPrefix(path, "/v1/catalog") {
			charges = append(charges, charge{spec: printifyCatalog, cost: 1})
		}
		return charges
	case domain.PlatformEtsy:
		return []charge{{spec: etsyGlobal, cost: 1}}
	case domain.PlatformAmazon:
		return []charge{{spec: amazonGlobal, cost: 1}}
	case domain.PlatformGumroad:
		return []charge{{spec: gumroadGlobal, cost: 1}}
	case domain.PlatformKDP:
		return []charge{{spec: kdpGlobal, cost: 1}}
	default:
		return []charge{{spec: fallbackGlobal, cost: 1}}
	}
}

// primaryBucket is the bucket whose remaining capacity drives the throttled
// flag for a platform.
func primaryBucket(platform domain.Platform) bucketSpec {
	switch platform {
	case domain.PlatformShopify:
		return shopifyCost
	case domain.PlatformPrintify:
		return printifyGlobal
	case domain.PlatformEtsy:
		return etsyGlobal
	case domain.PlatformAmazon:
		return amazonGlobal
	case domain.PlatformGumroad:
		return gumroadGlobal
	case domain.PlatformKDP:
		return kdpGlobal
	default:
		return fallbackGlobal
	}
}
