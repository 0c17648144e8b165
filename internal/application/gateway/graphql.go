package gateway

import (
	"encoding/json"
	"math"
	"regexp"
	"strconv"
	"strings"
)

var (
	pageArgRe  = regexp.MustCompile(`\b(?:first|last)\s*:\s*(\d+)`)
	edgesRe    = regexp.MustCompile(`\bedges\b`)
	typenameRe = regexp.MustCompile(`\b__typename\b`)
	cursorRe   = regexp.MustCompile(`\b(?:after|before)\s*:`)
)

// EstimateCost predicts the point cost of a GraphQL query before sending it:
// 1 base point, 2 per 100 requested nodes on each first/last argument, and 2
// per edges block. The platform's reported actual cost supersedes this for
// bucket bookkeeping.
func EstimateCost(query string) float64 {
	cost := 1.0
	for _, m := range pageArgRe.FindAllStringSubmatch(query, -1) {
		n, err := strconv.Atoi(m[1])
		if err != nil || n < 1 {
			continue
		}
		cost += 2 * math.Ceil(float64(n)/100)
	}
	cost += 2 * float64(len(edgesRe.FindAllStringIndex(query, -1)))
	return cost
}

// SlimQuery lexically shrinks a GraphQL query: comments go, whitespace runs
// collapse, __typename fields are dropped unless keepTypename, and pageInfo
// blocks are dropped when the query carries no cursor argument that could
// use them.
func SlimQuery(query string, keepTypename bool) string {
	q := stripComments(query)
	if !keepTypename {
		q = typenameRe.ReplaceAllString(q, " ")
	}
	if !cursorRe.MatchString(q) {
		q = stripPageInfo(q)
	}
	return collapseWhitespace(q)
}

// stripComments removes # comments, leaving string literals intact.
func stripComments(q string) string {
	var b strings.Builder
	b.Grow(len(q))
	inString := false
	for i := 0; i < len(q); i++ {
		c := q[i]
		switch {
		case inString:
			b.WriteByte(c)
			if c == '\\' && i+1 < len(q) {
				i++
				b.WriteByte(q[i])
			} else if c == '"' {
				inString = false
			}
		case c == '"':
			inString = true
			b.WriteByte(c)
		case c == '#':
			for i < len(q) && q[i] != '\n' {
				i++
			}
			b.WriteByte('\n')
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// stripPageInfo removes every pageInfo selection together with its block.
func stripPageInfo(q string) string {
	const field = "pageInfo"
	for {
		idx := indexIdent(q, field)
		if idx < 0 {
			return q
		}
		end := idx + len(field)
		// Skip whitespace to the opening brace.
		j := end
		for j < len(q) && isSpace(q[j]) {
			j++
		}
		if j >= len(q) || q[j] != '{' {
			// Bare pageInfo without a block; drop the identifier alone.
			q = q[:idx] + " " + q[end:]
			continue
		}
		depth := 0
		k := j
		for ; k < len(q); k++ {
			if q[k] == '{' {
				depth++
			} else if q[k] == '}' {
				depth--
				if depth == 0 {
					k++
					break
				}
			}
		}
		q = q[:idx] + " " + q[k:]
	}
}

// indexIdent finds ident in q as a whole word.
func indexIdent(q, ident string) int {
	from := 0
	for {
		idx := strings.Index(q[from:], ident)
		if idx < 0 {
			return -1
		}
		idx += from
		beforeOK := idx == 0 || !isWordByte(q[idx-1])
		afterOK := idx+len(ident) >= len(q) || !isWordByte(q[idx+len(ident)])
		if beforeOK && afterOK {
			return idx
		}
		from = idx + len(ident)
	}
}

func isWordByte(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

// collapseWhitespace reduces whitespace runs to single spaces outside string
// literals.
func collapseWhitespace(q string) string {
	var b strings.Builder
	b.Grow(len(q))
	inString := false
	pendingSpace := false
	for i := 0; i < len(q); i++ {
		c := q[i]
		if inString {
			b.WriteByte(c)
			if c == '\\' && i+1 < len(q) {
				i++
				b.WriteByte(q[i])
			} else if c == '"' {
				inString = false
			}
			continue
		}
		if isSpace(c) {
			pendingSpace = true
			continue
		}
		if pendingSpace && b.Len() > 0 {
			b.WriteByte(' ')
		}
		pendingSpace = false
		if c == '"' {
			inString = true
		}
		b.WriteByte(c)
	}
	return strings.TrimSpace(b.String())
}

// graphQLExtensions mirrors the cost block platforms attach to responses.
type graphQLExtensions struct {
	Extensions struct {
		Cost struct {
			ActualQueryCost *float64 `json:"actualQueryCost"`
			ThrottleStatus  struct {
				CurrentlyAvailable *float64 `json:"currentlyAvailable"`
			} `json:"throttleStatus"`
		} `json:"cost"`
	} `json:"extensions"`
}

// actualQueryCost extracts the platform-reported cost from a response body.
func actualQueryCost(body []byte) (float64, bool) {
	var ext graphQLExtensions
	if err := json.Unmarshal(body, &ext); err != nil {
		return 0, false
	}
	if ext.Extensions.Cost.ActualQueryCost == nil {
		return 0, false
	}
	return *ext.Extensions.Cost.ActualQueryCost, true
}
