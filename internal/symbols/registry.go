// Package symbols maps free-text company names to canonical ticker
// symbols using a layered resolution cascade: exact, case-insensitive,
// fuzzy, then bidirectional substring matching.
package symbols

import (
	"strings"
	"sync"

	"github.com/agnivade/levenshtein"

	"finsight/internal/logging"
	"finsight/internal/types"
)

// fuzzyCutoff is the minimum normalized similarity for a fuzzy hit.
const fuzzyCutoff = 0.8

// substringMinLen guards the substring stage against short, ambiguous
// operands ("TCS" inside "HDFC Securities" style accidents).
const substringMinLen = 3

// Registry is a read-only name-to-symbol table, loaded once per process.
type Registry struct {
	mu    sync.RWMutex
	table map[string]string // display name -> symbol
}

// NewRegistry returns a registry seeded with the default NSE table.
func NewRegistry() *Registry {
	r := &Registry{table: make(map[string]string, len(defaultTable))}
	for name, symbol := range defaultTable {
		r.table[name] = symbol
	}
	return r
}

// Register adds or replaces a name mapping.
func (r *Registry) Register(name, symbol string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.table[name] = symbol
}

// Len returns the number of known names.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.table)
}

// Resolve maps a free-text company name to a ticker symbol. Strategies
// run in order; the first hit wins. ok is false when nothing matched.
func (r *Registry) Resolve(name string) (symbol string, ok bool) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	// Exact match.
	if sym, hit := r.table[name]; hit {
		return sym, true
	}

	// Case-insensitive exact match.
	lower := strings.ToLower(name)
	for candidate, sym := range r.table {
		if strings.ToLower(candidate) == lower {
			logging.Classify("resolved %q case-insensitively to %s", name, sym)
			return sym, true
		}
	}

	// Fuzzy match: best single candidate at or above the cutoff.
	bestScore := 0.0
	bestSym := ""
	bestName := ""
	for candidate, sym := range r.table {
		score := similarity(lower, strings.ToLower(candidate))
		if score >= fuzzyCutoff && score > bestScore {
			bestScore = score
			bestSym = sym
			bestName = candidate
		}
	}
	if bestSym != "" {
		logging.Classify("resolved %q fuzzily to %s (%s, score %.2f)", name, bestSym, bestName, bestScore)
		return bestSym, true
	}

	// Bidirectional substring, shorter operand must exceed the guard.
	for candidate, sym := range r.table {
		cl := strings.ToLower(candidate)
		shorter := lower
		if len(cl) < len(shorter) {
			shorter = cl
		}
		if len(shorter) <= substringMinLen {
			continue
		}
		if strings.Contains(cl, lower) || strings.Contains(lower, cl) {
			logging.Classify("resolved %q by substring to %s (%s)", name, sym, candidate)
			return sym, true
		}
	}

	return "", false
}

// ResolveStrict is Resolve with failure wrapped as a symbol-resolution
// error naming the input, fatal for the classification that asked.
func (r *Registry) ResolveStrict(name string) (string, *types.NodeError) {
	if sym, ok := r.Resolve(name); ok {
		return sym, nil
	}
	return "", types.Errf(types.ErrKindSymbolResolution,
		"could not resolve company %q to a ticker symbol", name)
}

// similarity is 1 minus the normalized Levenshtein distance.
func similarity(a, b string) float64 {
	if a == b {
		return 1
	}
	longest := len(a)
	if len(b) > longest {
		longest = len(b)
	}
	if longest == 0 {
		return 0
	}
	dist := levenshtein.ComputeDistance(a, b)
	return 1 - float64(dist)/float64(longest)
}

// defaultTable seeds the registry with large-cap NSE listings.
var defaultTable = map[string]string{
	"Reliance Industries":           "RELIANCE",
	"Reliance":                      "RELIANCE",
	"Tata Consultancy Services":     "TCS",
	"TCS":                           "TCS",
	"Infosys":                       "INFY",
	"HDFC Bank":                     "HDFCBANK",
	"ICICI Bank":                    "ICICIBANK",
	"State Bank of India":           "SBIN",
	"SBI":                           "SBIN",
	"Bharti Airtel":                 "BHARTIARTL",
	"Airtel":                        "BHARTIARTL",
	"ITC":                           "ITC",
	"Larsen & Toubro":               "LT",
	"L&T":                           "LT",
	"Hindustan Unilever":            "HINDUNILVR",
	"HUL":                           "HINDUNILVR",
	"Axis Bank":                     "AXISBANK",
	"Kotak Mahindra Bank":           "KOTAKBANK",
	"Wipro":                         "WIPRO",
	"HCL Technologies":              "HCLTECH",
	"Tech Mahindra":                 "TECHM",
	"Asian Paints":                  "ASIANPAINT",
	"Maruti Suzuki":                 "MARUTI",
	"Tata Motors":                   "TATAMOTORS",
	"Tata Steel":                    "TATASTEEL",
	"Mahindra & Mahindra":           "M&M",
	"Bajaj Finance":                 "BAJFINANCE",
	"Bajaj Finserv":                 "BAJAJFINSV",
	"Adani Enterprises":             "ADANIENT",
	"Adani Ports":                   "ADANIPORTS",
	"Sun Pharmaceutical":            "SUNPHARMA",
	"Sun Pharma":                    "SUNPHARMA",
	"Dr Reddys Laboratories":        "DRREDDY",
	"Cipla":                         "CIPLA",
	"Nestle India":                  "NESTLEIND",
	"Titan Company":                 "TITAN",
	"Titan":                         "TITAN",
	"UltraTech Cement":              "ULTRACEMCO",
	"NTPC":                          "NTPC",
	"Power Grid Corporation":        "POWERGRID",
	"Oil and Natural Gas Corporation": "ONGC",
	"ONGC":                          "ONGC",
	"Coal India":                    "COALINDIA",
	"JSW Steel":                     "JSWSTEEL",
	"IndusInd Bank":                 "INDUSINDBK",
	"Grasim Industries":             "GRASIM",
	"Hindalco Industries":           "HINDALCO",
	"Britannia Industries":          "BRITANNIA",
	"Divis Laboratories":            "DIVISLAB",
	"Eicher Motors":                 "EICHERMOT",
	"Hero MotoCorp":                 "HEROMOTOCO",
	"Bajaj Auto":                    "BAJAJ-AUTO",
	"Apollo Hospitals":              "APOLLOHOSP",
	"Tata Power":                    "TATAPOWER",
	"Zomato":                        "ZOMATO",
	"Avenue Supermarts":             "DMART",
	"DMart":                         "DMART",
}
