// Package tokens resolves user-typed token names and symbols to Solana
// mint addresses.
package tokens

import (
	"sort"
	"strings"

	"github.com/mr-tron/base58"
)

// Well-known mints, keyed by normalized name/symbol.
var mints = map[string]string{
	"sol":    "So11111111111111111111111111111111111111112",
	"solana": "So11111111111111111111111111111111111111112",
	"wsol":   "So11111111111111111111111111111111111111112",

	"usdc": "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v",
	"usdt": "Es9vMFrzaCERZGKhXoiXZHhJxjXFFqdxMTy7ZR1uPvtX",

	"wbtc": "9n4nbM75f5Ui33ZbPYXn59EwSgE8CGsHtAeTH5YFeJ9E",
	"weth": "2FPyTwcZLUg1MDrwsyoP4D6s1tM7hAkHYRjkNb5w6WxK",

	"jup":     "JUPyiwrYJFskUPiHa7hkeR8VUtAeFoSYbKedZNsDvCN",
	"jupiter": "JUPyiwrYJFskUPiHa7hkeR8VUtAeFoSYbKedZNsDvCN",

	"ray":     "4k3Dyjzvzp8eZ6N5m7JxR3S6nLtWPhhqW37bZV8fDm7z",
	"raydium": "4k3Dyjzvzp8eZ6N5m7JxR3S6nLtWPhhqW37bZV8fDm7z",

	"bonk": "DezXAZ8z7PnrnRJjz3wXBoRgixCa6xjnB7YaB1pPB263",

	"pyusd": "2b1kV6DkPAnxd5ixfnxCpjxmKwqjjaYmCZfHsFu24GXo",

	"srm":   "9LhH5Ffhmb7fKaMR7dUe4Coz8KWLPiVyqJcs69Mvth1B",
	"serum": "9LhH5Ffhmb7fKaMR7dUe4Coz8KWLPiVyqJcs69Mvth1B",

	"kin": "KinXdEcpDQeHPEuQnqmUgtYykqKGVFq6CeVX5iAHJq5",
}

// Resolve maps a symbol, name or raw mint address to a mint address.
// Lookup is case-insensitive and ignores spaces, dashes and
// underscores; "SOL", "sol" and "solana" all resolve to the same mint.
// Unknown inputs return ok=false rather than an error.
func Resolve(input string) (mint string, ok bool) {
	if input == "" {
		return "", false
	}

	normalized := strings.ToLower(input)
	for _, r := range []string{" ", "_", "-"} {
		normalized = strings.ReplaceAll(normalized, r, "")
	}
	if m, found := mints[normalized]; found {
		return m, true
	}

	// A 32-byte base58 string is already a mint address.
	if raw, err := base58.Decode(input); err == nil && len(raw) == 32 {
		return input, true
	}

	return "", false
}

// Known returns one canonical symbol per supported mint (the shortest
// alias), sorted, for display to users.
func Known() []string {
	best := map[string]string{}
	for name, mint := range mints {
		cur, ok := best[mint]
		if !ok || len(name) < len(cur) || (len(name) == len(cur) && name < cur) {
			best[mint] = name
		}
	}
	out := make([]string, 0, len(best))
	for _, name := range best {
		out = append(out, strings.ToUpper(name))
	}
	sort.Strings(out)
	return out
}
