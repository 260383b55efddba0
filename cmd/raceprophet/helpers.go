package main

import (
	"fmt"
	"strconv"
	"strings"

	"example.com/raceprophet/internal/domain"
)

// distanceAliases maps the names runners type to kilometres.
var distanceAliases = map[string]float64{
	"mile":     1.60934,
	"1mile":    1.60934,
	"5k":       5.0,
	"10k":      10.0,
	"15k":      15.0,
	"half":     21.0975,
	"hm":       21.0975,
	"marathon": 42.195,
	"full":     42.195,
	"50k":      50.0,
}

// parseDistance accepts a named distance ("half", "10k") or a number of
// kilometres ("21.1").
func parseDistance(raw string) (float64, error) {
	key := strings.ToLower(strings.TrimSpace(raw))
	if km, ok := distanceAliases[key]; ok {
		return km, nil
	}
	km, err := strconv.ParseFloat(key, 64)
	if err != nil || km <= 0 {
		return 0, fmt.Errorf("unrecognized distance %q (use e.g. 5k, half, marathon, or kilometres)", raw)
	}
	return km, nil
}

// parseDuration accepts "h:mm:ss", "m:ss", or plain seconds.
func parseDuration(raw string) (int, error) {
	parts := strings.Split(strings.TrimSpace(raw), ":")
	if len(parts) > 3 {
		return 0, fmt.Errorf("unrecognized time %q (use h:mm:ss or m:ss)", raw)
	}
	total := 0
	for _, part := range parts {
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("unrecognized time %q (use h:mm:ss or m:ss)", raw)
		}
		total = total*60 + n
	}
	if total <= 0 {
		return 0, fmt.Errorf("time must be positive")
	}
	return total, nil
}

// distanceLabel names the distance when it is one of the standard ones.
func distanceLabel(km float64) string {
	for _, dist := range domain.StandardDistances {
		if km == dist.Km {
			return dist.Label
		}
	}
	return fmt.Sprintf("%.2f km", km)
}
