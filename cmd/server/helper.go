package main

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/yourorg/dci-apr-matrix/internal/model"
)

// getEnvBool retrieves a boolean environment variable with a default value
func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return b
}

// getEnvInt retrieves an integer environment variable with a default value
func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	i, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return i
}

// getEnvFloat retrieves a float environment variable with a default value
func getEnvFloat(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return defaultValue
	}
	return f
}

// queryOrDefault returns a query parameter or the default when absent.
func queryOrDefault(q url.Values, key, defaultValue string) string {
	if v := strings.TrimSpace(q.Get(key)); v != "" {
		return v
	}
	return defaultValue
}

// parseFloatParam parses a float query parameter with a named error.
func parseFloatParam(name, raw string) (float64, error) {
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %q", name, raw)
	}
	return v, nil
}

// parseIntParam parses an integer query parameter with a named error.
func parseIntParam(name, raw string) (int, error) {
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %q", name, raw)
	}
	return v, nil
}

// parseDurations parses a comma-separated duration list, skipping
// anything non-numeric, matching the original UI's lenient parsing.
func parseDurations(raw string) []int {
	var out []int
	for _, part := range strings.Split(raw, ",") {
		if v, err := strconv.Atoi(strings.TrimSpace(part)); err == nil {
			out = append(out, v)
		}
	}
	return out
}

// countCells counts retained cells across the grid.
func countCells(cells map[string]map[string]model.Cell) int {
	n := 0
	for _, row := range cells {
		n += len(row)
	}
	return n
}
