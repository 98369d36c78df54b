package server

import (
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"
)

// originChecker enforces the configured origin allowlist on WebSocket
// upgrades. Origins are normalized to lowercase scheme://host; "*" allows
// everything.
type originChecker struct {
	allowed  map[string]struct{}
	allowAll bool
	log      *zap.Logger
}

func newOriginChecker(origins []string, log *zap.Logger) *originChecker {
	if log == nil {
		log = zap.NewNop()
	}

	c := &originChecker{
		allowed: make(map[string]struct{}, len(origins)),
		log:     log,
	}

	for _, origin := range origins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		if trimmed == "*" {
			c.allowAll = true
			continue
		}
		normalized, ok := normalizeOrigin(trimmed)
		if !ok {
			log.Warn("ignoring invalid origin in configuration", zap.String("origin", origin))
			continue
		}
		c.allowed[normalized] = struct{}{}
	}

	return c
}

func normalizeOrigin(origin string) (string, bool) {
	parsed, err := url.Parse(origin)
	if err != nil {
		return "", false
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return "", false
	}
	return strings.ToLower(parsed.Scheme) + "://" + strings.ToLower(parsed.Host), true
}

func (c *originChecker) allow(r *http.Request) bool {
	originHeader := r.Header.Get("Origin")
	if originHeader == "" {
		return false
	}

	normalized, ok := normalizeOrigin(originHeader)
	if !ok {
		return false
	}

	if c.allowAll {
		return true
	}
	if _, ok := c.allowed[normalized]; ok {
		return true
	}

	c.log.Warn("blocked websocket connection from disallowed origin", zap.String("origin", originHeader))
	return false
}
