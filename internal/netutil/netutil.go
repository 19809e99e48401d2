package netutil

import (
	"net/http"
	"net/netip"
	"strings"
	"unicode/utf8"
)

// MaxDeviceInfoLength bounds the user agent stored next to a credential.
const MaxDeviceInfoLength = 255

// NormalizeIP accepts a bare IP or a host:port pair ("192.0.2.4:1234",
// "[2001:db8::1]:443") and returns the IP without port or zone.
func NormalizeIP(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}
	if ap, err := netip.ParseAddrPort(raw); err == nil {
		return ap.Addr().WithZone("").String(), true
	}
	if addr, ok := parseAddr(raw); ok {
		return addr, true
	}
	if strings.HasPrefix(raw, "[") {
		if end := strings.LastIndex(raw, "]"); end > 0 {
			if addr, ok := parseAddr(raw[1:end]); ok {
				return addr, true
			}
		}
	}
	if idx := strings.LastIndex(raw, ":"); idx > 0 {
		if addr, ok := parseAddr(raw[:idx]); ok {
			return addr, true
		}
	}
	return raw, false
}

func parseAddr(s string) (string, bool) {
	addr, err := netip.ParseAddr(s)
	if err != nil || !addr.IsValid() {
		return "", false
	}
	return addr.WithZone("").String(), true
}

// ClientIP resolves the caller address. Forwarding headers are only honoured
// when trustProxy is set; otherwise RemoteAddr wins.
func ClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first := strings.TrimSpace(strings.Split(xff, ",")[0])
			if ip, ok := NormalizeIP(first); ok {
				return ip
			}
		}
		if ip, ok := NormalizeIP(r.Header.Get("X-Real-IP")); ok {
			return ip
		}
	}
	ip, _ := NormalizeIP(r.RemoteAddr)
	return ip
}

// DeviceInfo trims the user agent to MaxDeviceInfoLength runes.
func DeviceInfo(ua string) string {
	ua = strings.TrimSpace(ua)
	if utf8.RuneCountInString(ua) <= MaxDeviceInfoLength {
		return ua
	}
	runes := []rune(ua)
	return string(runes[:MaxDeviceInfoLength])
}
