// Package security covers the request-facing hardening: response headers,
// probe detection and client IP resolution behind trusted proxies.
package security

import (
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
)

// URLs longer than this are treated as overflow probes.
const maxURLLength = 2048

// Path and query fragments that only show up in vulnerability scans.
var probePatterns = []string{
	"../", "..\\", ".env", "wp-admin", "phpmyadmin",
	"admin.php", "config.php", ".git", ".ssh",
	"eval(", "javascript:", "<script", "union select",
	"etc/passwd", "cmd.exe",
}

// User-Agent fragments of known scanning tools.
var scannerAgents = []string{
	"sqlmap", "nmap", "nikto", "gobuster", "dirb",
	"scanner", "crawler", "spider", "scraper",
}

// DetectionMetrics tracks security detection events
type DetectionMetrics struct {
	SuspiciousRequests int64
}

// Detector flags requests that look like scans or probes and resolves the
// real client IP behind trusted proxies.
type Detector struct {
	suspicious     int64
	trustedProxies []*net.IPNet
}

// NewDetector creates a detector that trusts the usual private ranges as
// proxies. Further ranges come in through AddTrustedProxy.
func NewDetector() *Detector {
	d := &Detector{}
	for _, cidr := range []string{
		"127.0.0.0/8", "10.0.0.0/8", "172.16.0.0/12", "192.168.0.0/16",
	} {
		d.trustedProxies = append(d.trustedProxies, mustCIDR(cidr))
	}
	return d
}

func mustCIDR(cidr string) *net.IPNet {
	_, network, err := net.ParseCIDR(cidr)
	if err != nil {
		panic(fmt.Sprintf("failed to parse trusted proxy CIDR %s: %v", cidr, err))
	}
	return network
}

// AddTrustedProxy extends the set of networks whose forwarded headers
// are believed.
func (d *Detector) AddTrustedProxy(cidr string) error {
	_, network, err := net.ParseCIDR(cidr)
	if err != nil {
		return fmt.Errorf("invalid CIDR %s: %w", cidr, err)
	}
	d.trustedProxies = append(d.trustedProxies, network)
	return nil
}

// DetectSuspiciousRequest reports whether the request matches a known
// probe signature and counts the hit.
func (d *Detector) DetectSuspiciousRequest(r *http.Request) bool {
	if !d.isSuspicious(r) {
		return false
	}
	atomic.AddInt64(&d.suspicious, 1)
	return true
}

func (d *Detector) isSuspicious(r *http.Request) bool {
	if matchesAny(strings.ToLower(r.URL.Path), probePatterns) {
		return true
	}
	if matchesAny(strings.ToLower(r.URL.RawQuery), probePatterns) {
		return true
	}
	if matchesAny(strings.ToLower(r.Header.Get("User-Agent")), scannerAgents) {
		return true
	}

	switch r.Method {
	case "TRACE", "TRACK", "DEBUG", "CONNECT":
		return true
	}

	if len(r.URL.String()) > maxURLLength {
		return true
	}

	// More than 5 forwarding hops means someone is stuffing the header.
	if xff := r.Header.Get("X-Forwarded-For"); strings.Count(xff, ",") > 5 {
		return true
	}

	return false
}

func matchesAny(s string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}

// ExtractClientIP resolves the client address, honoring X-Forwarded-For
// and X-Real-IP only when the direct peer is a trusted proxy.
func (d *Detector) ExtractClientIP(r *http.Request) string {
	directIP, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		directIP = r.RemoteAddr
	}

	peer := net.ParseIP(directIP)
	if peer == nil || !d.isTrustedProxy(peer) {
		return directIP
	}

	if ip := firstForwardedIP(r.Header.Get("X-Forwarded-For")); ip != "" {
		return ip
	}
	if xri := r.Header.Get("X-Real-IP"); net.ParseIP(xri) != nil {
		return xri
	}
	return directIP
}

// firstForwardedIP returns the leftmost valid address in an
// X-Forwarded-For chain, which is the original client.
func firstForwardedIP(xff string) string {
	if xff == "" {
		return ""
	}
	first, _, _ := strings.Cut(xff, ",")
	first = strings.TrimSpace(first)
	if net.ParseIP(first) == nil {
		return ""
	}
	return first
}

func (d *Detector) isTrustedProxy(ip net.IP) bool {
	for _, network := range d.trustedProxies {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}

// GetMetrics returns a snapshot of detection counters.
func (d *Detector) GetMetrics() DetectionMetrics {
	return DetectionMetrics{
		SuspiciousRequests: atomic.LoadInt64(&d.suspicious),
	}
}
