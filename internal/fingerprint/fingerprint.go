package fingerprint

import (
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/spaolacci/murmur3"
)

// Signals are the client environment properties a browser reports.
type Signals struct {
	UserAgent           string `json:"user_agent"`
	Language            string `json:"language"`
	Platform            string `json:"platform"`
	ScreenResolution    string `json:"screen_resolution"`
	ColorDepth          int    `json:"color_depth"`
	Timezone            string `json:"timezone"`
	CanvasHash          string `json:"canvas_hash"`
	HardwareConcurrency int    `json:"hardware_concurrency"`
	DeviceID            string `json:"device_id,omitempty"`
	SourceIP            string `json:"-"`
}

// Strategy derives a device identifier. Implementations are heuristics, not
// identity: the abuse guard only uses the result to bound volume.
type Strategy interface {
	Name() string
	Fingerprint(s Signals) string
}

const fingerprintSeed = 0x5eed

// SignalStrategy digests normalised environment signals with murmur3-128.
// Requests that carry no rendering signals fall back to user agent + source IP.
type SignalStrategy struct{}

func NewSignalStrategy() *SignalStrategy {
	return &SignalStrategy{}
}

// NewDefaultStrategy prefers the device identifier the client app reports and
// falls back to environment signals.
func NewDefaultStrategy() Strategy {
	return Chain{
		ClientDeviceID{Lookup: func(s Signals) string { return s.DeviceID }},
		NewSignalStrategy(),
	}
}

func (SignalStrategy) Name() string { return "signals-v1" }

func (SignalStrategy) Fingerprint(s Signals) string {
	var parts []string
	if hasEnvironment(s) {
		parts = []string{
			"env",
			norm(s.UserAgent),
			norm(s.Language),
			norm(s.Platform),
			norm(s.ScreenResolution),
			strconv.Itoa(s.ColorDepth),
			norm(s.Timezone),
			norm(s.CanvasHash),
			strconv.Itoa(s.HardwareConcurrency),
		}
	} else {
		parts = []string{"ua-ip", norm(s.UserAgent), strings.TrimSpace(s.SourceIP)}
	}
	return digest(strings.Join(parts, "|"))
}

// Chain tries each strategy in order and keeps the first non-empty result.
type Chain []Strategy

func (c Chain) Name() string {
	names := make([]string, 0, len(c))
	for _, s := range c {
		names = append(names, s.Name())
	}
	return strings.Join(names, ",")
}

func (c Chain) Fingerprint(s Signals) string {
	for _, strategy := range c {
		if fp := strategy.Fingerprint(s); fp != "" {
			return fp
		}
	}
	return ""
}

// ClientDeviceID passes through an install or device identifier declared by
// the client. It is not verified: a client can rotate it at will, which only
// costs it the benefit of a stable identity. It yields "" when none was
// supplied so a Chain can fall through.
type ClientDeviceID struct {
	Lookup func(Signals) string
}

func (ClientDeviceID) Name() string { return "client-device-id" }

func (c ClientDeviceID) Fingerprint(s Signals) string {
	if c.Lookup == nil {
		return ""
	}
	if id := strings.TrimSpace(c.Lookup(s)); id != "" {
		return "dev-" + digest(id)
	}
	return ""
}

func hasEnvironment(s Signals) bool {
	return s.CanvasHash != "" || s.ScreenResolution != "" || s.Platform != ""
}

func norm(v string) string {
	return strings.ToLower(strings.TrimSpace(v))
}

func digest(v string) string {
	h1, h2 := murmur3.Sum128WithSeed([]byte(v), fingerprintSeed)
	buf := make([]byte, 16)
	for i := 0; i < 8; i++ {
		buf[i] = byte(h1 >> (56 - 8*i))
		buf[8+i] = byte(h2 >> (56 - 8*i))
	}
	return hex.EncodeToString(buf)
}
