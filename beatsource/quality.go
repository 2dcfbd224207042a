package beatsource

import (
	"fmt"
	"strings"
)

// Tier is the abstract fidelity level requested by the caller, independent of
// the upstream's own quality vocabulary.
type Tier int

const (
	TierMinimum Tier = iota
	TierLow
	TierMedium
	TierHigh
	TierLossless
	TierHiFi
)

func (t Tier) String() string {
	switch t {
	case TierMinimum:
		return "minimum"
	case TierLow:
		return "low"
	case TierMedium:
		return "medium"
	case TierHigh:
		return "high"
	case TierLossless:
		return "lossless"
	case TierHiFi:
		return "hifi"
	default:
		return fmt.Sprintf("tier(%d)", int(t))
	}
}

func ParseTier(s string) (Tier, error) {
	switch strings.ToLower(s) {
	case "minimum":
		return TierMinimum, nil
	case "low":
		return TierLow, nil
	case "medium":
		return TierMedium, nil
	case "high":
		return TierHigh, nil
	case "lossless":
		return TierLossless, nil
	case "hifi":
		return TierHiFi, nil
	default:
		return TierMinimum, fmt.Errorf("unknown quality tier %q", s)
	}
}

// Plan is the subscription level fixed once by account validation. Quality
// resolution is a pure function of (Plan, Tier); there is no mutable table.
type Plan int

const (
	PlanBasic Plan = iota
	PlanPro
)

const proSubscription = "bp_link_pro"

// ClassifyPlan maps the introspection subscription identifier to a Plan.
// Essentials is "bp_basic", Professional is "bp_link_pro"; unknown pro-looking
// identifiers are accepted on the substring.
func ClassifyPlan(subscription string) Plan {
	s := strings.ToLower(subscription)
	if s == proSubscription || strings.Contains(s, "pro") {
		return PlanPro
	}
	return PlanBasic
}

// QualityParam resolves the upstream quality string for a requested tier.
// Every tier resolves to "medium" on a basic plan; Pro unlocks "high" for
// HIGH and "lossless" for LOSSLESS/HIFI.
func (p Plan) QualityParam(t Tier) string {
	if p != PlanPro {
		return "medium"
	}
	switch t {
	case TierHigh:
		return "high"
	case TierLossless, TierHiFi:
		return "lossless"
	default:
		return "medium"
	}
}

type Format struct {
	Codec         string
	Bitrate       int
	BitDepth      int // 0 when not applicable (lossy)
	SampleRateKHz float64
}

// ResolveFormat determines codec, bitrate and bit depth purely from the
// requested tier and the plan: LOSSLESS/HIFI are FLAC 44.1/16 at ~1411kbps,
// everything else is AAC at 256kbps only when HIGH actually resolves to
// "high", 128kbps otherwise.
func ResolveFormat(p Plan, t Tier) Format {
	if t == TierLossless || t == TierHiFi {
		return Format{Codec: "flac", Bitrate: 1411, BitDepth: 16, SampleRateKHz: 44.1}
	}
	bitrate := 128
	if t == TierHigh && p.QualityParam(TierHigh) == "high" {
		bitrate = 256
	}
	return Format{Codec: "aac", Bitrate: bitrate, BitDepth: 0, SampleRateKHz: 44.1}
}
