package models

import (
	"fmt"
	"strconv"
	"strings"
)

// MediaOrigin classifies where an asset came from
type MediaOrigin string

const (
	OriginSemantic  MediaOrigin = "semantic"  // matched from the image database
	OriginSearch    MediaOrigin = "search"    // web image search
	OriginGenerated MediaOrigin = "generated" // AI generated
	OriginFallback  MediaOrigin = "fallback"
	OriginUnknown   MediaOrigin = "unknown"
)

// MediaSource is the provenance of one asset in a record's media list
type MediaSource struct {
	URL      string `json:"url"`
	Source   string `json:"source"`   // e.g. "semantic:0.85", "google_cse", "dalle-3", "fallback"
	Sequence int    `json:"sequence"` // position in the backend's resolution order
}

// Origin classifies the source tag
func (m MediaSource) Origin() MediaOrigin {
	tag := strings.ToLower(m.Source)
	switch {
	case strings.HasPrefix(tag, "semantic"):
		return OriginSemantic
	case strings.Contains(tag, "google"):
		return OriginSearch
	case strings.Contains(tag, "dall"):
		return OriginGenerated
	case strings.Contains(tag, "fallback"):
		return OriginFallback
	default:
		return OriginUnknown
	}
}

// Similarity returns the match score of a semantic source ("semantic:0.85" -> 0.85)
func (m MediaSource) Similarity() (float64, bool) {
	if m.Origin() != OriginSemantic {
		return 0, false
	}
	_, score, found := strings.Cut(m.Source, ":")
	if !found {
		return 0, false
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(score), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// Describe returns a short human-readable provenance label
func (m MediaSource) Describe() string {
	tag := strings.ToLower(m.Source)
	switch m.Origin() {
	case OriginSemantic:
		if score, ok := m.Similarity(); ok {
			return fmt.Sprintf("From database (%.0f%% match)", score*100)
		}
		return "From database"
	case OriginSearch:
		return "From Google Search"
	case OriginGenerated:
		if strings.Contains(tag, "dalle-3") {
			return "AI Generated (DALL-E 3)"
		}
		if strings.Contains(tag, "dalle-2") {
			return "AI Generated (DALL-E 2)"
		}
		return "AI Generated"
	case OriginFallback:
		return "Fallback image"
	default:
		return "Image source: " + m.Source
	}
}
