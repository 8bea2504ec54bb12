// Package policy decides whether a provider failure forfeits the reserved
// credits. The decision is a case-insensitive substring match against a
// fixed marker list; changing the matching semantics changes real money
// outcomes, so keep it exactly as-is.
package policy

import "strings"

// DefaultMarkers are the built-in rejected-content indicators. The list
// mixes English and Chinese-market terms; it is configuration
// (POLICY_MARKERS env), not a contract.
var DefaultMarkers = []string{
	"content policy",
	"policy violation",
	"prohibited content",
	"rejected by moderation",
	"moderation",
	"flagged as sensitive",
	"sensitive content",
	"unsafe content",
	"copyright",
	"nsfw",
	"违规",
	"敏感",
	"涉敏",
	"版权",
	"审核不通过",
	"内容不合规",
}

type Classifier struct {
	markers []string
}

// NewClassifier builds a classifier over the given markers, falling back to
// DefaultMarkers when none are supplied. Markers are lowercased once here.
func NewClassifier(markers []string) *Classifier {
	if len(markers) == 0 {
		markers = DefaultMarkers
	}
	lowered := make([]string, 0, len(markers))
	for _, m := range markers {
		m = strings.ToLower(strings.TrimSpace(m))
		if m != "" {
			lowered = append(lowered, m)
		}
	}
	return &Classifier{markers: lowered}
}

// IsPolicyViolation reports whether the failure message indicates a
// content-policy rejection. Pure function of the message: same input, same
// answer, every call.
func (c *Classifier) IsPolicyViolation(errorMessage string) bool {
	msg := strings.ToLower(errorMessage)
	for _, m := range c.markers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}
