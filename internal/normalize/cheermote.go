package normalize

import (
	"strings"

	"chatrelay/internal/model"
)

type Fragment struct {
	Type      string             `json:"type"`
	Text      string             `json:"text"`
	Cheermote *CheermoteFragment `json:"cheermote,omitempty"`
}

type CheermoteFragment struct {
	Prefix string `json:"prefix"`
	Bits   int    `json:"bits"`
	Tier   int    `json:"tier,omitempty"`
}

// ProcessCheermotes summarizes the bits carried by a Twitch message. Fragments
// tagged cheermote without a prefix are skipped.
func ProcessCheermotes(fragments []Fragment) model.CheermoteSummary {
	var text strings.Builder
	counts := make(map[string]int)
	var order []string
	total := 0

	for _, f := range fragments {
		switch strings.ToLower(f.Type) {
		case "text":
			text.WriteString(f.Text)
		case "cheermote":
			if f.Cheermote == nil || strings.TrimSpace(f.Cheermote.Prefix) == "" {
				continue
			}
			clean := CleanPrefix(f.Cheermote.Prefix)
			if clean == "" {
				continue
			}
			if _, ok := counts[clean]; !ok {
				order = append(order, clean)
			}
			counts[clean]++
			if f.Cheermote.Bits > 0 {
				total += f.Cheermote.Bits
			}
		}
	}

	summary := model.CheermoteSummary{TextContent: text.String()}
	if len(order) == 0 {
		return summary
	}

	primary := order[0]
	for _, key := range order[1:] {
		c, best := counts[key], counts[primary]
		if c > best || (c == best && key < primary) {
			primary = key
		}
	}

	types := make([]model.CheermoteType, 0, len(order))
	for _, key := range order {
		types = append(types, model.CheermoteType{Prefix: key, Count: counts[key]})
	}

	summary.TotalBits = total
	summary.PrimaryType = strings.ToLower(primary)
	summary.CleanPrimaryTypeOriginalCase = primary
	summary.MixedTypes = len(order) > 1
	summary.OtherTypesCount = max(0, len(order)-1)
	summary.Types = types
	return summary
}

// CleanPrefix strips the trailing run of decimal digits from a cheermote
// prefix, so "uni1" and "Cheer100" become "uni" and "Cheer".
func CleanPrefix(prefix string) string {
	prefix = strings.TrimSpace(prefix)
	end := len(prefix)
	for end > 0 && prefix[end-1] >= '0' && prefix[end-1] <= '9' {
		end--
	}
	return prefix[:end]
}
