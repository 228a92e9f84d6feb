// Package monetization spots chat lines that talk about money so text to
// speech can skip reading them twice.
package monetization

import (
	"regexp"
	"strings"
	"time"

	"chatrelay/internal/model"
)

var amountPattern = regexp.MustCompile(`(?i)(?:[$€£¥]\s?\d+(?:[.,]\d{1,2})?|\b\d+\s?(?:bits|coins|diamonds)\b)`)

type Detector struct {
	keywords []string
	now      func() time.Time
}

func NewDetector(keywords []string) *Detector {
	d := &Detector{now: time.Now}
	for _, k := range keywords {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
			d.keywords = append(d.keywords, k)
		}
	}
	return d
}

// DetectMonetization matches configured keywords as word prefixes and
// currency or bits amounts anywhere in text.
func (d *Detector) DetectMonetization(text string) (model.MonetizationResult, error) {
	start := d.now()
	res := model.MonetizationResult{}
	lower := strings.ToLower(text)
	for _, word := range strings.FieldsFunc(lower, notWordRune) {
		for _, k := range d.keywords {
			if strings.HasPrefix(word, k) {
				res.Detected = true
				res.Keyword = k
				break
			}
		}
		if res.Detected {
			break
		}
	}
	if !res.Detected {
		if m := amountPattern.FindString(text); m != "" {
			res.Detected = true
			res.Keyword = m
		}
	}
	res.TimingMs = float64(d.now().Sub(start).Microseconds()) / 1000
	return res, nil
}

func notWordRune(r rune) bool {
	return !(r == '_' || r >= '0' && r <= '9' || r >= 'a' && r <= 'z' || r > 127)
}
