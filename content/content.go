// Package content derives the computed fields of a blog post (slug, reading
// time, excerpt) and cleans author-supplied HTML before it is stored.
package content

import (
	"math"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
)

const (
	WordsPerMinute = 200
	MaxSlugLength  = 80
	ExcerptLength  = 160
	MaxTags        = 10
)

var strippedElements = "script, style, iframe, object, embed, link, meta"

// Slugify lowercases title and joins its ASCII letters and digits with dashes.
func Slugify(title string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(title) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			dash = false
		case b.Len() > 0 && !dash:
			b.WriteByte('-')
			dash = true
		}
	}

	slug := strings.TrimRight(b.String(), "-")
	if len(slug) > MaxSlugLength {
		slug = strings.TrimRight(slug[:MaxSlugLength], "-")
	}
	if slug == "" {
		slug = "post"
	}
	return slug
}

// PlainText returns the visible text of an HTML fragment with whitespace collapsed.
func PlainText(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return strings.Join(strings.Fields(html), " ")
	}
	doc.Find(strippedElements).Remove()
	return strings.Join(strings.Fields(doc.Text()), " ")
}

// ReadingTime estimates minutes to read html, never less than one.
func ReadingTime(html string) int {
	words := len(strings.Fields(PlainText(html)))
	minutes := int(math.Ceil(float64(words) / WordsPerMinute))
	if minutes < 1 {
		return 1
	}
	return minutes
}

// Excerpt cuts the plain text of html at a word boundary near ExcerptLength runes.
func Excerpt(html string) string {
	text := PlainText(html)
	if utf8.RuneCountInString(text) <= ExcerptLength {
		return text
	}

	runes := []rune(text)[:ExcerptLength]
	for i := len(runes) - 1; i > ExcerptLength/2; i-- {
		if runes[i] == ' ' {
			runes = runes[:i]
			break
		}
	}
	return strings.TrimRight(string(runes), " ,.;:") + "..."
}

// CleanHTML drops active content from html: script-like elements, inline
// event handlers and javascript: URLs.
func CleanHTML(html string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", err
	}

	doc.Find(strippedElements).Remove()
	doc.Find("*").Each(func(_ int, s *goquery.Selection) {
		node := s.Get(0)
		var drop []string
		for _, attr := range node.Attr {
			key := strings.ToLower(attr.Key)
			val := strings.ToLower(strings.TrimSpace(attr.Val))
			if strings.HasPrefix(key, "on") {
				drop = append(drop, attr.Key)
				continue
			}
			if (key == "href" || key == "src" || key == "action" || key == "formaction") &&
				strings.HasPrefix(val, "javascript:") {
				drop = append(drop, attr.Key)
			}
		}
		for _, key := range drop {
			s.RemoveAttr(key)
		}
	})

	out, err := doc.Find("body").Html()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// NormalizeTags lowercases, trims and dedupes tags, keeping at most MaxTags.
func NormalizeTags(tags []string) []string {
	seen := make(map[string]bool, len(tags))
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag == "" || seen[tag] {
			continue
		}
		seen[tag] = true
		out = append(out, tag)
		if len(out) == MaxTags {
			break
		}
	}
	return out
}
