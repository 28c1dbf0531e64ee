package automation

import (
	"fmt"
	"sort"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
)

const (
	maxContentChars = 6000
	maxElementText  = 80
)

// interactiveSelector matches the elements the planner may act on
const interactiveSelector = `a[href], button, input:not([type="hidden"]), select, textarea, ` +
	`[role="button"], [role="link"], [role="checkbox"], [role="tab"], [onclick], [contenteditable="true"]`

// promptAttributes are rendered into the element list shown to the planner
var promptAttributes = []string{"id", "name", "type", "placeholder", "aria-label", "title", "value", "href", "role"}

// Element is one indexed interactive element of a page
type Element struct {
	Index       int
	TagName     string
	XPath       string // Relative to the document, e.g. html/body/div[2]/button
	CSSSelector string
	Attributes  map[string]string
	ParentPath  []string
	Text        string
}

// Selector returns the absolute XPath used to locate the element in the browser
func (e Element) Selector() string {
	return "/" + e.XPath
}

// String renders the element for the planner prompt
func (e Element) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%d]<%s", e.Index, e.TagName)
	for _, name := range promptAttributes {
		if v, ok := e.Attributes[name]; ok && v != "" {
			fmt.Fprintf(&b, " %s=%q", name, truncate(v, maxElementText))
		}
	}
	fmt.Fprintf(&b, ">%s</%s>", e.Text, e.TagName)
	return b.String()
}

// PageSnapshot is the page state handed to the planner
type PageSnapshot struct {
	URL        string
	Title      string
	Tabs       []string
	Elements   []Element
	Content    string // Page text as markdown
	Screenshot string // Base64 PNG, empty when screenshots are disabled
}

// Element returns the element with the given index
func (p *PageSnapshot) Element(index int) (Element, bool) {
	if index < 0 || index >= len(p.Elements) {
		return Element{}, false
	}
	return p.Elements[index], true
}

// ParsePage indexes the interactive elements of rawHTML and converts the page to markdown
func ParsePage(pageURL, title, rawHTML string) (*PageSnapshot, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		return nil, fmt.Errorf("failed to parse page HTML: %w", err)
	}

	if title == "" {
		title = strings.TrimSpace(doc.Find("title").First().Text())
	}

	snapshot := &PageSnapshot{URL: pageURL, Title: title}

	doc.Find(interactiveSelector).Each(func(_ int, s *goquery.Selection) {
		if isHidden(s) {
			return
		}
		snapshot.Elements = append(snapshot.Elements, describeElement(len(snapshot.Elements), s))
	})

	// Scripts and styles add nothing for the planner
	doc.Find("script, style, noscript, svg").Remove()
	cleaned, err := doc.Html()
	if err != nil {
		return nil, fmt.Errorf("failed to render cleaned HTML: %w", err)
	}

	converter := md.NewConverter(pageURL, true, nil)
	markdown, err := converter.ConvertString(cleaned)
	if err != nil {
		return nil, fmt.Errorf("failed to convert page to markdown: %w", err)
	}
	snapshot.Content = truncate(strings.TrimSpace(markdown), maxContentChars)

	return snapshot, nil
}

func describeElement(index int, s *goquery.Selection) Element {
	tag := goquery.NodeName(s)

	attributes := make(map[string]string)
	if len(s.Nodes) > 0 {
		for _, attr := range s.Nodes[0].Attr {
			attributes[attr.Key] = attr.Val
		}
	}

	xpath, parents := nodePath(s)

	return Element{
		Index:       index,
		TagName:     tag,
		XPath:       xpath,
		CSSSelector: cssSelector(tag, attributes),
		Attributes:  attributes,
		ParentPath:  parents,
		Text:        elementText(s, attributes),
	}
}

// nodePath builds the XPath of s and the tag names from the root down to it.
// Positional predicates are only added when a parent has several children with the same tag.
func nodePath(s *goquery.Selection) (string, []string) {
	var segments, tags []string

	for current := s; current.Length() > 0; current = current.Parent() {
		tag := goquery.NodeName(current)
		if tag == "" || strings.HasPrefix(tag, "#") {
			break
		}

		segment := tag
		if parent := current.Parent(); parent.Length() > 0 {
			siblings := parent.ChildrenFiltered(tag)
			if siblings.Length() > 1 {
				segment = fmt.Sprintf("%s[%d]", tag, siblings.IndexOfSelection(current)+1)
			}
		}

		segments = append(segments, segment)
		tags = append(tags, tag)
	}

	reverse(segments)
	reverse(tags)
	return strings.Join(segments, "/"), tags
}

func cssSelector(tag string, attributes map[string]string) string {
	if id := attributes["id"]; id != "" && !strings.ContainsAny(id, " .:#[]") {
		return tag + "#" + id
	}

	selector := tag
	if classes := strings.Fields(attributes["class"]); len(classes) > 0 {
		sort.Strings(classes)
		for i, class := range classes {
			if i == 2 {
				break
			}
			selector += "." + class
		}
	}
	if name := attributes["name"]; name != "" {
		selector += fmt.Sprintf("[name=%q]", name)
	}
	return selector
}

func elementText(s *goquery.Selection, attributes map[string]string) string {
	text := strings.Join(strings.Fields(s.Text()), " ")
	if text == "" {
		for _, name := range []string{"aria-label", "placeholder", "title", "alt", "value"} {
			if v := attributes[name]; v != "" {
				text = v
				break
			}
		}
	}
	return truncate(text, maxElementText)
}

func isHidden(s *goquery.Selection) bool {
	if _, ok := s.Attr("hidden"); ok {
		return true
	}
	if v, _ := s.Attr("aria-hidden"); v == "true" {
		return true
	}
	style, _ := s.Attr("style")
	style = strings.ReplaceAll(strings.ToLower(style), " ", "")
	return strings.Contains(style, "display:none") || strings.Contains(style, "visibility:hidden")
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}

func reverse(s []string) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}
