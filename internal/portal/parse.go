package portal

import (
	"bytes"
	"fmt"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// caseLink is one result anchor. ID is empty when the anchor has no
// identifier attribute.
type caseLink struct {
	ID    string
	HasID bool
}

// findCaseLinks returns, in document order, every <a> whose class list
// contains marker, together with its idAttr value.
func findCaseLinks(body []byte, marker, idAttr string) ([]caseLink, error) {
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to parse results page: %w", err)
	}

	var links []caseLink
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.DataAtom == atom.A && hasClass(n, marker) {
			id, ok := attr(n, idAttr)
			links = append(links, caseLink{ID: strings.TrimSpace(id), HasID: ok && strings.TrimSpace(id) != ""})
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return links, nil
}

// findInputValue returns the value of the first <input name=name>. ok is
// true whenever the input exists, even without a value attribute.
func findInputValue(body []byte, name string) (string, bool) {
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return "", false
	}
	var found *html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if found != nil {
			return
		}
		if n.Type == html.ElementNode && n.DataAtom == atom.Input {
			if v, ok := attr(n, "name"); ok && v == name {
				found = n
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	if found == nil {
		return "", false
	}
	v, _ := attr(found, "value")
	return v, true
}

// isLoginForm reports whether body is the portal's sign-in form.
func isLoginForm(body []byte) bool {
	_, ok := findInputValue(body, "Password")
	return ok
}

func attr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, key) {
			return a.Val, true
		}
	}
	return "", false
}

func hasClass(n *html.Node, class string) bool {
	v, ok := attr(n, "class")
	if !ok {
		return false
	}
	for _, c := range strings.Fields(v) {
		if c == class {
			return true
		}
	}
	return false
}
