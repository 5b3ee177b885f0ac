// Package extract turns a raw HTML document into the text signals the
// analyzers read.
package extract

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Page holds the normalized text of a document.
type Page struct {
	Title       string
	Description string
	Body        string
}

// Parse never fails. Markup the parser cannot read yields an empty Page.
func Parse(doc string) Page {
	root, err := html.Parse(strings.NewReader(doc))
	if err != nil {
		return Page{}
	}
	var (
		title       []string
		description string
		haveDesc    bool
		body        []string
	)

	var walk func(n *html.Node, inBody bool)
	walk = func(n *html.Node, inBody bool) {
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.Script, atom.Style, atom.Noscript, atom.Template:
				return
			case atom.Title:
				title = append(title, textOf(n))
				return
			case atom.Meta:
				if !haveDesc && strings.EqualFold(attr(n, "name"), "description") {
					description, haveDesc = attr(n, "content"), true
				}
			case atom.Body:
				inBody = true
			}
		}
		if n.Type == html.TextNode && inBody {
			body = append(body, n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c, inBody)
		}
	}
	walk(root, false)

	return Page{
		Title:       strings.TrimSpace(strings.Join(title, "")),
		Description: strings.TrimSpace(description),
		Body:        collapse(strings.Join(body, "")),
	}
}

// Composite is the excerpt the seo analysis reads.
func (p Page) Composite() string {
	return "Title: " + p.Title + "\nDesc: " + p.Description + "\nBody: " + p.Body
}

func textOf(n *html.Node) string {
	var sb strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode {
			sb.WriteString(c.Data)
		}
	}
	return sb.String()
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, key) {
			return a.Val
		}
	}
	return ""
}

// collapse folds whitespace runs to a single space and trims the ends.
func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
