package fan

import (
	"net/url"

	"github.com/vincentbai/eventfan/internal/models"
)

// PageContext describes the page hosting the application.
type PageContext interface {
	Title() string
	URL() string
}

// StaticPage is a PageContext with fixed values.
type StaticPage struct {
	PageTitle string
	Href      string
}

func (p StaticPage) Title() string { return p.PageTitle }
func (p StaticPage) URL() string   { return p.Href }

// pageDefaults returns the properties a page view starts from: title is the
// page view's name, url and path come from the hosting page.
func pageDefaults(name string, pc PageContext) models.Properties {
	var href string
	if pc != nil {
		href = pc.URL()
	}
	return models.Properties{
		"title": name,
		"url":   href,
		"path":  pathOf(href),
	}
}

func pathOf(href string) string {
	if href == "" {
		return ""
	}
	u, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if u.Path == "" && u.Host != "" {
		return "/"
	}
	return u.Path
}
