package types

import "net/url"

// Link is a hyperlink collected from the page.
type Link struct {
	Text string `json:"text"`
	Href string `json:"href"`
}

// InputDescriptor describes a form control without its value.
type InputDescriptor struct {
	Type        string `json:"type"`
	Name        string `json:"name"`
	ID          string `json:"id"`
	Placeholder string `json:"placeholder"`
}

// PageContext is a bounded snapshot of page content used to ground
// planner requests.
type PageContext struct {
	URL          string            `json:"url"`
	Title        string            `json:"title"`
	SelectedText string            `json:"selectedText"`
	VisibleText  string            `json:"visibleText"`
	Links        []Link            `json:"links"`
	Inputs       []InputDescriptor `json:"inputs"`
}

// Clone returns a deep copy of the snapshot.
func (c *PageContext) Clone() *PageContext {
	if c == nil {
		return nil
	}
	out := *c
	out.Links = append([]Link(nil), c.Links...)
	out.Inputs = append([]InputDescriptor(nil), c.Inputs...)
	return &out
}

// TabInfo is the minimal description of a tab sent to the planner when
// the user has not shared a page snapshot.
type TabInfo struct {
	URL    string `json:"url"`
	Title  string `json:"title"`
	Domain string `json:"domain"`
}

// NewTabInfo derives the domain from the URL host; unparsable URLs get an
// empty domain.
func NewTabInfo(rawURL, title string) TabInfo {
	info := TabInfo{URL: rawURL, Title: title}
	if u, err := url.Parse(rawURL); err == nil {
		info.Domain = u.Hostname()
	}
	return info
}
