// Package webfinger resolves acct: handles to ActivityPub actor URLs.
package webfinger

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/carlmjohnson/requests"
)

type Webfinger struct {
	Subject string   `json:"subject"`
	Aliases []string `json:"aliases,omitempty"`
	Links   []Link   `json:"links"`
}

// ActivityPub returns the href of the actor document.
func (wf *Webfinger) ActivityPub() (string, error) {
	for _, link := range wf.Links {
		if link.Rel == "self" && (link.Type == "application/activity+json" || strings.HasPrefix(link.Type, "application/ld+json")) {
			return link.Href, nil
		}
	}
	return "", fmt.Errorf("no ActivityPub link found for %q", wf.Subject)
}

type Link struct {
	Rel      string `json:"rel"`
	Type     string `json:"type,omitempty"`
	Href     string `json:"href,omitempty"`
	Template string `json:"template,omitempty"`
}

type Acct struct {
	User string
	Host string
}

func (a *Acct) String() string {
	return "acct:" + a.User + "@" + a.Host
}

// Webfinger returns the URL for the webfinger resource for this Acct.
func (a *Acct) Webfinger() string {
	return "https://" + a.Host + "/.well-known/webfinger?resource=" + url.QueryEscape(a.String())
}

// Fetch retrieves the webfinger document for this Acct.
func (a *Acct) Fetch(ctx context.Context) (*Webfinger, error) {
	var webfinger Webfinger
	err := requests.URL(a.Webfinger()).ToJSON(&webfinger).Fetch(ctx)
	return &webfinger, err
}

// Resolve returns the ActivityPub URL of the actor named by this Acct.
func (a *Acct) Resolve(ctx context.Context) (string, error) {
	wf, err := a.Fetch(ctx)
	if err != nil {
		return "", err
	}
	return wf.ActivityPub()
}

// For returns the webfinger document describing the actor at href.
func For(acct *Acct, href string) *Webfinger {
	return &Webfinger{
		Subject: acct.String(),
		Aliases: []string{href},
		Links: []Link{{
			Rel:  "self",
			Type: "application/activity+json",
			Href: href,
		}},
	}
}

func Parse(query string) (*Acct, error) {
	query = strings.TrimPrefix(query, "acct:")
	// Remove the leading @, if there's one.
	query = strings.TrimPrefix(query, "@")

	// In case the handle has been URL encoded
	query, err := url.QueryUnescape(query)
	if err != nil {
		return nil, err
	}
	parts := strings.SplitN(query, "@", 2)
	switch len(parts) {
	case 1:
		return &Acct{
			User: parts[0],
		}, nil
	case 2:
		return &Acct{
			User: parts[0],
			Host: parts[1],
		}, nil
	default:
		return nil, fmt.Errorf("invalid acct: %q", query)
	}
}
