package wellknown

import (
	"encoding/xml"
	"net/http"
)

type xrd struct {
	XMLName xml.Name  `xml:"http://docs.oasis-open.org/ns/xri/xrd-1.0 XRD"`
	Subject string    `xml:"Subject"`
	Links   []xrdLink `xml:"Link"`
}

type xrdLink struct {
	Rel      string `xml:"rel,attr"`
	Template string `xml:"template,attr"`
}

// HostMeta points clients that predate webfinger discovery at it.
func (s *Service) HostMeta(w http.ResponseWriter, r *http.Request) error {
	w.Header().Set("Content-Type", "application/xrd+xml; charset=utf-8")
	if _, err := w.Write([]byte(xml.Header)); err != nil {
		return err
	}
	return xml.NewEncoder(w).Encode(xrd{
		Subject: "https://" + s.domain,
		Links: []xrdLink{{
			Rel:      "lrdd",
			Template: "https://" + s.domain + "/.well-known/webfinger?resource={uri}",
		}},
	})
}
