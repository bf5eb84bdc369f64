package wellknown

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/davecheney/tube/internal/httpx"
	"github.com/davecheney/tube/internal/to"
	"github.com/davecheney/tube/models"
	"github.com/go-chi/chi/v5"
)

func (s *Service) NodeInfoIndex(w http.ResponseWriter, r *http.Request) error {
	w.Header().Set("cache-control", "max-age=259200, public")
	return to.JSON(w, map[string]any{
		"links": []any{
			map[string]any{
				"rel":  "http://nodeinfo.diaspora.software/ns/schema/2.0",
				"href": fmt.Sprintf("https://%s/nodeinfo/2.0", s.domain),
			},
		},
	})
}

func (s *Service) NodeInfoShow(w http.ResponseWriter, r *http.Request) error {
	if v := chi.URLParam(r, "version"); v != "2.0" {
		return httpx.Error(http.StatusNotFound, errors.New("unsupported version: "+v))
	}
	db := s.db.WithContext(r.Context())
	var users, videos int64
	if err := db.Model(&models.Actor{}).Where("server_id IS NULL AND type = ?", models.Person).Count(&users).Error; err != nil {
		return err
	}
	if err := db.Model(&models.Video{}).Where("remote = ?", false).Count(&videos).Error; err != nil {
		return err
	}
	// https://github.com/jhass/nodeinfo/blob/main/schemas/2.0/schema.json
	w.Header().Set("cache-control", "max-age=1800, public")
	return to.JSON(w, map[string]any{
		"version": "2.0",
		"software": map[string]any{
			"name":    "tube",
			"version": "0.0.0-devel",
		},
		"protocols": []any{"activitypub"},
		"services": map[string]any{
			"inbound":  []any{},
			"outbound": []any{},
		},
		"usage": map[string]any{
			"users":      map[string]any{"total": users},
			"localPosts": videos,
		},
		"openRegistrations": false,
		"metadata":          map[string]any{},
	})
}
