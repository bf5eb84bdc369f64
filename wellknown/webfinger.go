package wellknown

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/davecheney/tube/internal/httpx"
	"github.com/davecheney/tube/internal/webfinger"
	"github.com/davecheney/tube/models"
	"github.com/go-json-experiment/json"
	"gorm.io/gorm"
)

func (s *Service) Webfinger(rw http.ResponseWriter, r *http.Request) error {
	acct, err := webfinger.Parse(r.URL.Query().Get("resource"))
	if err != nil {
		return httpx.Error(http.StatusBadRequest, err)
	}
	if acct.Host != "" && acct.Host != s.domain {
		return httpx.Error(http.StatusNotFound, fmt.Errorf("%s is not served here", acct.Host))
	}
	acct.Host = s.domain

	actor, err := models.NewActors(s.db.WithContext(r.Context())).FindLocal(acct.User)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return httpx.Error(http.StatusNotFound, fmt.Errorf("%s not found", acct))
	}
	if err != nil {
		return err
	}
	rw.Header().Set("Content-Type", "application/jrd+json")
	return json.MarshalFull(rw, webfinger.For(acct, actor.URL))
}
