package addon

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Routes constructs the chi router exposing the pipeline over HTTP.
//
//	GET  /v1/addons/{addon}/{version}?ember_version=  302 to the artifact (scoped names as @scope%2Fname)
//	GET  /v1/addon?addon=&addon_version=&ember_version=  302 to the artifact (scoped names)
//	POST /v1/addon  with an Event body, answers {"location": ...}
func (s *Service) Routes() (http.Handler, error) {
	if s == nil {
		return nil, errors.New("nil service")
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Route("/v1", func(r chi.Router) {
		r.Get("/addons/{addon}/{version}", s.handleGetAddonPath)
		r.Get("/addon", s.handleGetAddonQuery)
		r.Post("/addon", s.handlePostAddon)
	})

	return r, nil
}

func (s *Service) handleGetAddonPath(w http.ResponseWriter, r *http.Request) {
	// chi hands back the escaped segment when the path carries %2F, as scoped names do.
	name, err := url.PathUnescape(chi.URLParam(r, "addon"))
	if err != nil {
		respondError(w, http.StatusBadRequest, fmt.Errorf("invalid addon name: %w", err))
		return
	}
	version, err := url.PathUnescape(chi.URLParam(r, "version"))
	if err != nil {
		respondError(w, http.StatusBadRequest, fmt.Errorf("invalid addon version: %w", err))
		return
	}

	s.redirect(w, r, Event{
		Addon:        name,
		AddonVersion: version,
		EmberVersion: r.URL.Query().Get("ember_version"),
	})
}

func (s *Service) handleGetAddonQuery(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	s.redirect(w, r, Event{
		Addon:        q.Get("addon"),
		AddonVersion: q.Get("addon_version"),
		EmberVersion: q.Get("ember_version"),
	})
}

func (s *Service) redirect(w http.ResponseWriter, r *http.Request, ev Event) {
	resp, err := s.Handle(r.Context(), ev)
	if err != nil {
		respondError(w, statusFor(err), err)
		return
	}
	w.Header().Set("Location", resp.Location)
	respondJSON(w, http.StatusFound, resp)
}

func (s *Service) handlePostAddon(w http.ResponseWriter, r *http.Request) {
	var ev Event
	if err := decodeJSON(r, &ev); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	resp, err := s.Handle(r.Context(), ev)
	if err != nil {
		respondError(w, statusFor(err), err)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}
