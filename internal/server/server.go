// Package server implements the TinyOPDS HTTP/OPDS front end: request
// routing, Basic auth with per-IP banning, and the Atom feed / artifact
// handlers described by the OPDS handler component.
package server

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/tinyopds/tinyopds/internal/config"
	"github.com/tinyopds/tinyopds/internal/converter"
	"github.com/tinyopds/tinyopds/internal/covercache"
	"github.com/tinyopds/tinyopds/internal/genre"
	"github.com/tinyopds/tinyopds/internal/library"
)

// Server is the OPDS HTTP server.
type Server struct {
	router    *mux.Router
	lib       *library.Library
	taxonomy  *genre.Taxonomy
	conv      converter.Converter
	covers    *covercache.Cache
	auth      *authState
	cfg       config.Config
}

// New creates a Server over lib, using cfg for auth policy, root prefix,
// converter location, and pagination. taxonomy is used to render the genre
// index; conv may be nil to disable FB2-to-EPUB transcoding.
func New(lib *library.Library, taxonomy *genre.Taxonomy, conv converter.Converter, cfg config.Config) *Server {
	s := &Server{
		router:   mux.NewRouter(),
		lib:      lib,
		taxonomy: taxonomy,
		conv:     conv,
		covers:   covercache.New(),
		auth:     newAuthState(cfg),
		cfg:      cfg,
	}
	s.registerRoutes()
	return s
}

// ServeHTTP implements http.Handler. The configured RootPrefix is stripped
// from the request path before routing, per the URL space contract ("all
// paths interpreted after stripping an optional configured root prefix").
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Connection", "close")
	if s.cfg.RootPrefix != "" && strings.HasPrefix(r.URL.Path, s.cfg.RootPrefix) {
		r.URL.Path = strings.TrimPrefix(r.URL.Path, s.cfg.RootPrefix)
		if r.URL.Path == "" {
			r.URL.Path = "/"
		}
	}
	r.URL.Path = collapseSlashes(r.URL.Path)
	s.router.ServeHTTP(w, r)
}

func collapseSlashes(p string) string {
	var b strings.Builder
	b.Grow(len(p))
	prevSlash := false
	for _, r := range p {
		if r == '/' {
			if prevSlash {
				continue
			}
			prevSlash = true
		} else {
			prevSlash = false
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *Server) registerRoutes() {
	r := s.router
	auth := authMiddleware(s.cfg.UseHTTPAuth, s.auth)

	protected := r.NewRoute().Subrouter()
	protected.Use(auth)

	protected.HandleFunc("/", s.handleRoot).Methods(http.MethodGet)

	protected.HandleFunc("/authorsindex", s.handleAuthorsIndex).Methods(http.MethodGet)
	protected.HandleFunc("/authorsindex/{prefix}", s.handleAuthorsIndex).Methods(http.MethodGet)
	protected.HandleFunc("/author/{name}", s.handleAuthorBooks).Methods(http.MethodGet)

	protected.HandleFunc("/sequencesindex", s.handleSequencesIndex).Methods(http.MethodGet)
	protected.HandleFunc("/sequencesindex/{prefix}", s.handleSequencesIndex).Methods(http.MethodGet)
	protected.HandleFunc("/sequence/{name}", s.handleSequenceBooks).Methods(http.MethodGet)

	protected.HandleFunc("/genres", s.handleGenres).Methods(http.MethodGet)
	protected.HandleFunc("/genres/{tag}", s.handleGenres).Methods(http.MethodGet)
	protected.HandleFunc("/genre/{tag}", s.handleGenreBooks).Methods(http.MethodGet)

	protected.HandleFunc("/search", s.handleSearch).Methods(http.MethodGet)
	protected.HandleFunc("/opensearch.xml", s.handleOpenSearch).Methods(http.MethodGet)

	protected.HandleFunc("/cover/{id}.jpeg", s.handleCover).Methods(http.MethodGet)
	protected.HandleFunc("/thumbnail/{id}.jpeg", s.handleThumbnail).Methods(http.MethodGet)

	protected.HandleFunc("/{name}.ico", s.handleFavicon).Methods(http.MethodGet)

	protected.HandleFunc("/{id}/{rest:.*}", s.handleArtifact).Methods(http.MethodGet)
}
