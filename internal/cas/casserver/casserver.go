// Package casserver implements a filesystem-backed stand-in for apl's
// S3-compatible artifact store, for local development and integration
// tests that need a real HTTP endpoint without a cloud bucket. It serves
// the same path layout the S3-backed internal/cas.Store constructs
// (/cas/{hash} for blobs and chunks, /manifests/{hash} for chunk
// manifests), so a client configured with this server's URL as
// APL_ARTIFACT_STORE_PUBLIC_URL round-trips identically against either
// backend.
package casserver

import (
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/gorilla/mux"
)

// Server is a local content-addressed blob store rooted at a directory on
// disk. GET returns 404 for an absent key; PUT is idempotent, since every
// key is derived from the content it names.
type Server struct {
	root   string
	router *mux.Router
}

// New roots a Server at dir, creating it if necessary.
func New(dir string) (*Server, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	s := &Server{root: dir, router: mux.NewRouter()}
	s.router.HandleFunc("/cas/{hash}", s.handleBlob).Methods(http.MethodGet, http.MethodHead, http.MethodPut)
	s.router.HandleFunc("/manifests/{hash}", s.handleManifest).Methods(http.MethodGet, http.MethodHead, http.MethodPut)
	return s, nil
}

// ServeHTTP makes Server an http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleBlob(w http.ResponseWriter, r *http.Request) {
	s.serveKey(w, r, filepath.Join(s.root, "cas", mux.Vars(r)["hash"]))
}

func (s *Server) handleManifest(w http.ResponseWriter, r *http.Request) {
	s.serveKey(w, r, filepath.Join(s.root, "manifests", mux.Vars(r)["hash"]))
}

func (s *Server) serveKey(w http.ResponseWriter, r *http.Request, path string) {
	switch r.Method {
	case http.MethodPut:
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		f, err := os.Create(path)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		defer f.Close()
		if _, err := io.Copy(f, r.Body); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusCreated)
	case http.MethodHead:
		if _, err := os.Stat(path); err != nil {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	default: // GET
		f, err := os.Open(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		defer f.Close()
		io.Copy(w, f)
	}
}
