// Package repo serves a CRAN-layout directory over HTTP: directory
// listings as plain anchor pages plus tarball downloads. It backs the
// serve command and lets a local repository act as a remote source.
package repo

import (
	"context"
	"fmt"
	"html"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/matzehuels/lariat/pkg/errors"
)

// Server serves a repository directory.
type Server struct {
	root   string
	logger *log.Logger
}

// NewServer returns a server over the given directory.
func NewServer(rootDir string, logger *log.Logger) (*Server, error) {
	abs, err := filepath.Abs(rootDir)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidPath, err, "bad repository directory %s", rootDir)
	}
	info, err := os.Stat(abs)
	if err != nil || !info.IsDir() {
		return nil, errors.New(errors.ErrCodeInvalidPath,
			"repository directory %s does not exist or is not a directory", rootDir)
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Server{root: abs, logger: logger}, nil
}

// Handler returns the HTTP handler for the repository.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/*", s.serve)
	return r
}

// ListenAndServe serves until the context is canceled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.Handler()}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("serving repository", "dir", s.root, "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	rel := strings.TrimPrefix(r.URL.Path, "/")
	target := filepath.Join(s.root, filepath.FromSlash(rel))

	// No escaping the repository root
	if inner, err := filepath.Rel(s.root, target); err != nil || strings.HasPrefix(inner, "..") {
		http.NotFound(w, r)
		return
	}

	info, err := os.Stat(target)
	if err != nil {
		http.NotFound(w, r)
		return
	}

	if info.IsDir() {
		// Listings are only served with a trailing slash, like CRAN.
		if !strings.HasSuffix(r.URL.Path, "/") {
			http.Redirect(w, r, r.URL.Path+"/", http.StatusMovedPermanently)
			return
		}
		s.listing(w, r, target)
		return
	}
	http.ServeFile(w, r, target)
}

// listing writes an index page in the anchor style the source scraper
// understands: href and text identical, directories with a trailing
// slash.
func (s *Server) listing(w http.ResponseWriter, r *http.Request, dir string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		http.Error(w, "cannot read directory", http.StatusInternalServerError)
		return
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(w, "<html><head><title>Index of %s</title></head><body>\n", html.EscapeString(r.URL.Path))
	fmt.Fprintf(w, "<h1>Index of %s</h1>\n<pre>\n", html.EscapeString(r.URL.Path))
	if r.URL.Path != "/" {
		fmt.Fprintf(w, "<a href=\"%s\">Parent Directory</a>\n", path.Dir(strings.TrimSuffix(r.URL.Path, "/"))+"/")
	}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() {
			name += "/"
		}
		escaped := html.EscapeString(name)
		fmt.Fprintf(w, "<a href=\"%s\">%s</a>\n", escaped, escaped)
	}
	fmt.Fprint(w, "</pre>\n</body></html>\n")
}
