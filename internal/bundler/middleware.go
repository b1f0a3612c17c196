package bundler

import (
	"bytes"
	"fmt"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/conneroisu/hotssr/internal/hmr"
)

// moduleExts are bundled for the browser instead of served as-is.
var moduleExts = map[string]bool{
	".js":  true,
	".mjs": true,
	".jsx": true,
	".ts":  true,
	".tsx": true,
}

// publicDir is served at the site root without bundling.
const publicDir = "public"

// Middleware serves dev assets and passes everything else, HTML included,
// to next.
func (s *DevServer) Middleware(next http.Handler) http.Handler {
	client := hmr.ClientHandler(SocketPath)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			next.ServeHTTP(w, r)
			return
		}

		if s.hub != nil {
			switch r.URL.Path {
			case ClientPath:
				client.ServeHTTP(w, r)
				return
			case SocketPath:
				s.hub.ServeHTTP(w, r)
				return
			}
		}

		urlPath := path.Clean("/" + r.URL.Path)
		ext := strings.ToLower(path.Ext(urlPath))
		if hidden(urlPath) || ext == ".html" || ext == ".htm" {
			next.ServeHTTP(w, r)
			return
		}

		file, public, ok := s.lookup(urlPath)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		if moduleExts[ext] && !public {
			s.serveModule(w, r, file)
			return
		}
		s.serveStatic(w, r, file)
	})
}

// lookup finds a regular file for urlPath in root, then in public/.
func (s *DevServer) lookup(urlPath string) (file string, public bool, ok bool) {
	if f := s.resolve(urlPath); isFile(f) {
		return f, false, true
	}
	if f := s.resolve(path.Join(publicDir, urlPath)); isFile(f) {
		return f, true, true
	}
	return "", false, false
}

func (s *DevServer) serveModule(w http.ResponseWriter, r *http.Request, file string) {
	code, err := s.bundle(r, file)
	if err != nil {
		s.logger.Error(r.Context(), err, "Failed to bundle module", "file", s.relative(file))
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = fmt.Fprintf(w, "%v\n", err)
		return
	}

	w.Header().Set("Content-Type", "application/javascript; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	http.ServeContent(w, r, filepath.Base(file), time.Time{}, bytes.NewReader(code))
}

// bundle returns the cached browser bundle for file, building it once.
func (s *DevServer) bundle(r *http.Request, file string) ([]byte, error) {
	s.cacheMutex.Lock()
	code, ok := s.assets[file]
	generation := s.generation
	s.cacheMutex.Unlock()

	if ok {
		return code, nil
	}

	ctx := r.Context()
	key := fmt.Sprintf("client:%s#%d", file, generation)
	v, err, _ := s.group.Do(key, func() (interface{}, error) {
		code, err := s.build(ctx, kindClient, file, s.clientOptions(file))
		if err != nil {
			return nil, err
		}

		s.cacheMutex.Lock()
		if s.generation == generation {
			s.assets[file] = code
		}
		s.cacheMutex.Unlock()

		return code, nil
	})
	if err != nil {
		return nil, err
	}

	return v.([]byte), nil
}

func (s *DevServer) serveStatic(w http.ResponseWriter, r *http.Request, file string) {
	f, err := os.Open(file)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Cache-Control", "no-cache")
	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
}

func isFile(file string) bool {
	info, err := os.Stat(file)
	return err == nil && info.Mode().IsRegular()
}

// hidden reports whether any segment of a cleaned URL path is a dotfile.
func hidden(urlPath string) bool {
	for _, segment := range strings.Split(urlPath, "/") {
		if strings.HasPrefix(segment, ".") {
			return true
		}
	}
	return false
}
