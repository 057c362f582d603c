package httpd

import (
	"errors"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// Heartbeat answers GET /heartbeat with 204 No Content. It serves as the
// liveness probe.
type Heartbeat struct{}

// Handle implements Rule.
func (Heartbeat) Handle(req *http.Request, conn *ClientConn) bool {
	if req.URL.Path != "/heartbeat" || req.Method != http.MethodGet {
		return false
	}
	conn.WriteResponse(req, Empty(http.StatusNoContent))
	return true
}

// StaticFiles serves files from a filesystem root under a URL path
// prefix. Paths containing dot-segments, backslashes, or NUL bytes are
// rejected with 400; requests outside the prefix are left to later
// rules.
type StaticFiles struct {
	root   string
	prefix string
}

// NewStaticFiles creates a static file rule. root is the document root
// on disk; prefix is the URL path root (for example "/static").
func NewStaticFiles(root, prefix string) *StaticFiles {
	return &StaticFiles{
		root:   root,
		prefix: strings.TrimSuffix(prefix, "/"),
	}
}

// Handle implements Rule.
func (s *StaticFiles) Handle(req *http.Request, conn *ClientConn) bool {
	if req.Method != http.MethodGet && req.Method != http.MethodHead {
		return false
	}
	rel, ok := strings.CutPrefix(req.URL.Path, s.prefix)
	if !ok {
		return false
	}

	// The remainder must be absolute and must not smuggle traversal or
	// platform separators past the root.
	if rel == "" || rel[0] != '/' || !safeRelPath(rel) {
		conn.WriteResponse(req, BadRequest("illegal request-target"))
		return true
	}
	if strings.HasSuffix(rel, "/") {
		rel += "index.html"
	}

	name := filepath.Join(s.root, filepath.FromSlash(rel))
	f, err := os.Open(name)
	if errors.Is(err, fs.ErrNotExist) {
		conn.WriteResponse(req, NotFound(req.URL.Path))
		return true
	}
	if err != nil {
		conn.WriteResponse(req, ServerError(err.Error()))
		return true
	}

	st, err := f.Stat()
	if err != nil || st.IsDir() {
		f.Close()
		conn.WriteResponse(req, NotFound(req.URL.Path))
		return true
	}

	res := &Response{
		Status:        http.StatusOK,
		Header:        make(http.Header),
		ContentLength: st.Size(),
	}
	res.Header.Set("Content-Type", mimeType(name))
	if req.Method == http.MethodHead {
		f.Close()
	} else {
		res.Body = f
	}
	conn.WriteResponse(req, res)
	return true
}

func safeRelPath(rel string) bool {
	if strings.ContainsAny(rel, "\\\x00") {
		return false
	}
	for _, seg := range strings.Split(rel, "/") {
		if seg == "." || seg == ".." {
			return false
		}
	}
	return true
}

// mimeTypes is the fixed extension table used for static responses.
var mimeTypes = map[string]string{
	".htm":  "text/html",
	".html": "text/html",
	".php":  "text/html",
	".css":  "text/css",
	".txt":  "text/plain",
	".js":   "application/javascript",
	".json": "application/json",
	".xml":  "application/xml",
	".png":  "image/png",
	".jpe":  "image/jpeg",
	".jpeg": "image/jpeg",
	".jpg":  "image/jpeg",
	".gif":  "image/gif",
	".bmp":  "image/bmp",
	".ico":  "image/vnd.microsoft.icon",
	".tiff": "image/tiff",
	".tif":  "image/tiff",
	".svg":  "image/svg+xml",
	".svgz": "image/svg+xml",
}

func mimeType(name string) string {
	if t, ok := mimeTypes[strings.ToLower(filepath.Ext(name))]; ok {
		return t
	}
	return "application/octet-stream"
}
