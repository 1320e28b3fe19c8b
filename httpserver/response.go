package httpserver

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/acpass/coroio/errcode"
	"github.com/acpass/coroio/logging"
)

var respLog = logging.For(logging.CategoryHTTP)

const serverHeader = "coroio"

// Response is a fully-built HTTP response: status line, headers (in
// insertion order, for deterministic serialization), and body. Body is
// nil for HEAD requests and canned error bodies.
type Response struct {
	Status  int
	Reason  string
	Headers []HeaderField
	Body    []byte
}

type HeaderField struct {
	Name  string
	Value string
}

var reasonPhrases = map[int]string{
	200: "OK",
	400: "Bad Request",
	404: "Not Found",
	411: "Length Required",
	500: "Internal Server Error",
	501: "Not Implemented",
	505: "HTTP Version Not Supported",
}

// Builder resolves requests against a fixed web root, serving files
// through a bounded mmap-backed cache.
type Builder struct {
	webRoot string
	cache   *FileCache
}

// NewBuilder constructs a response builder rooted at webRoot, backed by
// a file cache of the given capacity.
func NewBuilder(webRoot string, cacheCapacity int) (*Builder, error) {
	abs, err := filepath.Abs(webRoot)
	if err != nil {
		return nil, fmt.Errorf("httpserver: resolve web root: %w", err)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("httpserver: resolve web root: %w", err)
	}
	return &Builder{webRoot: resolved, cache: NewFileCache(cacheCapacity)}, nil
}

// Build resolves req against the web root and returns the response to
// send, per spec.md §4.7's status-code rules.
func (b *Builder) Build(req *Request) *Response {
	path, err := b.resolve(req.URI)
	if err != nil {
		respLog.Debug().Str("uri", req.URI).Str("error", err.Error()).Log("path resolution failed")
		return cannedResponse(errcode.HTTPNotFound)
	}

	file, err := b.cache.Get(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cannedResponse(errcode.HTTPNotFound)
		}
		respLog.Error().Str("path", path).Str("error", err.Error()).Log("file cache load failed")
		return cannedResponse(errcode.HTTPInternalServerError)
	}

	ct := contentType(path)
	if accept, ok := req.Header("Accept"); ok && !acceptMatches(accept, ct) {
		return cannedResponse(errcode.HTTPNotFound)
	}

	resp := &Response{
		Status: 200,
		Reason: reasonPhrases[200],
		Headers: []HeaderField{
			{Name: "Server", Value: serverHeader},
			{Name: "Content-Type", Value: ct},
			{Name: "Content-Length", Value: strconv.FormatInt(file.Size, 10)},
		},
	}
	if req.Method == "GET" {
		resp.Body = file.Data
	}
	return resp
}

// resolve canonicalizes uri under the web root, returning an error if
// the result, or the file it resolves to after following symlinks,
// would escape the root. A URI ending in "/" resolves to "index.html"
// within that directory.
func (b *Builder) resolve(uri string) (string, error) {
	decoded, err := url.PathUnescape(uri)
	if err != nil {
		return "", fmt.Errorf("httpserver: invalid uri: %w", err)
	}
	if strings.HasSuffix(decoded, "/") {
		decoded += "index.html"
	}

	clean := filepath.Clean(filepath.Join(b.webRoot, decoded))
	if clean != b.webRoot && !strings.HasPrefix(clean, b.webRoot+string(filepath.Separator)) {
		return "", fmt.Errorf("httpserver: path escapes web root: %s", uri)
	}
	real, err := filepath.EvalSymlinks(clean)
	if err != nil {
		return "", err
	}
	if real != b.webRoot && !strings.HasPrefix(real, b.webRoot+string(filepath.Separator)) {
		return "", fmt.Errorf("httpserver: path escapes web root: %s", uri)
	}
	return clean, nil
}

// cannedResponse builds the fixed, bodiless response for a given HTTP
// error code, per spec.md §6: "Fixed canned bodies for 400, 404, 501
// with Content-Length: 0."
func cannedResponse(e *errcode.Error) *Response {
	return &Response{
		Status: e.Code,
		Reason: reasonPhrases[e.Code],
		Headers: []HeaderField{
			{Name: "Server", Value: serverHeader},
			{Name: "Content-Length", Value: "0"},
		},
	}
}

// Serialize renders resp into the HTTP/1.1 wire format: status line,
// headers, blank line, body.
func (r *Response) Serialize() []byte {
	var buf []byte
	buf = append(buf, fmt.Sprintf("HTTP/1.1 %d %s\r\n", r.Status, r.Reason)...)
	for _, h := range r.Headers {
		buf = append(buf, fmt.Sprintf("%s: %s\r\n", h.Name, h.Value)...)
	}
	buf = append(buf, "\r\n"...)
	buf = append(buf, r.Body...)
	return buf
}
