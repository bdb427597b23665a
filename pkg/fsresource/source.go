// Package fsresource exposes a directory tree as resources. Every file is a
// static resource named file://<relative path>, a file://{path*} template
// serves files created later, and an optional fsnotify watcher keeps the
// catalog and subscribers in step with the disk.
package fsresource

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/fsnotify/fsnotify"

	mcperrors "github.com/ajitpratap0/mcp-session-go/pkg/errors"
	"github.com/ajitpratap0/mcp-session-go/pkg/logging"
	"github.com/ajitpratap0/mcp-session-go/pkg/protocol"
	"github.com/ajitpratap0/mcp-session-go/pkg/registry"
)

const (
	// Scheme is the URI scheme of every resource a Source registers
	Scheme = "file"
	// TemplatePattern matches any path under the root
	TemplatePattern = Scheme + "://{path*}"

	defaultMaxFileSize = 10 << 20
)

// Notifier is told the URI of a file whose contents changed.
// (*server.Server).NotifyResourceUpdated fits.
type Notifier func(ctx context.Context, uri string) error

// Option configures a Source
type Option func(*Source)

// WithLogger sets the logger
func WithLogger(logger logging.Logger) Option {
	return func(s *Source) {
		s.logger = logger
	}
}

// WithNotifier receives content changes seen by the watcher
func WithNotifier(n Notifier) Option {
	return func(s *Source) {
		s.notify = n
	}
}

// WithMaxFileSize bounds the size of a file that can be read
func WithMaxFileSize(n int64) Option {
	return func(s *Source) {
		s.maxSize = n
	}
}

// Source serves one directory
type Source struct {
	dir       string
	root      *os.Root
	resources *registry.Resources
	template  *registry.Template
	logger    logging.Logger
	notify    Notifier
	maxSize   int64

	mu    sync.Mutex
	files map[string]bool // registered URIs

	watcher *fsnotify.Watcher
	wg      sync.WaitGroup
}

// New opens dir. Nothing is registered until Load.
func New(dir string, resources *registry.Resources, opts ...Option) (*Source, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	root, err := os.OpenRoot(abs)
	if err != nil {
		return nil, fmt.Errorf("opening resource root: %w", err)
	}
	tmpl, err := registry.ParseTemplate(TemplatePattern)
	if err != nil {
		root.Close()
		return nil, err
	}

	s := &Source{
		dir:       abs,
		root:      root,
		resources: resources,
		template:  tmpl,
		maxSize:   defaultMaxFileSize,
		files:     make(map[string]bool),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logging.Nop()
	}
	s.logger = s.logger.WithFields(logging.String("component", "fsresource"), logging.String("dir", abs))
	return s, nil
}

// URI returns the resource URI of a slash separated path relative to the root
func URI(rel string) string {
	segs := strings.Split(rel, "/")
	for i, seg := range segs {
		segs[i] = url.PathEscape(seg)
	}
	return Scheme + "://" + strings.Join(segs, "/")
}

// Load registers the template and every visible file under the root
func (s *Source) Load() error {
	err := s.resources.Register(TemplatePattern, registry.ResourceInfo{
		Name:        "file",
		Description: "Any file under " + s.dir,
	}, registry.ResourceFunc(s.ReadResource))
	if err != nil {
		return err
	}
	return s.registerTree(s.dir)
}

func (s *Source) registerTree(dir string) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			s.logger.Warn("skipping unreadable path", logging.String("path", p), logging.ErrorField(err))
			return nil
		}
		if p != s.dir && hidden(d.Name()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type().IsRegular() {
			s.registerFile(p)
		}
		return nil
	})
}

func hidden(name string) bool {
	return strings.HasPrefix(name, ".")
}

// relative maps an absolute path to its slash separated path under the root
func (s *Source) relative(p string) (string, bool) {
	rel, err := filepath.Rel(s.dir, p)
	if err != nil {
		return "", false
	}
	rel = filepath.ToSlash(rel)
	if rel == "." || !fs.ValidPath(rel) {
		return "", false
	}
	return rel, true
}

func (s *Source) registerFile(p string) {
	rel, ok := s.relative(p)
	if !ok {
		return
	}
	uri := URI(rel)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.files[uri] {
		return
	}
	err := s.resources.Register(uri, registry.ResourceInfo{
		Name:     path.Base(rel),
		MIMEType: mimeType(rel),
	}, registry.ResourceFunc(s.ReadResource))
	if err != nil {
		s.logger.Warn("file not registered", logging.String("uri", uri), logging.ErrorField(err))
		return
	}
	s.files[uri] = true
}

// unregisterPath removes p and, when p was a directory, everything under it
func (s *Source) unregisterPath(p string) []string {
	rel, ok := s.relative(p)
	if !ok {
		return nil
	}
	uri := URI(rel)
	prefix := uri + "/"

	s.mu.Lock()
	defer s.mu.Unlock()
	var removed []string
	for registered := range s.files {
		if registered == uri || strings.HasPrefix(registered, prefix) {
			s.resources.Unregister(registered)
			delete(s.files, registered)
			removed = append(removed, registered)
		}
	}
	return removed
}

func mimeType(rel string) string {
	if mt := mime.TypeByExtension(strings.ToLower(path.Ext(rel))); mt != "" {
		return mt
	}
	return "application/octet-stream"
}

// ReadResource reads the file a file:// URI names. Paths leaving the root
// are not found.
func (s *Source) ReadResource(_ context.Context, req registry.ResourceRequest) ([]protocol.ResourceContents, error) {
	params, ok := s.template.Match(req.URI)
	if !ok {
		return nil, mcperrors.ResourceNotFound(req.URI)
	}
	rel := params["path"]
	if !fs.ValidPath(rel) || hidden(path.Base(rel)) {
		return nil, mcperrors.ResourceNotFound(req.URI)
	}

	f, err := s.root.Open(filepath.FromSlash(rel))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrPermission) {
			return nil, mcperrors.ResourceNotFound(req.URI)
		}
		// os.Root refuses paths that escape through symlinks
		return nil, mcperrors.ResourceNotFound(req.URI).WithDetail(err.Error())
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if !info.Mode().IsRegular() {
		return nil, mcperrors.ResourceNotFound(req.URI)
	}
	if info.Size() > s.maxSize {
		return nil, fmt.Errorf("file is %d bytes, limit is %d", info.Size(), s.maxSize)
	}

	data, err := io.ReadAll(io.LimitReader(f, s.maxSize+1))
	if err != nil {
		return nil, err
	}
	return []protocol.ResourceContents{contentsFor(req.URI, mimeType(rel), data)}, nil
}

func contentsFor(uri, mimeType string, data []byte) protocol.ResourceContents {
	if utf8.Valid(data) {
		return protocol.ResourceContents{URI: uri, MIMEType: mimeType, Text: string(data)}
	}
	return protocol.ResourceContents{URI: uri, MIMEType: mimeType, Blob: base64.StdEncoding.EncodeToString(data)}
}

// Close stops the watcher and releases the root
func (s *Source) Close() error {
	if s.watcher != nil {
		s.watcher.Close()
		s.wg.Wait()
	}
	return s.root.Close()
}
