package workspace

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"agent-backend/internal/apperr"
)

// FileInfo describes one stored workspace file.
type FileInfo struct {
	Path      string    `json:"path"`
	SizeBytes int64     `json:"sizeBytes"`
	ModTime   time.Time `json:"modTime"`
	MimeType  string    `json:"mimeType"`
}

// Sandbox stores session-scoped files under a per-session root and refuses
// any path that would resolve outside it.
type Sandbox struct {
	root string
}

// New creates a Sandbox rooted at baseDir.
func New(baseDir string) *Sandbox {
	return &Sandbox{root: baseDir}
}

// Root returns the sandbox base directory.
func (s *Sandbox) Root() string {
	return s.root
}

func (s *Sandbox) sessionDir(sessionID string) string {
	return filepath.Join(s.root, sessionID)
}

// Resolve validates rel against the session root and returns the absolute
// path. Empty, absolute, and traversal paths are invalid.
func (s *Sandbox) Resolve(sessionID, rel string) (string, error) {
	rel = strings.TrimSpace(rel)
	if rel == "" {
		return "", apperr.New(apperr.CodeInvalidPath, "path is required")
	}
	if filepath.IsAbs(rel) || strings.HasPrefix(rel, "/") || strings.HasPrefix(rel, "\\") {
		return "", apperr.New(apperr.CodeInvalidPath, "absolute paths are not allowed")
	}
	base := s.sessionDir(sessionID)
	candidate := filepath.Clean(filepath.Join(base, filepath.FromSlash(rel)))
	if candidate != base && !strings.HasPrefix(candidate, base+string(filepath.Separator)) {
		return "", apperr.New(apperr.CodeInvalidPath, "path escapes session workspace")
	}
	if candidate == base {
		return "", apperr.New(apperr.CodeInvalidPath, "path resolves to the workspace root")
	}
	return candidate, nil
}

// Save streams r into the sandbox at rel, sniffing the MIME type from the
// first bytes. Size is bounded by the reader handed in by the caller.
func (s *Sandbox) Save(sessionID, rel string, r io.Reader) (FileInfo, error) {
	full, err := s.Resolve(sessionID, rel)
	if err != nil {
		return FileInfo{}, err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return FileInfo{}, fmt.Errorf("mkdir: %w", err)
	}
	f, err := os.OpenFile(full, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return FileInfo{}, fmt.Errorf("open file: %w", err)
	}
	defer f.Close()

	var sniff [512]byte
	n, readErr := io.ReadFull(r, sniff[:])
	if readErr != nil && readErr != io.EOF && readErr != io.ErrUnexpectedEOF {
		return FileInfo{}, readErr
	}
	mimeType := http.DetectContentType(sniff[:n])

	size := int64(0)
	if n > 0 {
		if _, err := f.Write(sniff[:n]); err != nil {
			return FileInfo{}, fmt.Errorf("write: %w", err)
		}
		size += int64(n)
	}
	written, err := io.Copy(f, r)
	if err != nil {
		return FileInfo{}, err
	}
	size += written

	info, statErr := os.Stat(full)
	mod := time.Now().UTC()
	if statErr == nil {
		mod = info.ModTime()
	}
	return FileInfo{Path: rel, SizeBytes: size, ModTime: mod, MimeType: mimeType}, nil
}

// WriteFile stores data at rel, used by run tool execution.
func (s *Sandbox) WriteFile(sessionID, rel string, data []byte) error {
	_, err := s.Save(sessionID, rel, strings.NewReader(string(data)))
	return err
}

// Open opens a stored file for reading.
func (s *Sandbox) Open(sessionID, rel string) (io.ReadCloser, FileInfo, error) {
	full, err := s.Resolve(sessionID, rel)
	if err != nil {
		return nil, FileInfo{}, err
	}
	f, err := os.Open(full)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, FileInfo{}, apperr.New(apperr.CodeFileNotFound, "file not found")
		}
		return nil, FileInfo{}, err
	}
	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, FileInfo{}, err
	}
	return f, FileInfo{
		Path:      rel,
		SizeBytes: stat.Size(),
		ModTime:   stat.ModTime(),
		MimeType:  mimeFromName(rel),
	}, nil
}

// ReadFile returns the full contents of a stored file.
func (s *Sandbox) ReadFile(sessionID, rel string) ([]byte, error) {
	f, _, err := s.Open(sessionID, rel)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

// List walks the session workspace and returns its files sorted by path.
func (s *Sandbox) List(sessionID string) ([]FileInfo, error) {
	base := s.sessionDir(sessionID)
	out := make([]FileInfo, 0)
	err := filepath.Walk(base, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(base, path)
		if relErr != nil {
			return relErr
		}
		out = append(out, FileInfo{
			Path:      filepath.ToSlash(rel),
			SizeBytes: info.Size(),
			ModTime:   info.ModTime(),
			MimeType:  mimeFromName(rel),
		})
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	return out, nil
}

// RemoveSession deletes a session's entire workspace.
func (s *Sandbox) RemoveSession(sessionID string) error {
	return os.RemoveAll(s.sessionDir(sessionID))
}

// Sweep deletes files last modified before cutoff and returns how many
// were removed. Empty directories left behind are pruned best-effort.
func (s *Sandbox) Sweep(cutoff time.Time) (int, error) {
	removed := 0
	err := filepath.Walk(s.root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if info.IsDir() {
			return nil
		}
		if info.ModTime().Before(cutoff) {
			if rmErr := os.Remove(path); rmErr == nil {
				removed++
			}
		}
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return removed, err
	}
	return removed, nil
}

func mimeFromName(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".pdf":
		return "application/pdf"
	case ".md", ".markdown":
		return "text/markdown"
	case ".txt":
		return "text/plain"
	case ".json":
		return "application/json"
	case ".html", ".htm":
		return "text/html"
	default:
		return "application/octet-stream"
	}
}
