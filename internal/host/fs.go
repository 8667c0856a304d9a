package host

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/banjo-dev/banjo/internal/acp"
	"github.com/banjo-dev/banjo/internal/jsonrpc"
)

// resolvePath makes p absolute against root. Agents are expected to send
// absolute paths; relative ones are accepted for hand-driven sessions.
func (l *Local) resolvePath(p string) (string, error) {
	if p == "" {
		return "", jsonrpc.NewInvalidParamsError("path is required")
	}
	if !filepath.IsAbs(p) {
		p = filepath.Join(l.root, p)
	}
	return filepath.Clean(p), nil
}

// ReadTextFile returns a file's content. Line is 1-based; Limit caps the
// number of lines returned.
func (l *Local) ReadTextFile(params acp.ReadTextFileParams) (acp.ReadTextFileResult, error) {
	path, err := l.resolvePath(params.Path)
	if err != nil {
		return acp.ReadTextFileResult{}, err
	}

	if params.Line == nil && params.Limit == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return acp.ReadTextFileResult{}, fsError("read", path, err)
		}
		return acp.ReadTextFileResult{Content: string(data)}, nil
	}

	start := 1
	if params.Line != nil {
		if *params.Line < 1 {
			return acp.ReadTextFileResult{}, jsonrpc.NewInvalidParamsError("line must be >= 1")
		}
		start = *params.Line
	}
	limit := -1
	if params.Limit != nil {
		if *params.Limit < 0 {
			return acp.ReadTextFileResult{}, jsonrpc.NewInvalidParamsError("limit must be >= 0")
		}
		limit = *params.Limit
	}

	f, err := os.Open(path)
	if err != nil {
		return acp.ReadTextFileResult{}, fsError("read", path, err)
	}
	defer f.Close()

	var b strings.Builder
	r := bufio.NewReader(f)
	for n := 1; limit != 0; n++ {
		line, err := r.ReadString('\n')
		if n >= start && line != "" {
			b.WriteString(line)
			if limit > 0 {
				limit--
			}
		}
		if err != nil {
			break
		}
	}
	return acp.ReadTextFileResult{Content: b.String()}, nil
}

// WriteTextFile replaces a file's content atomically, creating parent
// directories as needed. An existing file keeps its permissions.
func (l *Local) WriteTextFile(params acp.WriteTextFileParams) error {
	path, err := l.resolvePath(params.Path)
	if err != nil {
		return err
	}

	mode := os.FileMode(0644)
	if info, err := os.Stat(path); err == nil {
		if info.IsDir() {
			return jsonrpc.NewInvalidParamsError(fmt.Sprintf("%s is a directory", path))
		}
		mode = info.Mode().Perm()
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fsError("write", path, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fsError("write", path, err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.WriteString(params.Content); err != nil {
		tmp.Close()
		cleanup()
		return fsError("write", path, err)
	}
	if err := tmp.Chmod(mode); err != nil {
		tmp.Close()
		cleanup()
		return fsError("write", path, err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fsError("write", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return fsError("write", path, err)
	}
	return nil
}

func fsError(op, path string, err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return jsonrpc.NewError(jsonrpc.CodeInvalidParams, fmt.Sprintf("%s %s: file not found", op, path))
	}
	return jsonrpc.NewInternalError(fmt.Sprintf("%s %s: %v", op, path, err))
}
