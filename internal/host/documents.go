package host

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"go-live-preview/internal/preview"

	"github.com/neovim/go-client/nvim"
)

const bufferSnapshotLua = `
local name = ...
for _, buf in ipairs(vim.api.nvim_list_bufs()) do
  if vim.api.nvim_buf_is_loaded(buf) and vim.api.nvim_buf_get_name(buf) == name then
    return {
      found = true,
      tick = vim.api.nvim_buf_get_changedtick(buf),
      lines = vim.api.nvim_buf_get_lines(buf, 0, -1, false),
    }
  end
end
return { found = false, tick = 0 }
`

type bufferSnapshot struct {
	Found bool     `msgpack:"found"`
	Tick  int64    `msgpack:"tick"`
	Lines []string `msgpack:"lines"`
}

// Documents reads sources from loaded buffers, falling back to disk.
type Documents struct {
	v *nvim.Nvim
}

func NewDocuments(v *nvim.Nvim) *Documents {
	return &Documents{v: v}
}

// FetchDocument returns the buffer contents with its changedtick as the
// version, or the file contents with its modification time.
func (d *Documents) FetchDocument(ctx context.Context, resource preview.Resource) (*preview.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var snap bufferSnapshot
	if err := d.v.ExecLua(bufferSnapshotLua, &snap, resource.Path()); err != nil {
		log.Debugf("buffer lookup for %s: %v", resource.Path(), err)
	} else if snap.Found {
		return &preview.Document{Resource: resource, Version: snap.Tick, Lines: snap.Lines}, nil
	}

	return readDocument(resource)
}

func readDocument(resource preview.Resource) (*preview.Document, error) {
	path := resource.Path()
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", path, preview.ErrDocumentNotFound)
		}
		return nil, err
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory: %w", path, preview.ErrDocumentNotFound)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return &preview.Document{
		Resource: resource,
		Version:  info.ModTime().UnixNano(),
		Lines:    splitLines(string(data)),
	}, nil
}

// splitLines splits text the way a buffer holds it: no trailing empty line
// for a final newline, and carriage returns dropped.
func splitLines(text string) []string {
	text = strings.TrimSuffix(text, "\n")
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSuffix(line, "\r")
	}
	return lines
}
