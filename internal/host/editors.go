package host

import (
	"context"
	"fmt"
	"unicode/utf8"

	"go-live-preview/internal/preview"

	"github.com/neovim/go-client/nvim"
)

// windowViewsLua describes the given windows, or every window of the current
// tab page when none are given. Floating windows and unnamed buffers are
// skipped.
const windowViewsLua = `
local wins = ...
if wins == nil or #wins == 0 then
  wins = vim.api.nvim_tabpage_list_wins(0)
end
local out = {}
for _, win in ipairs(wins) do
  if vim.api.nvim_win_is_valid(win) and vim.api.nvim_win_get_config(win).relative == "" then
    local buf = vim.api.nvim_win_get_buf(win)
    local name = vim.api.nvim_buf_get_name(buf)
    if name ~= "" then
      local view = vim.api.nvim_win_call(win, vim.fn.winsaveview)
      local text = vim.api.nvim_buf_get_lines(buf, view.topline - 1, view.topline, false)[1] or ""
      table.insert(out, {
        win = win,
        buf = buf,
        name = name,
        topline = view.topline,
        skipcol = view.skipcol or 0,
        length = vim.fn.strchars(text),
      })
    end
  end
end
return out
`

const revealLua = `
local win, topline, skipcol = ...
vim.api.nvim_win_call(win, function()
  vim.fn.winrestview({ topline = topline, skipcol = skipcol })
end)
`

const centerLua = `
local win = ...
vim.api.nvim_win_call(win, function() vim.cmd("normal! zz") end)
`

// windowView is one entry of windowViewsLua. Lines are one-based.
type windowView struct {
	Win     int    `msgpack:"win"`
	Buf     int    `msgpack:"buf"`
	Name    string `msgpack:"name"`
	TopLine int    `msgpack:"topline"`
	SkipCol int    `msgpack:"skipcol"`
	Length  int    `msgpack:"length"`
}

func (w windowView) visibleRange() preview.VisibleRange {
	return preview.VisibleRange{
		Resource:    preview.ResourceFromPath(w.Name),
		TopLine:     w.TopLine - 1,
		SkipColumns: w.SkipCol,
		LineLength:  w.Length,
	}
}

func windowViews(v *nvim.Nvim, wins ...nvim.Window) ([]windowView, error) {
	ids := make([]int, 0, len(wins))
	for _, w := range wins {
		ids = append(ids, int(w))
	}
	var views []windowView
	if err := v.ExecLua(windowViewsLua, &views, ids); err != nil {
		return nil, err
	}
	return views, nil
}

// visibleRanges converts window views, dropping repeated views of a buffer
// in favour of the first.
func visibleRanges(views []windowView) []preview.VisibleRange {
	seen := make(map[int]bool, len(views))
	out := make([]preview.VisibleRange, 0, len(views))
	for _, w := range views {
		if seen[w.Buf] {
			continue
		}
		seen[w.Buf] = true
		out = append(out, w.visibleRange())
	}
	return out
}

// Editors exposes the windows of the current tab page as source views.
type Editors struct {
	v *nvim.Nvim
}

func NewEditors(v *nvim.Nvim) *Editors {
	return &Editors{v: v}
}

func (e *Editors) ActiveEditor() preview.Editor {
	win, err := e.v.CurrentWindow()
	if err != nil {
		log.Debugf("current window: %v", err)
		return nil
	}
	views, err := windowViews(e.v, win)
	if err != nil || len(views) == 0 {
		return nil
	}
	return e.editor(views[0])
}

func (e *Editors) VisibleEditors() []preview.Editor {
	views, err := windowViews(e.v)
	if err != nil {
		log.Debugf("list windows: %v", err)
		return nil
	}
	out := make([]preview.Editor, 0, len(views))
	for _, w := range views {
		out = append(out, e.editor(w))
	}
	return out
}

// ShowResource focuses a window already showing resource, or opens it in
// the current window.
func (e *Editors) ShowResource(ctx context.Context, resource preview.Resource) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	views, err := windowViews(e.v)
	if err != nil {
		return err
	}
	for _, w := range views {
		if w.Name == resource.Path() {
			return e.v.SetCurrentWindow(nvim.Window(w.Win))
		}
	}

	var escaped string
	if err := e.v.Call("fnameescape", &escaped, resource.Path()); err != nil {
		return err
	}
	return e.v.Command("edit " + escaped)
}

func (e *Editors) editor(w windowView) *windowEditor {
	return &windowEditor{
		v:        e.v,
		win:      nvim.Window(w.Win),
		buf:      nvim.Buffer(w.Buf),
		resource: preview.ResourceFromPath(w.Name),
	}
}

// windowEditor is one window showing a named buffer.
type windowEditor struct {
	v        *nvim.Nvim
	win      nvim.Window
	buf      nvim.Buffer
	resource preview.Resource
}

func (w *windowEditor) Resource() preview.Resource { return w.resource }

func (w *windowEditor) VisibleLine() (float64, bool) {
	views, err := windowViews(w.v, w.win)
	if err != nil || len(views) == 0 {
		return 0, false
	}
	return preview.TopmostLine(views[0].visibleRange()), true
}

func (w *windowEditor) LineText(line int) (string, error) {
	lines, err := w.v.BufferLines(w.buf, line, line+1, true)
	if err != nil {
		return "", err
	}
	if len(lines) == 0 {
		return "", nil
	}
	return string(lines[0]), nil
}

func (w *windowEditor) RevealRange(r preview.Range) error {
	return w.v.ExecLua(revealLua, nil, int(w.win), r.Start.Line+1, r.Start.Character)
}

func (w *windowEditor) Show() error {
	return w.v.SetCurrentWindow(w.win)
}

// SetCursor moves the cursor to p, clamped to the buffer, and centers it.
func (w *windowEditor) SetCursor(p preview.Position) error {
	count, err := w.v.BufferLineCount(w.buf)
	if err != nil {
		return err
	}
	line := clamp(p.Line, 0, count-1)

	text, err := w.LineText(line)
	if err != nil {
		return err
	}
	col := byteOffset(text, p.Character)

	if err := w.v.SetWindowCursor(w.win, [2]int{line + 1, col}); err != nil {
		return fmt.Errorf("set cursor: %w", err)
	}
	return w.v.ExecLua(centerLua, nil, int(w.win))
}

// byteOffset converts a rune index into a byte offset within text.
func byteOffset(text string, runes int) int {
	if runes <= 0 {
		return 0
	}
	offset := 0
	for i := 0; i < runes && offset < len(text); i++ {
		_, size := utf8.DecodeRuneInString(text[offset:])
		offset += size
	}
	return offset
}

func clamp(n, lo, hi int) int {
	if hi < lo {
		return lo
	}
	return max(lo, min(n, hi))
}

// Focus mirrors preview focus into g:go_live_preview_focus.
type Focus struct {
	v *nvim.Nvim
}

func NewFocus(v *nvim.Nvim) *Focus {
	return &Focus{v: v}
}

func (f *Focus) SetPreviewFocus(focused bool) {
	if err := f.v.SetVar("go_live_preview_focus", focused); err != nil {
		log.Debugf("set focus variable: %v", err)
	}
}

// Notifier reports through vim.notify.
type Notifier struct {
	v *nvim.Nvim
}

func NewNotifier(v *nvim.Nvim) *Notifier {
	return &Notifier{v: v}
}

func (n *Notifier) Warn(msg string) {
	n.notify(msg, "WARN")
}

func (n *Notifier) Info(msg string) {
	n.notify(msg, "INFO")
}

func (n *Notifier) notify(msg string, level string) {
	code := `local msg, level = ...; vim.notify("[go-live-preview] " .. msg, vim.log.levels[level])`
	if err := n.v.ExecLua(code, nil, msg, level); err != nil {
		log.Warningf("notify: %v", err)
	}
}
