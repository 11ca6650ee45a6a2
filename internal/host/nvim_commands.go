package host

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go-live-preview/internal/app"
	"go-live-preview/internal/config"
	"go-live-preview/internal/preview"

	"github.com/neovim/go-client/nvim"
	"github.com/neovim/go-client/nvim/plugin"
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("go-live-preview.host")

const commandTimeout = 5 * time.Second

// bufferEventEval is evaluated by Neovim when an autocommand fires.
const bufferEventEval = `{'path': expand('%:p'), 'filetype': &filetype, 'buftype': &buftype, 'line': line('.')}`

type bufferEvent struct {
	Path     string `msgpack:"path"`
	Filetype string `msgpack:"filetype"`
	Buftype  string `msgpack:"buftype"`
	Line     int    `msgpack:"line"`
}

// resource returns the file behind the event, if it names one.
func (ev *bufferEvent) resource() (preview.Resource, bool) {
	if ev == nil || ev.Path == "" || ev.Buftype != "" {
		return preview.Resource{}, false
	}
	return preview.ResourceFromPath(ev.Path), true
}

type cursor struct {
	path string
	line int
}

// Commands is a state container for Neovim command and autocommand
// handlers. It translates editor activity into LivePreview calls.
type Commands struct {
	ctx     context.Context
	cfg     config.Config
	preview *app.LivePreview

	lastCursor cursor
}

// Register wires the preview into the plugin and starts it. The preview
// stops when ctx is cancelled.
func Register(ctx context.Context, p *plugin.Plugin, cfg config.Config) error {
	v := p.Nvim
	notifier := NewNotifier(v)

	live, err := app.NewLivePreview(cfg, app.Host{
		Documents: NewDocuments(v),
		Editors:   NewEditors(v),
		Focus:     NewFocus(v),
		Notifier:  notifier,
		Announce:  notifier.Info,
	})
	if err != nil {
		return err
	}
	c := &Commands{ctx: ctx, cfg: cfg, preview: live}

	go func() {
		if err := live.Run(ctx); err != nil {
			log.Errorf("preview stopped: %v", err)
			notifier.Warn(fmt.Sprintf("preview server stopped: %v", err))
		}
	}()

	p.Handle("poll", func() (string, error) {
		return "ok", nil
	})

	p.HandleCommand(&plugin.CommandOptions{Name: "GoLivePreview", NArgs: "?"}, c.GoLivePreview)
	p.HandleCommand(&plugin.CommandOptions{Name: "GoLivePreviewRefresh"}, c.GoLivePreviewRefresh)
	p.HandleCommand(&plugin.CommandOptions{Name: "GoLivePreviewClose", NArgs: "?"}, c.GoLivePreviewClose)
	p.HandleCommand(&plugin.CommandOptions{Name: "GoLivePreviewRestore"}, c.GoLivePreviewRestore)

	p.HandleAutocmd(&plugin.AutocmdOptions{
		Event: "TextChanged,TextChangedI", Pattern: "*", Eval: bufferEventEval,
	}, c.onTextChanged)
	p.HandleAutocmd(&plugin.AutocmdOptions{
		Event: "CursorMoved,CursorMovedI", Pattern: "*", Eval: bufferEventEval,
	}, c.onCursorMoved)
	p.HandleAutocmd(&plugin.AutocmdOptions{
		Event: "BufEnter", Pattern: "*", Eval: bufferEventEval,
	}, c.onBufEnter)
	p.HandleAutocmd(&plugin.AutocmdOptions{
		Event: "WinScrolled", Pattern: "*",
	}, c.onWinScrolled)
	p.HandleAutocmd(&plugin.AutocmdOptions{
		Event: "VimLeavePre", Pattern: "*",
	}, c.onVimLeavePre)

	return nil
}

func (c *Commands) GoLivePreview(v *nvim.Nvim, args []string) error {
	var path string
	if err := v.Eval(`expand('%:p')`, &path); err != nil {
		return err
	}
	if path == "" {
		return errors.New("current buffer has no file")
	}

	var tab int
	if err := v.Eval(`tabpagenr()`, &tab); err != nil {
		return err
	}
	slot, err := parseSlot(args, preview.Slot(tab+1))
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(c.ctx, commandTimeout)
	defer cancel()
	_, err = c.preview.Preview(ctx, preview.ResourceFromPath(path), slot)
	return err
}

func (c *Commands) GoLivePreviewRefresh(v *nvim.Nvim) error {
	ctx, cancel := context.WithTimeout(c.ctx, commandTimeout)
	defer cancel()
	return c.preview.Refresh(ctx)
}

func (c *Commands) GoLivePreviewClose(v *nvim.Nvim, args []string) error {
	var slot *preview.Slot
	if len(args) > 0 && strings.TrimSpace(args[0]) != "" {
		s, err := parseSlot(args, 0)
		if err != nil {
			return err
		}
		slot = &s
	}

	ctx, cancel := context.WithTimeout(c.ctx, commandTimeout)
	defer cancel()
	closed, err := c.preview.Close(ctx, slot)
	if err != nil {
		return err
	}
	return echo(v, fmt.Sprintf("closed %d preview(s)", closed))
}

func (c *Commands) GoLivePreviewRestore(v *nvim.Nvim) error {
	ctx, cancel := context.WithTimeout(c.ctx, commandTimeout)
	defer cancel()
	restored, err := c.preview.Restore(ctx)
	if err != nil {
		return fmt.Errorf("restored %d preview(s): %w", restored, err)
	}
	return echo(v, fmt.Sprintf("restored %d preview(s)", restored))
}

func (c *Commands) onTextChanged(v *nvim.Nvim, ev *bufferEvent) {
	if r, ok := ev.resource(); ok {
		c.preview.DocumentChanged(r)
	}
}

func (c *Commands) onCursorMoved(v *nvim.Nvim, ev *bufferEvent) {
	r, ok := ev.resource()
	if !ok || !c.cfg.IsPreviewable(ev.Filetype) {
		return
	}

	next := cursor{path: ev.Path, line: ev.Line}
	if next == c.lastCursor {
		return
	}
	c.lastCursor = next
	c.preview.SelectionChanged(r, max(ev.Line-1, 0))
}

func (c *Commands) onBufEnter(v *nvim.Nvim, ev *bufferEvent) {
	r, ok := ev.resource()
	if !ok {
		return
	}
	c.preview.ActiveEditorChanged(r, c.cfg.IsPreviewable(ev.Filetype))
}

func (c *Commands) onWinScrolled(v *nvim.Nvim) {
	views, err := windowViews(v)
	if err != nil {
		log.Debugf("window views: %v", err)
		return
	}
	c.preview.VisibleRangesChanged(visibleRanges(views))
}

// onVimLeavePre returns an error so that Neovim waits for the state to be
// saved before exiting.
func (c *Commands) onVimLeavePre(v *nvim.Nvim) error {
	ctx, cancel := context.WithTimeout(c.ctx, commandTimeout)
	defer cancel()
	if err := c.preview.Persist(ctx); err != nil {
		log.Warningf("persist sessions: %v", err)
	}
	return nil
}

// parseSlot reads an optional slot number from command arguments.
func parseSlot(args []string, fallback preview.Slot) (preview.Slot, error) {
	if len(args) == 0 || strings.TrimSpace(args[0]) == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(args[0]))
	if err != nil || n < 1 {
		return 0, fmt.Errorf("invalid slot %q: want a positive number", args[0])
	}
	return preview.Slot(n), nil
}

func echo(v *nvim.Nvim, msg string) error {
	return v.Command("echom " + vimString("[go-live-preview] "+msg))
}

// vimString quotes s as a Vim literal string.
func vimString(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
