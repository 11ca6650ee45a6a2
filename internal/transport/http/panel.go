package httpserver

import (
	"encoding/json"
	"errors"
	"fmt"

	"go-live-preview/internal/contracts"
	"go-live-preview/internal/event"
	"go-live-preview/internal/preview"

	"github.com/google/uuid"
)

// ErrPanelDisposed is returned when a disposed panel is asked to show content.
var ErrPanelDisposed = errors.New("panel disposed")

// Panel is the browser side of one preview slot.
//
// Methods must be called on the dispatcher's goroutine; events are fired
// there too.
type Panel struct {
	id     string
	slot   preview.Slot
	server *PreviewServer

	disposed bool

	message    event.Emitter[[]byte]
	viewState  event.Emitter[preview.ViewState]
	didDispose event.Emitter[struct{}]
}

// CreatePanel claims slot for a new panel. A previous owner of the slot
// keeps its handle but no longer receives browser traffic.
func (m *PreviewServer) CreatePanel(slot preview.Slot, title string) (preview.Panel, error) {
	p := &Panel{id: uuid.NewString(), slot: slot, server: m}
	if err := send[any](m, m.updates, claimRequest{panel: p, title: title}); err != nil {
		return nil, err
	}
	log.Debugf("panel %s claimed slot %d", p.id, slot)
	return p, nil
}

func (p *Panel) Slot() preview.Slot { return p.slot }

// Present replaces the page shown in the slot.
func (p *Panel) Present(title string, html string, opts preview.Options) error {
	if p.disposed {
		return ErrPanelDisposed
	}
	return send[any](p.server, p.server.updates, presentRequest{
		owner: p.id,
		slot:  p.slot,
		title: title,
		html:  html,
		opts:  opts,
	})
}

// Post sends msg to the connected browser, or retains it for replay when
// none is connected.
func (p *Panel) Post(msg any) error {
	if p.disposed {
		return ErrPanelDisposed
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	var envelope contracts.IncomingMessage
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	return send[any](p.server, p.server.updates, postRequest{
		owner: p.id,
		slot:  p.slot,
		kind:  envelope.Type,
		raw:   raw,
	})
}

// Reveal asks the host to surface the slot's URL.
func (p *Panel) Reveal(slot preview.Slot) {
	if p.disposed {
		return
	}
	if p.server.OnReveal != nil {
		p.server.OnReveal(p.server.SlotURL(slot))
	}
}

// Dispose releases the slot if this panel still owns it.
func (p *Panel) Dispose() {
	if p.disposed {
		return
	}
	p.disposed = true
	if err := send[any](p.server, p.server.updates, releaseRequest{owner: p.id, slot: p.slot}); err != nil {
		log.Debugf("release slot %d: %v", p.slot, err)
	}
	p.didDispose.Fire(struct{}{})

	p.message.Dispose()
	p.viewState.Dispose()
	p.didDispose.Dispose()
}

func (p *Panel) OnMessage(fn func(raw []byte)) event.Subscription {
	return p.message.Subscribe(fn)
}

func (p *Panel) OnViewStateChanged(fn func(preview.ViewState)) event.Subscription {
	return p.viewState.Subscribe(fn)
}

func (p *Panel) OnDidDispose(fn func()) event.Subscription {
	return p.didDispose.Subscribe(func(struct{}) { fn() })
}

// deliver routes one browser message. View state reports become panel
// events; everything else goes to message subscribers.
func (p *Panel) deliver(raw []byte) {
	if p.disposed {
		return
	}

	var envelope contracts.IncomingMessage
	if err := json.Unmarshal(raw, &envelope); err != nil {
		log.Debugf("slot %d: dropping malformed message: %v", p.slot, err)
		return
	}

	if envelope.Type == contracts.MessageTypeViewState {
		var msg contracts.ViewStateMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			return
		}
		p.viewState.Fire(preview.ViewState{Active: msg.Active, Visible: true})
		return
	}

	p.message.Fire(raw)
}

func (p *Panel) hidden() {
	if p.disposed {
		return
	}
	p.viewState.Fire(preview.ViewState{})
}
