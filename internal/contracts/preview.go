package contracts

const (
	// MessageTypeRender replaces the document shown in a slot.
	MessageTypeRender = "render"
	// MessageTypeUpdateView scrolls the preview to a source line.
	MessageTypeUpdateView = "updateView"
	// MessageTypeSelectionChanged marks the editor cursor line in the preview.
	MessageTypeSelectionChanged = "onSelectionChanged"

	// MessageTypeRevealLine reports the line at the top of the scrolled preview.
	MessageTypeRevealLine = "revealLine"
	// MessageTypeDidClick asks the editor to move its cursor to a source line.
	MessageTypeDidClick = "didClick"
	// MessageTypeClickLink reports a followed link inside the preview.
	MessageTypeClickLink = "clickLink"
	// MessageTypeCacheImageSizes carries natural sizes of loaded images.
	MessageTypeCacheImageSizes = "cacheImageSizes"
	// MessageTypeStyleLoadError lists stylesheets the preview failed to load.
	MessageTypeStyleLoadError = "styleLoadError"
	// MessageTypeViewState reports browser focus for the slot page.
	MessageTypeViewState = "viewState"
)

// IncomingMessage is the minimal envelope used to route browser messages.
type IncomingMessage struct {
	Type   string `json:"type"`
	Source string `json:"source"`
}

// RevealLineMessage is sent by the preview after it scrolls.
type RevealLineMessage struct {
	Type   string  `json:"type"`
	Source string  `json:"source"`
	Line   float64 `json:"line"`
}

// DidClickMessage requests a cursor jump in the editor.
type DidClickMessage struct {
	Type   string `json:"type"`
	Source string `json:"source"`
	Line   int    `json:"line"`
}

// ClickLinkMessage reports a link the user followed.
type ClickLinkMessage struct {
	Type     string `json:"type"`
	Source   string `json:"source"`
	Path     string `json:"path"`
	Fragment string `json:"fragment,omitempty"`
}

// ImageInfo is the natural size of one image in the rendered document.
type ImageInfo struct {
	ID     string `json:"id"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// CacheImageSizesMessage carries sizes the preview measured after load.
type CacheImageSizesMessage struct {
	Type   string      `json:"type"`
	Source string      `json:"source"`
	Images []ImageInfo `json:"images"`
}

// StyleLoadErrorMessage lists stylesheets that failed to load.
type StyleLoadErrorMessage struct {
	Type   string   `json:"type"`
	Source string   `json:"source"`
	Names  []string `json:"names"`
}

// ViewStateMessage reports whether the slot page has focus.
type ViewStateMessage struct {
	Type   string `json:"type"`
	Active bool   `json:"active"`
}

// RenderMessage carries a rendered document and revision metadata to the browser.
type RenderMessage struct {
	Type  string `json:"type"`
	HTML  string `json:"html"`
	Title string `json:"title"`
	Rev   uint64 `json:"rev"`
}

// UpdateViewMessage scrolls the preview so that Line is at the top.
type UpdateViewMessage struct {
	Type   string  `json:"type"`
	Line   float64 `json:"line"`
	Source string  `json:"source"`
}

// SelectionChangedMessage carries the editor cursor line to the preview.
type SelectionChangedMessage struct {
	Type   string `json:"type"`
	Line   int    `json:"line"`
	Source string `json:"source"`
}
