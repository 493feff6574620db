package mapctl

import "github.com/rotisserie/eris"

// Tool is the active editing tool. Exactly one is active at a time.
type Tool string

// Editing tools, in toolbar and shortcut order.
const (
	ToolHand       Tool = "hand"
	ToolDraw       Tool = "draw"
	ToolPin        Tool = "pin"
	ToolSign       Tool = "sign"
	ToolAttachment Tool = "attachment"
)

// Tools lists every tool in toolbar order. Keys "1" to "5" select them.
var Tools = []Tool{ToolHand, ToolDraw, ToolPin, ToolSign, ToolAttachment}

// Cursor values understood by the renderer. CursorDefault leaves the
// renderer's own cursor in place.
const (
	CursorDefault   = ""
	CursorCrosshair = "crosshair"
	CursorCopy      = "copy"
	CursorGrab      = "grab"
	CursorGrabbing  = "grabbing"
)

// Presentation is what the renderer shows while a tool is active.
type Presentation struct {
	Cursor  string `json:"cursor"`
	Glyph   string `json:"glyph"`
	DragPan bool   `json:"drag_pan"`
}

var presentations = map[Tool]Presentation{
	ToolHand:       {Cursor: CursorDefault, Glyph: "🖐️", DragPan: true},
	ToolDraw:       {Cursor: CursorCrosshair, Glyph: "✏️", DragPan: false},
	ToolPin:        {Cursor: CursorCrosshair, Glyph: "📍", DragPan: true},
	ToolSign:       {Cursor: CursorCopy, Glyph: "💬", DragPan: true},
	ToolAttachment: {Cursor: CursorCopy, Glyph: "📎", DragPan: true},
}

// Valid reports whether t is a known tool.
func (t Tool) Valid() bool {
	_, ok := presentations[t]
	return ok
}

// Presentation returns the cursor, glyph and drag-pan setting for t.
func (t Tool) Presentation() Presentation {
	return presentations[t]
}

// ParseTool validates a tool name.
func ParseTool(s string) (Tool, error) {
	t := Tool(s)
	if !t.Valid() {
		return "", eris.Errorf("mapctl: unknown tool %q", s)
	}
	return t, nil
}

// ToolForKey maps the numeric shortcuts "1" to "5" to tools.
func ToolForKey(key string) (Tool, bool) {
	if len(key) != 1 || key[0] < '1' || key[0] > '5' {
		return "", false
	}
	return Tools[key[0]-'1'], true
}
