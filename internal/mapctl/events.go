package mapctl

import "github.com/sells-group/mapboard/internal/model"

// Event is an input delivered by the renderer or the toolbar.
type Event interface {
	eventName() string
}

// PointerAction is the phase of a pointer event.
type PointerAction string

// Pointer phases.
const (
	PointerDown  PointerAction = "down"
	PointerMove  PointerAction = "move"
	PointerUp    PointerAction = "up"
	PointerClick PointerAction = "click"
)

// PointerEvent carries the geographic position under the pointer.
type PointerEvent struct {
	Action PointerAction
	At     model.Coordinate
}

// Focus describes what holds keyboard focus when a key is pressed.
type Focus string

// Focus targets. Keys pressed while an input or editable element has focus
// belong to that element.
const (
	FocusNone     Focus = ""
	FocusInput    Focus = "input"
	FocusEditable Focus = "editable"
)

// Keys with editor bindings besides the numeric tool shortcuts.
const (
	KeyEscape = "Escape"
	KeySpace  = " "
)

// KeyEvent is a key press.
type KeyEvent struct {
	Key   string
	Focus Focus
}

// CameraEvent reports the renderer's camera after a move.
type CameraEvent struct {
	Viewport Viewport
}

// DragPhase is the phase of a camera drag gesture.
type DragPhase string

// Drag phases.
const (
	DragStart DragPhase = "start"
	Drag      DragPhase = "drag"
	DragEnd   DragPhase = "end"
)

// DragEvent is a camera drag gesture.
type DragEvent struct {
	Phase DragPhase
}

// ToolEvent is an explicit toolbar selection.
type ToolEvent struct {
	Tool Tool
}

// RecenterEvent asks to return to the initial viewport.
type RecenterEvent struct{}

// ResizeEvent reports the renderer canvas size in pixels.
type ResizeEvent struct {
	Width  int
	Height int
}

func (PointerEvent) eventName() string  { return "pointer" }
func (KeyEvent) eventName() string      { return "key" }
func (CameraEvent) eventName() string   { return "camera" }
func (DragEvent) eventName() string     { return "drag" }
func (ToolEvent) eventName() string     { return "tool" }
func (RecenterEvent) eventName() string { return "recenter" }
func (ResizeEvent) eventName() string   { return "resize" }
