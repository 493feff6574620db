package mapctl

import (
	"github.com/rotisserie/eris"

	"github.com/sells-group/mapboard/internal/model"
)

// WireEvent is the JSON and YAML form of an Event, used by the HTTP event
// endpoint and replay scripts.
type WireEvent struct {
	Type     string    `json:"type" yaml:"type"`
	Action   string    `json:"action,omitempty" yaml:"action,omitempty"`
	Lng      float64   `json:"lng,omitempty" yaml:"lng,omitempty"`
	Lat      float64   `json:"lat,omitempty" yaml:"lat,omitempty"`
	Key      string    `json:"key,omitempty" yaml:"key,omitempty"`
	Focus    string    `json:"focus,omitempty" yaml:"focus,omitempty"`
	Tool     string    `json:"tool,omitempty" yaml:"tool,omitempty"`
	Viewport *Viewport `json:"viewport,omitempty" yaml:"viewport,omitempty"`
	Width    int       `json:"width,omitempty" yaml:"width,omitempty"`
	Height   int       `json:"height,omitempty" yaml:"height,omitempty"`
}

// Event converts w to a controller event.
func (w WireEvent) Event() (Event, error) {
	switch w.Type {
	case "pointer":
		switch a := PointerAction(w.Action); a {
		case PointerDown, PointerMove, PointerUp, PointerClick:
			return PointerEvent{Action: a, At: model.Coordinate{Lng: w.Lng, Lat: w.Lat}}, nil
		default:
			return nil, eris.Errorf("mapctl: unknown pointer action %q", w.Action)
		}
	case "key":
		switch f := Focus(w.Focus); f {
		case FocusNone, FocusInput, FocusEditable:
			key := w.Key
			if key == "Space" {
				key = KeySpace
			}
			return KeyEvent{Key: key, Focus: f}, nil
		default:
			return nil, eris.Errorf("mapctl: unknown focus %q", w.Focus)
		}
	case "camera":
		if w.Viewport == nil {
			return nil, eris.New("mapctl: camera event needs a viewport")
		}
		return CameraEvent{Viewport: *w.Viewport}, nil
	case "drag":
		switch p := DragPhase(w.Action); p {
		case DragStart, Drag, DragEnd:
			return DragEvent{Phase: p}, nil
		default:
			return nil, eris.Errorf("mapctl: unknown drag phase %q", w.Action)
		}
	case "tool":
		t, err := ParseTool(w.Tool)
		if err != nil {
			return nil, err
		}
		return ToolEvent{Tool: t}, nil
	case "recenter":
		return RecenterEvent{}, nil
	case "resize":
		return ResizeEvent{Width: w.Width, Height: w.Height}, nil
	default:
		return nil, eris.Errorf("mapctl: unknown event type %q", w.Type)
	}
}

// DecodeEvents converts a batch, failing on the first bad entry.
func DecodeEvents(batch []WireEvent) ([]Event, error) {
	out := make([]Event, 0, len(batch))
	for i, w := range batch {
		ev, err := w.Event()
		if err != nil {
			return nil, eris.Wrapf(err, "mapctl: event %d", i)
		}
		out = append(out, ev)
	}
	return out, nil
}
