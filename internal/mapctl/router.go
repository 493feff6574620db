package mapctl

import (
	"context"

	"go.uber.org/zap"

	"github.com/sells-group/mapboard/internal/model"
)

func (c *Controller) handle(ev Event) {
	switch e := ev.(type) {
	case PointerEvent:
		c.handlePointer(e)
	case KeyEvent:
		c.handleKey(e)
	case CameraEvent:
		c.moveCamera(e.Viewport)
	case DragEvent:
		c.handleDrag(e.Phase)
	case ToolEvent:
		if !e.Tool.Valid() {
			zap.L().Warn("unknown tool ignored", zap.String("component", "mapctl"), zap.String("tool", string(e.Tool)))
			return
		}
		c.setTool(e.Tool)
	case RecenterEvent:
		c.recenter()
	case ResizeEvent:
		c.resize(e.Width, e.Height)
	}
}

// setTool switches tools. Leaving the draw tool mid-stroke discards the
// stroke; nothing is submitted.
func (c *Controller) setTool(t Tool) {
	if t == c.tool {
		return
	}
	if c.drawing.Active() {
		dropped := c.drawing.Finish()
		c.renderer.SetPreview(Preview(nil))
		zap.L().Debug("stroke discarded on tool change",
			zap.String("component", "mapctl"),
			zap.String("tool", string(t)),
			zap.Int("points", len(dropped)),
		)
	}
	c.tool = t
	c.applyTool()
}

func (c *Controller) applyTool() {
	p := c.tool.Presentation()
	c.setCursor(p.Cursor)
	c.renderer.SetPointerGlyph(p.Glyph)
	c.dragPan = p.DragPan
	c.renderer.SetDragPan(p.DragPan)
}

func (c *Controller) setCursor(cursor string) {
	c.cursor = cursor
	c.renderer.SetCursor(cursor)
}

// handleKey applies keyboard shortcuts. Keys pressed while an input element
// has focus stay with that element; Escape additionally blurs it.
func (c *Controller) handleKey(e KeyEvent) {
	if e.Focus != FocusNone {
		if e.Key == KeyEscape {
			c.renderer.Blur()
		}
		return
	}
	switch e.Key {
	case KeyEscape:
		c.setTool(ToolHand)
	case KeySpace:
		c.recenter()
	default:
		if t, ok := ToolForKey(e.Key); ok {
			c.setTool(t)
		}
	}
}

func (c *Controller) handleDrag(phase DragPhase) {
	switch phase {
	case DragStart:
		c.lastCursor = c.cursor
		c.setCursor(CursorGrab)
	case Drag:
		c.setCursor(CursorGrabbing)
	case DragEnd:
		c.setCursor(c.lastCursor)
	}
}

func (c *Controller) moveCamera(v Viewport) {
	c.current = v
	c.away = AwayFromInitial(c.current, c.initial, c.settings.Tolerance)
}

func (c *Controller) resize(width, height int) {
	if width <= 0 || height <= 0 {
		return
	}
	c.settings.Width, c.settings.Height = width, height
	c.renderer.Resize(width, height)
	c.updateInitial()
}

func (c *Controller) updateInitial() {
	var bounds *model.Bounds
	if c.project != nil {
		bounds = c.project.Bounds
	}
	c.initial = c.settings.Initial(bounds)
	c.away = AwayFromInitial(c.current, c.initial, c.settings.Tolerance)
}

func (c *Controller) recenter() {
	var bounds *model.Bounds
	if c.project != nil {
		bounds = c.project.Bounds
	}
	c.settings.Recenter(c.renderer, bounds)
}

func (c *Controller) handlePointer(e PointerEvent) {
	switch e.Action {
	case PointerDown:
		if c.tool != ToolDraw {
			return
		}
		c.drawing.Begin(e.At)
		c.renderer.SetPreview(Preview(c.drawing.Path()))
	case PointerMove:
		if c.tool != ToolDraw || !c.drawing.Active() {
			return
		}
		c.drawing.Append(e.At)
		c.renderer.SetPreview(Preview(c.drawing.Path()))
	case PointerUp:
		if c.tool != ToolDraw || !c.drawing.Active() {
			return
		}
		path := c.drawing.Finish()
		c.renderer.SetPreview(Preview(nil))
		c.submitDrawing(path)
	case PointerClick:
		switch c.tool {
		case ToolPin:
			c.insertPin(e.At)
		case ToolSign, ToolAttachment:
			zap.L().Debug("placement not persisted",
				zap.String("component", "mapctl"),
				zap.String("tool", string(c.tool)),
			)
		}
	}
}

func (c *Controller) insertPin(at model.Coordinate) {
	log := zap.L().With(zap.String("component", "mapctl"), zap.String("op", "insert_pin"))
	if !c.canWrite() {
		log.Warn("pin rejected: no session or no saved project")
		c.notify(LevelError, MsgPinFailed)
		return
	}

	pin := model.NewPin(at, c.project.ID, c.session.UserID)
	projectID, projectUUID := c.project.ID, c.project.UUID

	c.exec(func(ctx context.Context) func() {
		saved, err := c.store.InsertPin(ctx, pin)
		return func() {
			if err != nil {
				log.Error("insert pin failed", zap.Error(err))
				c.notify(LevelError, MsgPinFailed)
				return
			}
			if !c.isActive(projectID, projectUUID) {
				log.Debug("stale pin completion ignored", zap.String("project", projectUUID))
				return
			}
			c.sources.Refresh(c.renderer, c.pinsLayer, projectID)
			c.growBounds(saved.Shape)
		}
	})
}

func (c *Controller) submitDrawing(path []model.Coordinate) {
	log := zap.L().With(zap.String("component", "mapctl"), zap.String("op", "insert_drawing"))
	if len(path) < c.minPoints {
		log.Debug("drawing below minimum length dropped", zap.Int("points", len(path)))
		return
	}
	if !c.canWrite() {
		log.Warn("drawing rejected: no session or no saved project")
		c.notify(LevelError, MsgDrawingFailed)
		return
	}

	d := model.NewDrawing(path, c.project.ID, c.session.UserID)
	projectID, projectUUID := c.project.ID, c.project.UUID

	c.exec(func(ctx context.Context) func() {
		saved, err := c.store.InsertDrawing(ctx, d)
		return func() {
			if err != nil {
				log.Error("insert drawing failed", zap.Error(err), zap.Int("points", len(path)))
				c.notify(LevelError, MsgDrawingFailed)
				return
			}
			if !c.isActive(projectID, projectUUID) {
				log.Debug("stale drawing completion ignored", zap.String("project", projectUUID))
				return
			}
			c.sources.Refresh(c.renderer, c.drawingsLayer, projectID)
			c.growBounds(saved.Shape)
		}
	})
}
