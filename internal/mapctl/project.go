package mapctl

import (
	"context"
	"encoding/json"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/mapboard/internal/backend"
	"github.com/sells-group/mapboard/internal/model"
)

// LoadProject makes the project with uuid the active one. The load state is
// Loading until the backend answers.
func (c *Controller) LoadProject(ctx context.Context, uuid string) error {
	return c.Do(ctx, func() { c.loadProject(uuid) })
}

// NewProject creates a draft project owned by the signed-in user, makes it
// active and persists it. It returns the draft's UUID.
func (c *Controller) NewProject(ctx context.Context) (string, error) {
	var id string
	var err error
	if doErr := c.Do(ctx, func() { id, err = c.createDraft() }); doErr != nil {
		return "", doErr
	}
	return id, err
}

// EditProject applies patch to the active project locally and pushes it
// upstream. A failed push is reported but not rolled back.
func (c *Controller) EditProject(ctx context.Context, patch model.ProjectPatch) error {
	var err error
	if doErr := c.Do(ctx, func() { err = c.editProject(patch) }); doErr != nil {
		return doErr
	}
	return err
}

// DeleteProject deletes the active project and its annotations.
func (c *Controller) DeleteProject(ctx context.Context) error {
	var err error
	if doErr := c.Do(ctx, func() { err = c.deleteProject() }); doErr != nil {
		return doErr
	}
	return err
}

// ApplyChange applies a realtime change to the active project.
func (c *Controller) ApplyChange(ctx context.Context, ch backend.Change) error {
	return c.Do(ctx, func() { c.applyChange(ch) })
}

func (c *Controller) loadProject(uuid string) {
	c.loadSeq++
	seq := c.loadSeq
	c.load = LoadLoading
	log := zap.L().With(zap.String("component", "mapctl"), zap.String("project", uuid))

	c.exec(func(ctx context.Context) func() {
		p, err := c.store.GetProject(ctx, uuid)
		return func() {
			if seq != c.loadSeq {
				log.Debug("superseded project load ignored")
				return
			}
			switch {
			case err != nil:
				log.Error("load project failed", zap.Error(err))
				c.load = LoadFailed
				c.notify(LevelError, MsgLoadFailed)
			case p == nil:
				c.load = LoadNotFound
				c.setProject(nil)
			default:
				c.load = LoadLoaded
				c.setProject(p)
				c.recenter()
			}
		}
	})
}

func (c *Controller) createDraft() (string, error) {
	log := zap.L().With(zap.String("component", "mapctl"), zap.String("op", "create_project"))
	if !c.session.Valid(c.now()) {
		log.Warn("create rejected: not signed in")
		c.notify(LevelError, MsgCreateFailed)
		return "", ErrNoSession
	}

	draft := model.NewDraft(c.session.UserID, c.profile.DisplayName())
	c.loadSeq++
	c.load = LoadLoaded
	c.setProject(draft)
	c.recenter()

	c.exec(func(ctx context.Context) func() {
		created, err := c.store.CreateProject(ctx, draft)
		return func() {
			if err != nil {
				log.Error("create project failed", zap.Error(err), zap.String("project", draft.UUID))
				c.notify(LevelError, MsgCreateFailed)
				return
			}
			if c.project == nil || c.project.UUID != draft.UUID {
				log.Debug("stale create completion ignored", zap.String("project", draft.UUID))
				return
			}
			// Keep local edits made while the insert was in flight.
			saved := c.project.Clone()
			saved.ID = created.ID
			saved.CreatedAt = created.CreatedAt
			saved.IsDraft = false
			c.setProject(saved)
			if patch := diffPatch(created, saved); !patch.Empty() {
				c.pushPatch(saved.UUID, patch)
			}
		}
	})
	return draft.UUID, nil
}

func (c *Controller) editProject(patch model.ProjectPatch) error {
	if c.project == nil {
		return ErrNoProject
	}
	if patch.Empty() {
		return nil
	}
	c.setProject(patch.Apply(c.project))
	if c.project.Persisted() {
		c.pushPatch(c.project.UUID, patch)
	}
	return nil
}

type pendingPush struct {
	uuid  string
	patch model.ProjectPatch
}

// pushPatch queues patch for upstream. One update is in flight at a time so
// the backend sees them in the order they were made; queued patches for the
// same project merge, later fields winning. Drafts are pushed once saved.
func (c *Controller) pushPatch(uuid string, patch model.ProjectPatch) {
	if n := len(c.pushes); n > 0 && c.pushes[n-1].uuid == uuid {
		c.pushes[n-1].patch = c.pushes[n-1].patch.Merge(patch)
	} else {
		c.pushes = append(c.pushes, pendingPush{uuid: uuid, patch: patch})
	}
	c.nextPush()
}

func (c *Controller) nextPush() {
	if c.pushing || len(c.pushes) == 0 {
		return
	}
	next := c.pushes[0]
	c.pushes = c.pushes[1:]
	c.pushing = true

	c.exec(func(ctx context.Context) func() {
		err := c.store.UpdateProject(ctx, next.uuid, next.patch)
		return func() {
			c.pushing = false
			if err != nil {
				zap.L().Error("update project failed",
					zap.String("component", "mapctl"),
					zap.String("project", next.uuid),
					zap.Error(err),
				)
				c.notify(LevelError, MsgUpdateFailed)
			}
			c.nextPush()
		}
	})
}

func (c *Controller) deleteProject() error {
	log := zap.L().With(zap.String("component", "mapctl"), zap.String("op", "delete_project"))
	if !c.canWrite() {
		log.Warn("delete rejected: no session or no saved project")
		c.notify(LevelError, MsgDeleteFailed)
		if c.project == nil {
			return ErrNoProject
		}
		return eris.Wrap(ErrNoSession, "mapctl: delete project")
	}

	uuid := c.project.UUID
	c.exec(func(ctx context.Context) func() {
		err := c.store.DeleteProject(ctx, uuid)
		return func() {
			if err != nil {
				log.Error("delete project failed", zap.Error(err), zap.String("project", uuid))
				c.notify(LevelError, MsgDeleteFailed)
				return
			}
			if c.project != nil && c.project.UUID == uuid {
				c.loadSeq++
				c.load = LoadIdle
				c.setProject(nil)
			}
		}
	})
	return nil
}

// growBounds extends the active project's bounds to cover shape and pushes
// the new bounds upstream.
func (c *Controller) growBounds(shape model.Shape) {
	if c.project == nil {
		return
	}
	next := model.GrowBounds(c.project.Bounds, shape)
	if next == nil || (c.project.Bounds != nil && *next == *c.project.Bounds) {
		return
	}
	patch := model.ProjectPatch{Bounds: next}
	c.setProject(patch.Apply(c.project))
	if c.project.Persisted() {
		c.pushPatch(c.project.UUID, patch)
	}
}

// setProject replaces the active project. An identity change rebuilds both
// tile sources, recomputes the initial viewport and moves the realtime
// subscription, in that order. A field change only recomputes the initial
// viewport when the bounds moved.
func (c *Controller) setProject(next *model.MapProject) {
	prev := c.project
	c.project = next

	if prev.SameIdentity(next) {
		if !sameBounds(prev, next) {
			c.updateInitial()
		}
		return
	}

	c.sources.RefreshAll(c.renderer, c.projectID())
	c.updateInitial()
	c.subscribe()
}

// diffPatch returns the patch turning stored into local.
func diffPatch(stored, local *model.MapProject) model.ProjectPatch {
	var patch model.ProjectPatch
	title, desc, published := local.Title, local.Description, local.Published
	if stored.Title != title {
		patch.Title = &title
	}
	if stored.Description != desc {
		patch.Description = &desc
	}
	if !sameBounds(stored, local) && local.Bounds != nil {
		b := *local.Bounds
		patch.Bounds = &b
	}
	if stored.Published != published {
		patch.Published = &published
	}
	return patch
}

func sameBounds(a, b *model.MapProject) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.Bounds == nil || b.Bounds == nil {
		return a.Bounds == b.Bounds
	}
	return *a.Bounds == *b.Bounds
}

// subscribe follows realtime changes of the active saved project.
func (c *Controller) subscribe() {
	if c.stopFeed != nil {
		c.stopFeed()
		c.stopFeed = nil
	}
	if c.feed == nil || !c.project.Persisted() {
		return
	}

	ctx, cancel := context.WithCancel(c.ctx)
	c.stopFeed = cancel
	uuid := c.project.UUID
	log := zap.L().With(zap.String("component", "mapctl.realtime"), zap.String("project", uuid))

	go func() {
		changes, err := c.feed.Subscribe(ctx, model.TableProjects, "uuid=eq."+uuid)
		if err != nil {
			if ctx.Err() == nil {
				log.Error("realtime subscribe failed", zap.Error(err))
			}
			return
		}
		for {
			select {
			case <-ctx.Done():
				return
			case ch, ok := <-changes:
				if !ok {
					return
				}
				c.post(func() { c.applyChange(ch) })
			}
		}
	}()
}

// applyChange replaces the active project with a remote update of it. The
// last writer wins; nothing is merged.
func (c *Controller) applyChange(ch backend.Change) {
	log := zap.L().With(zap.String("component", "mapctl.realtime"))
	if ch.Table != model.TableProjects || ch.Event != backend.ChangeUpdate {
		log.Debug("change ignored", zap.String("table", ch.Table), zap.String("event", string(ch.Event)))
		return
	}
	var p model.MapProject
	if err := json.Unmarshal(ch.New, &p); err != nil {
		log.Warn("undecodable project change", zap.Error(err))
		return
	}
	if c.project == nil || p.UUID != c.project.UUID {
		return
	}
	c.setProject(&p)
}
