package mapctl

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/sells-group/mapboard/internal/backend"
)

// HandleSession applies an auth change. Sessions delivered by the
// configured provider are applied automatically while Run is active.
func (c *Controller) HandleSession(ctx context.Context, ev backend.SessionEvent) error {
	return c.Do(ctx, func() { c.applySession(ev) })
}

func (c *Controller) applySession(ev backend.SessionEvent) {
	log := zap.L().With(zap.String("component", "mapctl.session"), zap.String("event", string(ev.Kind)))

	prevUser := ""
	if c.session != nil {
		prevUser = c.session.UserID
	}
	c.session = ev.Session

	if ev.Kind == backend.SessionSignedOut || ev.Session == nil {
		c.session = nil
		c.profile = nil
		log.Debug("signed out")
		return
	}

	if ev.Kind == backend.SessionSignedIn {
		name := ev.Session.Email
		if name == "" {
			name = ev.Session.UserID
		}
		c.notify(LevelInfo, fmt.Sprintf(MsgWelcomeBackFmt, name))
	}

	userID := ev.Session.UserID
	if ev.Kind == backend.SessionRefreshed && userID == prevUser && c.profile != nil {
		return
	}
	c.exec(func(ctx context.Context) func() {
		profile, err := c.store.GetProfile(ctx, userID)
		return func() {
			if c.session == nil || c.session.UserID != userID {
				return
			}
			if err != nil {
				log.Warn("profile fetch failed", zap.String("user", userID), zap.Error(err))
				return
			}
			c.profile = profile
		}
	})
}
