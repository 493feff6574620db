package mapctl

import (
	"net/http"
	"strings"
	"time"

	"github.com/sells-group/mapboard/internal/backend"
	"github.com/sells-group/mapboard/internal/tiles"
)

// NewTransformer returns the request transformer the renderer applies to
// every fetch. Tile requests under baseURL get a bearer token while a valid
// session is held; every other request is returned as is.
func NewTransformer(baseURL string, sessions backend.SessionProvider, now func() time.Time) tiles.TransformFunc {
	if now == nil {
		now = time.Now
	}
	return func(req tiles.Request) tiles.Request {
		if req.Kind != tiles.ResourceTile || baseURL == "" || !strings.HasPrefix(req.URL, baseURL) || sessions == nil {
			return req
		}
		sess := sessions.Current()
		if !sess.Valid(now()) {
			return req
		}
		out := req
		out.Header = req.Header.Clone()
		if out.Header == nil {
			out.Header = http.Header{}
		}
		out.Header.Set("Authorization", "Bearer "+sess.AccessToken)
		return out
	}
}
