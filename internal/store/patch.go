package store

import (
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/mapboard/internal/model"
)

// patchAssignments renders the SET clause of a project patch in a fixed
// column order. placeholder returns the bind marker for the n-th argument
// (1-based).
func patchAssignments(patch model.ProjectPatch, placeholder func(n int) string) (string, []any, error) {
	cols := patch.Columns()
	var sets []string
	var args []any
	for _, name := range []string{"title", "description", "bounds", "published"} {
		v, ok := cols[name]
		if !ok {
			continue
		}
		if name == "bounds" {
			b := v.(model.Bounds)
			enc, err := encodeBounds(&b)
			if err != nil {
				return "", nil, err
			}
			v = enc
		}
		args = append(args, v)
		sets = append(sets, name+" = "+placeholder(len(args)))
	}
	return strings.Join(sets, ", "), args, nil
}

// encodeBounds returns the JSON text of b, or nil for SQL NULL.
func encodeBounds(b *model.Bounds) (any, error) {
	if b == nil {
		return nil, nil
	}
	data, err := json.Marshal(b)
	if err != nil {
		return nil, eris.Wrap(err, "store: marshal bounds")
	}
	return string(data), nil
}
