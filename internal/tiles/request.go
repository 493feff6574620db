package tiles

import "net/http"

// ResourceKind classifies a renderer fetch.
type ResourceKind string

// Resource kinds the renderer reports.
const (
	ResourceTile   ResourceKind = "Tile"
	ResourceStyle  ResourceKind = "Style"
	ResourceSource ResourceKind = "Source"
	ResourceGlyphs ResourceKind = "Glyphs"
	ResourceSprite ResourceKind = "SpriteImage"
	ResourceImage  ResourceKind = "Image"
)

// Request is an outgoing renderer fetch before it hits the network.
type Request struct {
	URL    string       `json:"url"`
	Kind   ResourceKind `json:"kind"`
	Header http.Header  `json:"header,omitempty"`
}

// TransformFunc rewrites a request just before it is sent. Implementations
// must not mutate the argument.
type TransformFunc func(Request) Request
