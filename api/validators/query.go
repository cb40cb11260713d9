package validators

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/angelmondragon/originhash-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/originhash-backend/pkg/errors"
)

const maxCursorLength = 512

// ParseQueryInt reads an optional bounded integer such as a page limit.
func ParseQueryInt(r *http.Request, key string, defaultVal, min, max int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return defaultVal, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "query parameter must be numeric").WithDetails(map[string]any{"field": key})
	}
	if value < min || value > max {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "query parameter out of range").WithDetails(map[string]any{"field": key, "min": min, "max": max})
	}
	return value, nil
}

// ParseQueryArtifactKind reads png or pdf from key, falling back to defaultKind.
func ParseQueryArtifactKind(r *http.Request, key string, defaultKind enums.ArtifactKind) (enums.ArtifactKind, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return defaultKind, nil
	}
	kind, err := enums.ParseArtifactKind(raw)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeValidation, err, key+" must be png or pdf").
			WithDetails(map[string]any{"field": key})
	}
	return kind, nil
}

// ParseQueryCursor returns the opaque pagination cursor. Decoding happens in
// the pagination package; this only bounds what reaches it.
func ParseQueryCursor(r *http.Request) (string, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("cursor"))
	if len(raw) > maxCursorLength {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "cursor is too long").
			WithDetails(map[string]any{"field": "cursor", "max": maxCursorLength})
	}
	return raw, nil
}
