package vectorstore

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrNotInitialized is returned by control plane operations that need the
// resolved project identifier before Init has succeeded.
var ErrNotInitialized = errors.New("vector store control plane is not initialized")

// DimensionMismatchError reports a vector whose length does not match the
// dimension the index was provisioned with. It names the embedding provider
// and model so the misconfiguration can be found without digging.
type DimensionMismatchError struct {
	Provider string
	Model    string
	Expected int
	Actual   int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("embedding provider %q model %q produced a vector of dimension %d but the index expects %d",
		e.Provider, e.Model, e.Actual, e.Expected)
}

// UpsertError collects per-chunk write failures. Chunks absent from Failed
// were stored successfully.
type UpsertError struct {
	Failed map[string]error
}

func (e *UpsertError) Error() string {
	ids := make([]string, 0, len(e.Failed))
	for id := range e.Failed {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	// Keep the message bounded; the map carries the full detail.
	shown := ids
	if len(shown) > 3 {
		shown = shown[:3]
	}
	return fmt.Sprintf("failed to upsert %d of the chunks (%s)", len(e.Failed), strings.Join(shown, ", "))
}

// APIError is a non-2xx response from a backend's REST API, kept with its
// body for diagnostics.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("unexpected API response: status %d: %s", e.StatusCode, e.Body)
}
