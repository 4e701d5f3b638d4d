package upstream

import (
	"context"
	"fmt"
	"net/url"
	"time"

	synerr "github.com/scrollit/logikal-sync/internal/errors"
)

// Session carries one authenticated upstream login's cursor state explicitly,
// rather than threading it through instance variables shared across calls —
// the Cascade Orchestrator is the only caller that mutates cursor state, and it
// does so only through the methods below.
type Session struct {
	client    *Client
	token     string
	expiresAt time.Time

	path              string
	selectedProjectID string
	selectedPhaseID   string

	corrupt bool
}

// Corrupt reports whether the Session Pool must discard this session instead
// of returning it to the pool.
func (s *Session) Corrupt() bool { return s.corrupt }

// MarkCorrupt flags the session for invalidation. Called whenever an
// operation categorizes as auth failure or reports session_corrupt.
func (s *Session) MarkCorrupt() { s.corrupt = true }

func (s *Session) markIfCorrupting(err error) error {
	if err == nil {
		return nil
	}
	if synerr.CategoryOf(err) == synerr.CategoryAuth {
		s.corrupt = true
	}
	return err
}

// Navigate pushes a slash-delimited path as the current directory cursor.
// Navigation never deletes local state — it only mutates in-memory cursor
// fields on this Session.
func (s *Session) Navigate(ctx context.Context, path string) error {
	var out struct{}
	_, err := s.client.call(ctx, s.token, "POST", "/session/navigate?path="+url.QueryEscape(path), nil, &out)
	if err != nil {
		return s.markIfCorrupting(err)
	}
	s.path = path
	return nil
}

// CurrentPath returns the directory path currently navigated to.
func (s *Session) CurrentPath() string { return s.path }

func (s *Session) listEntries(ctx context.Context, op, path string) ([]Entry, error) {
	var raw []rawEntry
	_, err := s.client.call(ctx, s.token, "GET", path, nil, &raw)
	if err != nil {
		return nil, s.markIfCorrupting(err)
	}
	return normalizeEntries(raw), nil
}

// rawEntry mirrors the wire shape; ChangedAt is Unix seconds or milliseconds,
// detected by magnitude.
type rawEntry struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Path      string `json:"path"`
	ChangedAt *int64 `json:"changed_at"`
}

func normalizeEntries(raw []rawEntry) []Entry {
	out := make([]Entry, 0, len(raw))
	for _, r := range raw {
		var changed *time.Time
		if r.ChangedAt != nil {
			t := unixAny(*r.ChangedAt)
			changed = &t
		}
		out = append(out, Entry{
			UpstreamID: NormalizeID(r.ID),
			Name:       r.Name,
			Path:       r.Path,
			ChangedAt:  changed,
		})
	}
	return out
}

// unixAny interprets v as Unix seconds or milliseconds:
// magnitude greater than 10^10 indicates milliseconds.
func unixAny(v int64) time.Time {
	const tenBillion = 10_000_000_000
	if v > tenBillion {
		return time.UnixMilli(v).UTC()
	}
	return time.Unix(v, 0).UTC()
}

// ListDirectories lists child directories of the current path cursor. Unlike
// projects and phases, this works from any directory cursor state, including
// the session's initial empty path.
func (s *Session) ListDirectories(ctx context.Context) ([]Entry, error) {
	return s.listEntries(ctx, "list_directories", "/directories?path="+url.QueryEscape(s.path))
}

// ListProjects lists projects under the current directory cursor.
func (s *Session) ListProjects(ctx context.Context) ([]Entry, error) {
	return s.listEntries(ctx, "list_projects", "/projects?path="+url.QueryEscape(s.path))
}

// SelectProject moves the selected-project cursor. A not_found here is not a
// transport failure — it is the signal that the parent Project has been
// deleted upstream; the caller translates it into a tombstone.
func (s *Session) SelectProject(ctx context.Context, upstreamID string) error {
	id := NormalizeID(upstreamID)
	var out struct{}
	_, err := s.client.call(ctx, s.token, "POST", "/session/select-project/"+id, nil, &out)
	if err != nil {
		return s.markIfCorrupting(err)
	}
	s.selectedProjectID = id
	s.selectedPhaseID = ""
	return nil
}

// ListPhases lists phases under the selected project. Requires a project
// cursor to have been set via SelectProject.
func (s *Session) ListPhases(ctx context.Context) ([]Entry, error) {
	if s.selectedProjectID == "" {
		return nil, synerr.New("list_phases", synerr.CategoryBusinessLogic, fmt.Errorf("no project selected"))
	}
	return s.listEntries(ctx, "list_phases", "/projects/"+s.selectedProjectID+"/phases")
}

// SelectPhase moves the selected-phase cursor.
func (s *Session) SelectPhase(ctx context.Context, upstreamID string) error {
	id := NormalizeID(upstreamID)
	var out struct{}
	_, err := s.client.call(ctx, s.token, "POST", "/session/select-phase/"+id, nil, &out)
	if err != nil {
		return s.markIfCorrupting(err)
	}
	s.selectedPhaseID = id
	return nil
}

// ListElevations lists elevations under the selected phase. Requires all
// three cursors (directory, project, phase) to be set.
func (s *Session) ListElevations(ctx context.Context) ([]Entry, error) {
	if s.selectedProjectID == "" || s.selectedPhaseID == "" {
		return nil, synerr.New("list_elevations", synerr.CategoryBusinessLogic, fmt.Errorf("project and phase cursors required"))
	}
	return s.listEntries(ctx, "list_elevations",
		"/projects/"+s.selectedProjectID+"/phases/"+s.selectedPhaseID+"/elevations")
}

// FetchThumbnail downloads a rendered image for an elevation.
func (s *Session) FetchThumbnail(ctx context.Context, upstreamID string, opts ThumbnailOptions) ([]byte, error) {
	id := NormalizeID(upstreamID)
	path := fmt.Sprintf("/elevations/%s/thumbnail?size=%s&format=%s", id, url.QueryEscape(opts.Size), url.QueryEscape(opts.Format))
	raw, err := s.client.callRaw(ctx, s.token, "GET", path)
	if err != nil {
		return nil, s.markIfCorrupting(err)
	}
	return raw, nil
}

// FetchPartsBlob downloads the embedded parts database for the elevation
// implied by the current cursor state (the caller must have already
// identified the target elevation via ListElevations). The response is the
// raw embedded-database file, not JSON.
func (s *Session) FetchPartsBlob(ctx context.Context, elevationUpstreamID string) ([]byte, error) {
	id := NormalizeID(elevationUpstreamID)
	raw, err := s.client.callRaw(ctx, s.token, "GET", "/elevations/"+id+"/parts-blob")
	if err != nil {
		return nil, s.markIfCorrupting(err)
	}
	if len(raw) == 0 {
		return nil, synerr.New("fetch_parts_blob", synerr.CategoryValidation, fmt.Errorf("empty blob"))
	}
	return raw, nil
}

// Logout invalidates the upstream token. Best-effort: a failure here does not
// corrupt the session, since the Session Pool is about to discard it anyway.
func (s *Session) Logout(ctx context.Context) error {
	var out struct{}
	_, err := s.client.call(ctx, s.token, "POST", "/auth/logout", nil, &out)
	return err
}
