package api

import (
	"net/http"
	"os"
	"time"
)

// handleThumbnail streams the thumbnail staged for an elevation during its
// last sync. It never fetches upstream on demand — staging happens in
// ElevationSyncer, so a 404 here just means no render was available yet the
// last time this elevation synced.
func (s *Server) handleThumbnail(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "elevationID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	elevation, err := s.Store.GetElevation(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, errNotFound)
		return
	}
	if elevation.ImagePath == nil {
		writeError(w, http.StatusNotFound, errNotFound)
		return
	}

	f, err := os.Open(*elevation.ImagePath)
	if err != nil {
		writeError(w, http.StatusNotFound, errNotFound)
		return
	}
	defer f.Close()

	var modTime time.Time
	if elevation.LocalSyncedAt != nil {
		modTime = *elevation.LocalSyncedAt
	}
	w.Header().Set("Content-Type", "image/png")
	http.ServeContent(w, r, *elevation.ImagePath, modTime, f)
}
