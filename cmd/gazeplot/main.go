// Command gazeplot renders a recorded session as PNG plots: the calibrated
// gaze trace over the screen and the gaze and pupil time series.
package main

import (
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"time"

	"github.com/banshee-data/eyetrack/internal/db"
	"github.com/banshee-data/eyetrack/internal/event"
	"github.com/banshee-data/eyetrack/internal/httputil"
	"github.com/banshee-data/eyetrack/internal/timeutil"
)

var (
	dbPath    = flag.String("db", "eyetrack.db", "Path to the sqlite database")
	apiURL    = flag.String("url", "", "Read the session from a running node's API instead of the database, e.g. http://localhost:8080")
	sessionID = flag.String("session", "", "Session ID (default: most recent session)")
	outDir    = flag.String("out", ".", "Output directory for the PNG files")
	limit     = flag.Int("limit", 0, "Maximum number of positions to plot (0 = all)")
)

// sessionSource reads recorded sessions.
type sessionSource interface {
	ListSessions(limit int) ([]db.Session, error)
	SessionPositions(id string, limit int) ([]event.Position, error)
}

// apiSource reads sessions through the node's HTTP API.
type apiSource struct {
	client httputil.HTTPClient
	base   string
}

func (a apiSource) ListSessions(limit int) ([]db.Session, error) {
	var sessions []db.Session
	err := httputil.GetJSON(a.client, httputil.JoinURL(a.base, fmt.Sprintf("/api/sessions?limit=%d", limit)), &sessions)
	return sessions, err
}

func (a apiSource) SessionPositions(id string, limit int) ([]event.Position, error) {
	var positions []event.Position
	err := httputil.GetJSON(a.client, httputil.JoinURL(a.base, fmt.Sprintf("/api/sessions/%s/positions?limit=%d", url.PathEscape(id), limit)), &positions)
	return positions, err
}

// resolveSession returns id, or the most recent session when id is empty.
func resolveSession(src sessionSource, id string) (string, error) {
	if id != "" {
		return id, nil
	}
	sessions, err := src.ListSessions(1)
	if err != nil {
		return "", err
	}
	if len(sessions) == 0 {
		return "", fmt.Errorf("no recorded sessions")
	}
	return sessions[0].ID, nil
}

func main() {
	flag.Parse()

	var src sessionSource
	if *apiURL != "" {
		src = apiSource{client: &http.Client{Timeout: 30 * time.Second}, base: *apiURL}
	} else {
		database, err := db.OpenDB(*dbPath)
		if err != nil {
			log.Fatalf("Failed to open database: %v", err)
		}
		defer database.Close()
		src = database
	}

	id, err := resolveSession(src, *sessionID)
	if err != nil {
		log.Fatalf("failed to find session: %v", err)
	}
	positions, err := src.SessionPositions(id, *limit)
	if err != nil {
		log.Fatalf("failed to load session %s: %v", id, err)
	}
	if len(positions) == 0 {
		log.Fatalf("session %s has no recorded positions", id)
	}

	files, err := plotSession(positions, timeutil.NanoTicksPerSecond, *outDir, id)
	if err != nil {
		log.Fatalf("failed to plot session %s: %v", id, err)
	}
	for _, f := range files {
		log.Printf("wrote %s", f)
	}
}
