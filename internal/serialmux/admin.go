package serialmux

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"strconv"

	"tailscale.com/tsweb"
)

var statusTemplate = template.Must(template.New("eyetracker").Parse(`<!doctype html>
<html><head><title>eye tracker serial</title></head>
<body>
<h1>Eye tracker serial link</h1>
<p>Device: {{if .Connected}}{{.Name}} ({{.Options}}){{else}}disconnected{{end}}</p>
{{if .Connected}}<p>Received {{.Stats.Received}} bytes, dropped {{.Stats.Dropped}}, pending {{.Stats.Pending}}.</p>{{end}}
<form method="post" action="eyetracker-tracking"><input type="hidden" name="on" value="1"><button>Tracking on</button></form>
<form method="post" action="eyetracker-tracking"><input type="hidden" name="on" value="0"><button>Tracking off</button></form>
<pre id="tail"></pre>
<script>
const tail = document.getElementById("tail");
new EventSource("eyetracker-tail").onmessage = (e) => {
  tail.textContent = (tail.textContent + JSON.parse(e.data)).slice(-4096);
};
</script>
</body></html>
`))

type statusView struct {
	Connected bool
	Name      string
	Options   PortOptions
	Stats     SourceStats
}

func (d *Device) statusView() statusView {
	v := statusView{Options: d.opts}
	if src := d.Source(); src != nil {
		v.Connected = true
		v.Name = d.Name()
		v.Stats = src.Stats()
	}
	return v
}

// AttachAdminRoutes attaches admin debugging endpoints to the given HTTP
// mux served at /debug/. These routes are accessible only over
// localhost/via Tailscale and are not publicly accessible.
func (d *Device) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	debug.HandleFunc("eyetracker", "eye tracker serial link status and live tail", func(w http.ResponseWriter, r *http.Request) {
		buf := bytes.NewBuffer(nil)
		if err := statusTemplate.Execute(buf, d.statusView()); err != nil {
			http.Error(w, "Failed to render template", http.StatusInternalServerError)
			return
		}
		io.Copy(w, buf)
	})

	// API endpoint to switch tracker output on or off
	debug.HandleSilentFunc("eyetracker-tracking", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		on, err := strconv.ParseBool(r.FormValue("on"))
		if err != nil {
			http.Error(w, "Missing or invalid 'on' parameter", http.StatusBadRequest)
			return
		}
		if err := d.SetTracking(on); err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, ErrNotConnected) {
				status = http.StatusServiceUnavailable
			}
			http.Error(w, err.Error(), status)
			return
		}
		io.WriteString(w, fmt.Sprintf("tracking on=%t", on))
	})

	// API endpoint to issue Server-Side Events (SSE) with the raw serial traffic.
	debug.HandleSilentFunc("eyetracker-tail", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no") // Disable buffering for nginx

		id, c := d.Subscribe()
		defer d.Unsubscribe(id)

		// Send initial ping to establish connection
		w.Write([]byte(": ping\n\n"))
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}

		for {
			select {
			case payload, ok := <-c:
				if !ok {
					// Channel closed, exit gracefully
					return
				}
				// chunks carry newlines, so each is sent as a JSON string
				data, _ := json.Marshal(payload)
				if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
					return
				}
				if f, ok := w.(http.Flusher); ok {
					f.Flush()
				}
			case <-r.Context().Done():
				return
			}
		}
	})
}
