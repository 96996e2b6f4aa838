package web

import (
	"fmt"
	"html/template"
	"net/http"

	"github.com/golang/glog"
	"github.com/vincent-petithory/dataurl"
)

var viewTemplate = template.Must(template.New("view").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>{{.Title}}</title></head>
<body>
<img src="{{.Src}}" width="{{.Width}}" height="{{.Height}}" alt="{{.Title}}">
<p>{{.Caption}}</p>
</body>
</html>
`))

type viewPage struct {
	Title         string
	Src           template.URL
	Width, Height int
	Caption       string
}

// viewHandler inlines the frame into the page, so the page is complete
// without a second request.
func (h *Handler) viewHandler(w http.ResponseWriter, r *http.Request) {
	p, err := h.parseFrame(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	f := h.frame(p)
	b, err := h.renderCached(etag(p, f), f)
	if err != nil {
		glog.Errorf("web: rendering %s: %v", r.URL, err)
		http.Error(w, "frame could not be rendered", http.StatusInternalServerError)
		return
	}

	src, err := dataurl.New(b, "image/png").MarshalText()
	if err != nil {
		http.Error(w, "failed to encode data url", http.StatusInternalServerError)
		return
	}

	caption := fmt.Sprintf("%s at %.0f, %.0f, zoom %.2f: %d players, %d locations",
		p.dim.Title(), p.t.X, p.t.Z, p.t.Scale, len(f.Players), len(f.Locations))
	if d := describe(f.Hover); d != "" {
		caption += "; " + d
	}
	page := viewPage{
		Title:   p.dim.Title(),
		Src:     template.URL(src),
		Width:   p.vp.Width,
		Height:  p.vp.Height,
		Caption: caption,
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	if err := viewTemplate.Execute(w, page); err != nil {
		glog.Warningf("web: writing view: %v", err)
	}
}
