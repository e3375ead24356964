package source

import (
	"errors"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
)

// NewVideoProxy relays the classifier's MJPEG stream unchanged so viewers
// only need to reach this runtime.
func NewVideoProxy(target string, logger *slog.Logger) (http.Handler, error) {
	u, err := url.Parse(target)
	if err != nil {
		return nil, err
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, errors.New("video feed url must be absolute")
	}
	proxy := &httputil.ReverseProxy{
		Rewrite: func(r *httputil.ProxyRequest) {
			r.Out.URL.Scheme = u.Scheme
			r.Out.URL.Host = u.Host
			r.Out.URL.Path = u.Path
			r.Out.URL.RawQuery = u.RawQuery
			r.Out.Host = u.Host
		},
		// multipart/x-mixed-replace frames must reach the viewer as they arrive
		FlushInterval: -1,
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			logger.Warn("video feed unavailable", slog.String("error", err.Error()))
			w.WriteHeader(http.StatusBadGateway)
		},
	}
	return proxy, nil
}
