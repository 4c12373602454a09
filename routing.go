package httpipe

import (
	"strconv"
	"strings"

	"github.com/badu/httpipe/connpool"
	"github.com/badu/httpipe/proxyenv"
)

// route describes where a Call's bytes actually go: either direct to its
// own URL's host/port, or to a configured/discovered proxy, in which case
// the request-URI is framed in absolute-form (spec.md §6 "Routing").
type route struct {
	key          connpool.Key
	host         string
	port         int
	absoluteForm bool
}

func defaultPort(scheme string) int {
	if strings.EqualFold(scheme, "https") {
		return 443
	}
	return 80
}

// resolveRoute decides whether call is routed through a proxy and returns
// the origin-queue key for it.
func (p *Pipeline) resolveRoute(call *Call) (route, error) {
	scheme := call.URL.Scheme
	transport := "tcp"
	if strings.EqualFold(scheme, "https") {
		transport = "tls"
	}

	host := call.URL.Hostname()
	port := defaultPort(scheme)
	if p := call.URL.Port(); p != "" {
		if n, err := strconv.Atoi(p); err == nil {
			port = n
		}
	}

	useProxy := call.Options.Proxy == nil || *call.Options.Proxy
	if !useProxy {
		return route{
			key:  connpool.Key{Host: host, Port: port, Transport: transport},
			host: host, port: port,
		}, nil
	}

	if p.opts.Proxy != nil {
		return route{
			key:          connpool.Key{Host: p.opts.Proxy.Host, Port: p.opts.Proxy.Port, Transport: "tcp"},
			host:         p.opts.Proxy.Host,
			port:         p.opts.Proxy.Port,
			absoluteForm: true,
		}, nil
	}

	proxyURL, err := proxyenv.FromEnvironment(scheme, host)
	if err != nil {
		return route{}, err
	}
	if proxyURL == nil {
		return route{
			key:  connpool.Key{Host: host, Port: port, Transport: transport},
			host: host, port: port,
		}, nil
	}
	proxyPort := defaultPort(proxyURL.Scheme)
	if pp := proxyURL.Port(); pp != "" {
		if n, err := strconv.Atoi(pp); err == nil {
			proxyPort = n
		}
	}
	return route{
		key:          connpool.Key{Host: proxyURL.Hostname(), Port: proxyPort, Transport: "tcp"},
		host:         proxyURL.Hostname(),
		port:         proxyPort,
		absoluteForm: true,
	}, nil
}
