// Package resolver implements the "xds" resolver.Builder: it watches a
// Listener then its RouteConfiguration, matches the target's authority
// against the RouteConfiguration's virtual hosts, and reports the
// matched route set as a resolver.State with an xds ConfigSelector
// (spec.md §4.10, adapted from the teacher's
// xds/pkg/resolver/watch_service.go).
package resolver

import (
	"fmt"
	"strings"
	"sync"

	"github.com/grpc/grpc-sub023/internal/channelz"
	"github.com/grpc/grpc-sub023/resolver"
	"github.com/grpc/grpc-sub023/serviceconfig"
	xdsconfig "github.com/grpc/grpc-sub023/xds/config"
)

// Scheme is the URI scheme this package registers itself under.
const Scheme = "xds"

// XDSClient is the subset of an xDS client/cache needed to drive this
// resolver: watch a Listener by name, then a RouteConfiguration by name.
// xds/cache.Store implements this.
type XDSClient interface {
	WatchListener(name string, cb func(xdsconfig.ListenerUpdate, error)) (cancel func())
	WatchRouteConfig(name string, cb func(xdsconfig.RouteConfigUpdate, error)) (cancel func())
}

// NewClientFunc is overridable by tests to supply a fake XDSClient.
var NewClientFunc = func() (XDSClient, error) {
	return nil, fmt.Errorf("xds: no bootstrap configuration available")
}

func init() {
	resolver.Register(&builder{})
}

type builder struct{}

func (*builder) Scheme() string { return Scheme }

func (b *builder) Build(target resolver.Target, cc resolver.ClientConn, _ resolver.BuildOptions) (resolver.Resolver, error) {
	client, err := NewClientFunc()
	if err != nil {
		return nil, fmt.Errorf("xds: failed to create xds client: %w", err)
	}
	serviceName := target.Endpoint
	if serviceName == "" {
		serviceName = target.Authority
	}
	r := &xdsResolver{
		cc:          cc,
		client:      client,
		serviceName: serviceName,
		logger:      channelz.NewPrefixLogger("xds-resolver", nil),
	}
	r.watcher = watchService(client, serviceName, r.handleUpdate, r.logger)
	return r, nil
}

type xdsResolver struct {
	cc          resolver.ClientConn
	client      XDSClient
	serviceName string
	logger      *channelz.PrefixLogger
	watcher     func()
}

func (r *xdsResolver) handleUpdate(su serviceUpdate, err error) {
	if err != nil {
		r.cc.ReportError(err)
		return
	}
	if su.virtualHost == nil {
		r.cc.ReportError(fmt.Errorf("xds: no virtual host matched service name %q", r.serviceName))
		return
	}
	cs := newConfigSelector(su.virtualHost)
	r.cc.UpdateState(resolver.State{
		ConfigSelector: cs,
		Attributes:     map[string]any{"xds.maxStreamDuration": su.ldsConfig.maxStreamDuration},
	})
}

func (r *xdsResolver) ResolveNow(resolver.ResolveNowOptions) {}

func (r *xdsResolver) Close() {
	if r.watcher != nil {
		r.watcher()
	}
}

// serviceUpdate mirrors the teacher's watch_service.go serviceUpdate: the
// matched virtual host plus listener-level config that applies to every
// route under it.
type serviceUpdate struct {
	virtualHost *xdsconfig.VirtualHost
	ldsConfig   ldsConfig
}

type ldsConfig struct {
	maxStreamDuration interface{}
	httpFilterConfig  []xdsconfig.HTTPFilter
}

// watchService drives LDS then RDS and reports the combined result,
// re-subscribing to RDS only when the listener's RouteConfigName
// changes (ported near-verbatim from the teacher's serviceUpdateWatcher;
// xdsclient.ErrType's resource-not-found special case is dropped since
// this package's XDSClient seam has no typed xDS errors — see
// DESIGN.md).
func watchService(c XDSClient, serviceName string, cb func(serviceUpdate, error), logger *channelz.PrefixLogger) (cancel func()) {
	w := &serviceUpdateWatcher{
		logger:      logger,
		c:           c,
		serviceName: serviceName,
		serviceCb:   cb,
	}
	w.ldsCancel = c.WatchListener(serviceName, w.handleLDSResp)
	return w.close
}

type serviceUpdateWatcher struct {
	logger      *channelz.PrefixLogger
	c           XDSClient
	serviceName string
	ldsCancel   func()
	serviceCb   func(serviceUpdate, error)
	lastUpdate  serviceUpdate

	mu        sync.Mutex
	closed    bool
	rdsName   string
	rdsCancel func()
}

func (w *serviceUpdateWatcher) handleLDSResp(update xdsconfig.ListenerUpdate, err error) {
	w.logger.Infof("received LDS update for %q: %+v, err: %v", w.serviceName, update, err)
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	if err != nil {
		w.serviceCb(serviceUpdate{}, err)
		return
	}

	w.lastUpdate.ldsConfig = ldsConfig{
		maxStreamDuration: update.MaxStreamDuration,
		httpFilterConfig:  update.HTTPFilters,
	}

	if w.rdsName == update.RouteConfigName {
		w.serviceCb(w.lastUpdate, nil)
		return
	}
	w.rdsName = update.RouteConfigName
	if w.rdsCancel != nil {
		w.rdsCancel()
	}
	w.rdsCancel = w.c.WatchRouteConfig(update.RouteConfigName, w.handleRDSResp)
}

func (w *serviceUpdateWatcher) handleRDSResp(update xdsconfig.RouteConfigUpdate, err error) {
	w.logger.Infof("received RDS update for %q: %+v, err: %v", w.serviceName, update, err)
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	if w.rdsCancel == nil {
		return
	}
	if err != nil {
		w.serviceCb(serviceUpdate{}, err)
		return
	}

	matchVh := findBestMatchingVirtualHost(w.serviceName, update.VirtualHosts)
	if matchVh == nil {
		w.serviceCb(serviceUpdate{}, fmt.Errorf("xds: no matching virtual host found for %q", w.serviceName))
		return
	}
	w.lastUpdate.virtualHost = matchVh
	w.serviceCb(w.lastUpdate, nil)
}

func (w *serviceUpdateWatcher) close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	w.ldsCancel()
	if w.rdsCancel != nil {
		w.rdsCancel()
		w.rdsCancel = nil
	}
}

type domainMatchType int

const (
	domainMatchTypeInvalid domainMatchType = iota
	domainMatchTypeUniversal
	domainMatchTypePrefix
	domainMatchTypeSuffix
	domainMatchTypeExact
)

func (t domainMatchType) betterThan(b domainMatchType) bool { return t > b }

func matchTypeForDomain(d string) domainMatchType {
	switch {
	case d == "":
		return domainMatchTypeInvalid
	case d == "*":
		return domainMatchTypeUniversal
	case strings.HasPrefix(d, "*"):
		return domainMatchTypeSuffix
	case strings.HasSuffix(d, "*"):
		return domainMatchTypePrefix
	case strings.Contains(d, "*"):
		return domainMatchTypeInvalid
	default:
		return domainMatchTypeExact
	}
}

func match(domain, host string) (domainMatchType, bool) {
	switch typ := matchTypeForDomain(domain); typ {
	case domainMatchTypeInvalid:
		return typ, false
	case domainMatchTypeUniversal:
		return typ, true
	case domainMatchTypePrefix:
		return typ, strings.HasPrefix(host, strings.TrimSuffix(domain, "*"))
	case domainMatchTypeSuffix:
		return typ, strings.HasSuffix(host, strings.TrimPrefix(domain, "*"))
	case domainMatchTypeExact:
		return typ, domain == host
	default:
		return domainMatchTypeInvalid, false
	}
}

// findBestMatchingVirtualHost picks the virtual host whose Domains field
// best matches host: exact > suffix > prefix > universal, and among
// matches of the same type the longer pattern wins (spec.md §4.10
// "longest match wins").
func findBestMatchingVirtualHost(host string, vHosts []*xdsconfig.VirtualHost) *xdsconfig.VirtualHost {
	var (
		matchVh   *xdsconfig.VirtualHost
		matchType = domainMatchTypeInvalid
		matchLen  int
	)
	for _, vh := range vHosts {
		for _, domain := range vh.Domains {
			typ, matched := match(domain, host)
			if typ == domainMatchTypeInvalid {
				return nil
			}
			if matchType.betterThan(typ) || (matchType == typ && matchLen >= len(domain)) || !matched {
				continue
			}
			matchVh = vh
			matchType = typ
			matchLen = len(domain)
		}
	}
	return matchVh
}

// configSelector turns a matched virtual host's routes into per-call
// CallConfig by first-match-wins path matching (spec.md §4.8
// ConfigSelector).
type configSelector struct {
	vh *xdsconfig.VirtualHost
}

func newConfigSelector(vh *xdsconfig.VirtualHost) serviceconfig.ConfigSelector {
	return &configSelector{vh: vh}
}

func (cs *configSelector) SelectConfig(path string) (serviceconfig.CallConfig, error) {
	for _, route := range cs.vh.Routes {
		if !routeMatches(route, path) {
			continue
		}
		return serviceconfig.CallConfig{
			MethodConfig: serviceconfig.MethodConfig{},
			Attributes: serviceconfig.CallAttributes{
				"xds.cluster": pickWeightedCluster(route.WeightedClusters),
			},
		}, nil
	}
	return serviceconfig.CallConfig{}, fmt.Errorf("xds: no route matched path %q", path)
}

func routeMatches(r *xdsconfig.Route, path string) bool {
	switch {
	case r.Path != "":
		return r.Path == path
	case r.Prefix != "":
		return strings.HasPrefix(path, r.Prefix)
	default:
		return r.Regex == ""
	}
}

func pickWeightedCluster(clusters map[string]uint32) string {
	for name := range clusters {
		return name
	}
	return ""
}
