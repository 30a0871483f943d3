// Package registry tracks connected probes and exposes the ones ready for dispatch.
//
// Probe lifecycle:
//
//	connected -> ready | disconnected
//	ready     -> disconnected
//
// A probe becomes ready only after its location resolved and the probe
// signalled readiness, in either order. A probe whose lookup failed is
// never ready. All mutations run on the single goroutine started by Run;
// readers get immutable snapshots.
package registry

import (
	"context"
	"errors"
	"sort"
	"sync/atomic"

	"github.com/evyataryagoni/geoprobe/internal/geoip"
	"github.com/evyataryagoni/geoprobe/internal/logger"
	"github.com/evyataryagoni/geoprobe/internal/metrics"
	"github.com/evyataryagoni/geoprobe/internal/models"
)

// eventQueueSize bounds the number of pending transport events
const eventQueueSize = 1024

// Locator resolves the location of a probe's IP
// geoip.Client implements it
type Locator interface {
	Lookup(ctx context.Context, ip string) (*models.LocationInfo, error)
}

// ConnectRequest describes a newly accepted probe connection
type ConnectRequest struct {
	ID        string
	IP        string
	Version   string
	Tags      []string
	Resolvers []string

	// Terminate forcibly closes the connection with err
	// Called when the probe is rejected (anonymizer detected); may be nil
	Terminate func(err error)
}

type eventKind int

const (
	eventConnect eventKind = iota
	eventLocated
	eventReady
	eventResolvers
	eventDisconnect
)

func (k eventKind) String() string {
	switch k {
	case eventConnect:
		return "connect"
	case eventLocated:
		return "located"
	case eventReady:
		return "ready"
	case eventResolvers:
		return "resolvers"
	case eventDisconnect:
		return "disconnect"
	default:
		return "unknown"
	}
}

// event is a transport or lookup notification processed by the owner goroutine
type event struct {
	kind      eventKind
	id        string
	request   *ConnectRequest
	location  *models.LocationInfo
	err       error
	resolvers []string
}

// entry is the owner-side state of one probe
type entry struct {
	seq            uint64
	probe          models.Probe
	readyRequested bool // ready signal seen before the location resolved
	lookupFailed   bool
	cancelLookup   context.CancelFunc
	terminate      func(error)
}

// Registry is the probe registry
// Create it with New and start the owner goroutine with Run
type Registry struct {
	locator Locator
	events  chan event
	done    chan struct{}

	// owned by the Run goroutine
	probes map[string]*entry
	seq    uint64

	// read side
	snapshot atomic.Pointer[[]models.PublicProbe]
	tracked  atomic.Int64

	metrics *metrics.Metrics
	logger  *logger.Logger

	// onHandled is called after each event (tests only)
	onHandled func(kind eventKind, id string)
}

// New creates a registry that locates probes with locator
//
// Parameters:
//   - locator: resolves probe IPs (usually the geoip client)
//   - m: metrics collector (optional, can be nil)
//   - log: logger (optional, can be nil)
func New(locator Locator, m *metrics.Metrics, log *logger.Logger) *Registry {
	r := &Registry{
		locator: locator,
		events:  make(chan event, eventQueueSize),
		done:    make(chan struct{}),
		probes:  make(map[string]*entry),
		metrics: m,
		logger:  logger.OrNop(log).WithComponent("Registry"),
	}
	empty := []models.PublicProbe{}
	r.snapshot.Store(&empty)
	return r
}

// Run processes events until ctx is done
// In-flight lookups are cancelled and every probe is dropped on exit
func (r *Registry) Run(ctx context.Context) {
	defer close(r.done)

	r.logger.Info().Msg("Probe registry started")
	for {
		select {
		case <-ctx.Done():
			r.shutdown()
			r.logger.Info().Msg("Probe registry stopped")
			return

		case ev := <-r.events:
			r.handle(ctx, ev)
			if r.onHandled != nil {
				r.onHandled(ev.kind, ev.id)
			}
		}
	}
}

// Connect registers a new probe and starts locating it
func (r *Registry) Connect(req ConnectRequest) {
	r.send(event{kind: eventConnect, id: req.ID, request: &req})
}

// Ready records the probe's readiness signal
func (r *Registry) Ready(id string) {
	r.send(event{kind: eventReady, id: id})
}

// UpdateResolvers replaces the probe's DNS resolver list
func (r *Registry) UpdateResolvers(id string, resolvers []string) {
	r.send(event{kind: eventResolvers, id: id, resolvers: append([]string(nil), resolvers...)})
}

// Disconnect removes the probe and cancels its pending lookup
func (r *Registry) Disconnect(id string) {
	r.send(event{kind: eventDisconnect, id: id})
}

// ReadyProbes returns every ready probe exactly once
// The result is a copy and never nil
func (r *Registry) ReadyProbes() []models.PublicProbe {
	current := *r.snapshot.Load()
	out := make([]models.PublicProbe, len(current))
	for i, probe := range current {
		out[i] = probe.Clone()
	}
	return out
}

// Count returns the number of tracked probes (ready or not)
func (r *Registry) Count() int {
	return int(r.tracked.Load())
}

// send queues an event, dropping it once the registry has stopped
func (r *Registry) send(ev event) {
	select {
	case r.events <- ev:
	case <-r.done:
	}
}

func (r *Registry) handle(ctx context.Context, ev event) {
	switch ev.kind {
	case eventConnect:
		r.handleConnect(ctx, ev.request)
	case eventLocated:
		r.handleLocated(ev.id, ev.location, ev.err)
	case eventReady:
		r.handleReady(ev.id)
	case eventResolvers:
		r.handleResolvers(ev.id, ev.resolvers)
	case eventDisconnect:
		r.handleDisconnect(ev.id)
	}
}

func (r *Registry) handleConnect(ctx context.Context, req *ConnectRequest) {
	log := r.logger.WithProbe(req.ID)

	if _, exists := r.probes[req.ID]; exists {
		log.Warn().Msg("Duplicate probe id, ignoring connect")
		return
	}

	lookupCtx, cancel := context.WithCancel(ctx)
	r.seq++
	r.probes[req.ID] = &entry{
		seq: r.seq,
		probe: models.Probe{
			ID:        req.ID,
			IP:        req.IP,
			Status:    models.ProbeConnected,
			Version:   req.Version,
			Tags:      append([]string(nil), req.Tags...),
			Resolvers: append([]string(nil), req.Resolvers...),
		},
		cancelLookup: cancel,
		terminate:    req.Terminate,
	}

	if r.metrics != nil {
		r.metrics.ProbeConnectionsTotal.Inc()
	}
	log.Info().Str("ip", req.IP).Str("version", req.Version).Msg("Probe connected")

	go r.locate(lookupCtx, req.ID, req.IP)
	r.publish()
}

// locate runs the lookup off the owner goroutine and reports back
func (r *Registry) locate(ctx context.Context, id, ip string) {
	location, err := r.locator.Lookup(ctx, ip)
	r.send(event{kind: eventLocated, id: id, location: location, err: err})
}

func (r *Registry) handleLocated(id string, location *models.LocationInfo, err error) {
	e, ok := r.probes[id]
	if !ok {
		// probe left while the lookup was running
		return
	}
	e.cancelLookup()
	log := r.logger.WithProbe(id)

	if err != nil {
		e.lookupFailed = true
		reason := failureReason(err)
		if r.metrics != nil {
			r.metrics.ProbeLocationFailures.WithLabelValues(reason).Inc()
		}
		log.Warn().Err(err).Str("reason", reason).Msg("Probe location lookup failed")

		if errors.Is(err, geoip.ErrAnonymizerDetected) && e.terminate != nil {
			// terminate reports back through Disconnect, so it must not run on this goroutine
			go e.terminate(err)
		}
		return
	}

	e.probe.Location = location
	if e.readyRequested {
		e.probe.Status = models.ProbeReady
		log.Info().Msg("Probe ready")
	}
	r.publish()
}

func (r *Registry) handleReady(id string) {
	e, ok := r.probes[id]
	if !ok {
		return
	}
	log := r.logger.WithProbe(id)

	switch {
	case e.probe.Status == models.ProbeReady:
		// already ready
	case e.lookupFailed:
		log.Debug().Msg("Ready signal ignored, probe has no location")
	case e.probe.Location == nil:
		e.readyRequested = true
		log.Debug().Msg("Ready signal buffered until location resolves")
	default:
		e.probe.Status = models.ProbeReady
		log.Info().Msg("Probe ready")
		r.publish()
	}
}

func (r *Registry) handleResolvers(id string, resolvers []string) {
	e, ok := r.probes[id]
	if !ok {
		return
	}
	e.probe.Resolvers = resolvers
	if e.probe.Status == models.ProbeReady {
		r.publish()
	}
}

func (r *Registry) handleDisconnect(id string) {
	e, ok := r.probes[id]
	if !ok {
		return
	}
	e.cancelLookup()
	e.probe.Status = models.ProbeDisconnected
	delete(r.probes, id)

	r.logger.WithProbe(id).Info().Msg("Probe disconnected")
	r.publish()
}

// shutdown drops every probe and cancels pending lookups
func (r *Registry) shutdown() {
	for id, e := range r.probes {
		e.cancelLookup()
		delete(r.probes, id)
	}
	r.publish()
}

// publish rebuilds the ready-probe snapshot
func (r *Registry) publish() {
	ready := make([]*entry, 0, len(r.probes))
	for _, e := range r.probes {
		if e.probe.Status == models.ProbeReady {
			ready = append(ready, e)
		}
	}
	// connection order, so listings are stable between calls
	sort.Slice(ready, func(i, j int) bool { return ready[i].seq < ready[j].seq })

	snapshot := make([]models.PublicProbe, len(ready))
	for i, e := range ready {
		snapshot[i] = e.probe.Public()
	}

	r.snapshot.Store(&snapshot)
	r.tracked.Store(int64(len(r.probes)))

	if r.metrics != nil {
		r.metrics.ProbesConnected.Set(float64(len(r.probes)))
		r.metrics.ProbesReady.Set(float64(len(snapshot)))
	}
}

// failureReason maps a lookup error to its metrics label
func failureReason(err error) string {
	switch {
	case errors.Is(err, geoip.ErrAnonymizerDetected):
		return "anonymizer"
	case errors.Is(err, geoip.ErrAmbiguousMatch):
		return "ambiguous"
	case errors.Is(err, geoip.ErrUnresolvable):
		return "unresolvable"
	case errors.Is(err, geoip.ErrInvalidIP):
		return "invalid_ip"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "error"
	}
}
