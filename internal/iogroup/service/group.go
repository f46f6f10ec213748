package service

import (
	"math"
	"sort"
	"time"

	"github.com/geopm/geopmd/internal/geopmerr"
	"github.com/geopm/geopmd/internal/iogroup"
	"github.com/geopm/geopmd/internal/topo"
)

// Option configures a Group at construction time.
type Option func(*config)

type config struct {
	timeout time.Duration
}

// WithTimeout bounds every batch-channel read/write; control-channel calls
// are bounded by the timeout given to DialUnix. spec.md §5: "The service
// backend may be configured with a per-call timeout; on timeout the
// corresponding batch operation fails and is reported to the caller."
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// Group is the SERVICE backend: a proxy over Transport presenting the
// privileged peer's entire signal/control namespace.
type Group struct {
	transport Transport
	timeout   time.Duration
	batch     batchChannel
	batchKey  string

	sigTable  iogroup.PushTable
	ctrlTable iogroup.PushTable

	signalInfoCache  map[string]iogroup.SignalInfo
	controlInfoCache map[string]iogroup.ControlInfo

	pushedSignals  []pushTriple
	pushedControls []pushTriple

	sampleValues   []float64
	adjustedValues []float64
}

// New wraps transport, an already-connected control-channel Transport to
// the privileged peer (see DialUnix).
func New(transport Transport, opts ...Option) (*Group, error) {
	var cfg config
	for _, opt := range opts {
		opt(&cfg)
	}
	g := &Group{
		transport:        transport,
		timeout:          cfg.timeout,
		signalInfoCache:  make(map[string]iogroup.SignalInfo),
		controlInfoCache: make(map[string]iogroup.ControlInfo),
	}
	var userAccess userAccessResult
	if err := g.transport.Call("get_user_access", struct{}{}, &userAccess); err != nil {
		return nil, err
	}
	for _, name := range userAccess.Signals {
		g.signalInfoCache[name] = iogroup.SignalInfo{} // presence marker; fetched lazily below
	}
	for _, name := range userAccess.Controls {
		g.controlInfoCache[name] = iogroup.ControlInfo{}
	}
	return g, nil
}

func (g *Group) Name() string { return "SERVICE" }

func (g *Group) SignalNames() []string {
	names := make([]string, 0, len(g.signalInfoCache))
	for name := range g.signalInfoCache {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (g *Group) ControlNames() []string {
	names := make([]string, 0, len(g.controlInfoCache))
	for name := range g.controlInfoCache {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (g *Group) IsValidSignal(name string) bool {
	_, ok := g.signalInfoCache[name]
	return ok
}

func (g *Group) IsValidControl(name string) bool {
	_, ok := g.controlInfoCache[name]
	return ok
}

func (g *Group) SignalInfo(name string) (iogroup.SignalInfo, error) {
	if _, ok := g.signalInfoCache[name]; !ok {
		return iogroup.SignalInfo{}, geopmerr.New(geopmerr.UnknownName, "service.signal_info", name)
	}
	var result signalInfoResult
	if err := g.transport.Call("get_signal_info", signalInfoParams{Name: name}, &result); err != nil {
		return iogroup.SignalInfo{}, err
	}
	info := iogroup.SignalInfo{
		Name: name, Domain: topo.Domain(result.Domain), Units: iogroup.Units(result.Units),
		Aggregation: iogroup.Aggregation(result.Aggregation), Format: iogroup.FormatDouble,
		Behavior: iogroup.Behavior(result.Behavior), Description: result.Description,
	}
	g.signalInfoCache[name] = info
	return info, nil
}

func (g *Group) ControlInfo(name string) (iogroup.ControlInfo, error) {
	if _, ok := g.controlInfoCache[name]; !ok {
		return iogroup.ControlInfo{}, geopmerr.New(geopmerr.UnknownName, "service.control_info", name)
	}
	var result controlInfoResult
	if err := g.transport.Call("get_control_info", controlInfoParams{Name: name}, &result); err != nil {
		return iogroup.ControlInfo{}, err
	}
	writable := result.Writable
	info := iogroup.ControlInfo{
		Name: name, Domain: topo.Domain(result.Domain), Units: iogroup.Units(result.Units),
		Format: iogroup.FormatDouble, Behavior: iogroup.Behavior(result.Behavior),
		Description: result.Description, Writable: func() bool { return writable },
	}
	g.controlInfoCache[name] = info
	return info, nil
}

func (g *Group) PushSignal(name string, domain topo.Domain, idx int) (iogroup.Handle, error) {
	if _, ok := g.signalInfoCache[name]; !ok {
		return 0, geopmerr.New(geopmerr.UnknownName, "service.push_signal", name)
	}
	h, err := g.sigTable.Push("service.push_signal", name, int(domain), idx)
	if err != nil {
		return 0, err
	}
	if int(h) == len(g.pushedSignals) {
		g.pushedSignals = append(g.pushedSignals, pushTriple{Name: name, Domain: int(domain), Idx: idx})
		g.sampleValues = append(g.sampleValues, math.NaN())
	}
	return h, nil
}

func (g *Group) PushControl(name string, domain topo.Domain, idx int) (iogroup.Handle, error) {
	if _, ok := g.controlInfoCache[name]; !ok {
		return 0, geopmerr.New(geopmerr.UnknownName, "service.push_control", name)
	}
	h, err := g.ctrlTable.Push("service.push_control", name, int(domain), idx)
	if err != nil {
		return 0, err
	}
	if int(h) == len(g.pushedControls) {
		g.pushedControls = append(g.pushedControls, pushTriple{Name: name, Domain: int(domain), Idx: idx})
		g.adjustedValues = append(g.adjustedValues, math.NaN())
	}
	return h, nil
}

// ensureBatchStarted issues start_batch exactly once, on the first
// ReadBatch or WriteBatch, registering every pushed signal/control with
// the peer and opening the companion batch channel it returns.
func (g *Group) ensureBatchStarted() error {
	if g.batch != nil {
		return nil
	}
	var result startBatchResult
	params := startBatchParams{Signals: g.pushedSignals, Controls: g.pushedControls}
	if err := g.transport.Call("start_batch", params, &result); err != nil {
		return err
	}
	batch, err := dialBatchChannel(result.BatchEndpoint, g.timeout)
	if err != nil {
		return err
	}
	g.batch = batch
	g.batchKey = result.BatchKey
	return nil
}

func (g *Group) ReadBatch() error {
	g.sigTable.Start()
	g.ctrlTable.Start()
	if err := g.ensureBatchStarted(); err != nil {
		return err
	}
	if len(g.pushedSignals) == 0 {
		return nil
	}
	values, err := g.batch.ReadVector(len(g.pushedSignals))
	if err != nil {
		return err
	}
	copy(g.sampleValues, values)
	return nil
}

func (g *Group) Sample(h iogroup.Handle) (float64, error) {
	if err := g.sigTable.CheckReady("service.sample", h); err != nil {
		return 0, err
	}
	if int(h) < 0 || int(h) >= len(g.sampleValues) {
		return 0, geopmerr.New(geopmerr.Logic, "service.sample", "")
	}
	return g.sampleValues[h], nil
}

func (g *Group) Adjust(h iogroup.Handle, value float64) error {
	if int(h) < 0 || int(h) >= len(g.adjustedValues) {
		return geopmerr.New(geopmerr.Logic, "service.adjust", "")
	}
	g.adjustedValues[h] = value
	return nil
}

// WriteBatch fails with geopmerr.UnsetControl if any pushed control has
// never been adjusted, since the batch channel's write vector has no
// per-slot "unchanged" sentinel: every control in the batch must carry a
// real value on every write.
func (g *Group) WriteBatch() error {
	g.sigTable.Start()
	g.ctrlTable.Start()
	if err := g.ensureBatchStarted(); err != nil {
		return err
	}
	if len(g.pushedControls) == 0 {
		return nil
	}
	for _, v := range g.adjustedValues {
		if math.IsNaN(v) {
			return geopmerr.New(geopmerr.UnsetControl, "service.write_batch", "")
		}
	}
	return g.batch.WriteVector(g.adjustedValues)
}

func (g *Group) ReadSignal(name string, domain topo.Domain, idx int) (float64, error) {
	if _, ok := g.signalInfoCache[name]; !ok {
		return 0, geopmerr.New(geopmerr.UnknownName, "service.read_signal", name)
	}
	var value float64
	params := readSignalParams{Name: name, Domain: int(domain), Idx: idx}
	if err := g.transport.Call("read_signal", params, &value); err != nil {
		return 0, err
	}
	return value, nil
}

func (g *Group) WriteControl(name string, domain topo.Domain, idx int, value float64) error {
	if _, ok := g.controlInfoCache[name]; !ok {
		return geopmerr.New(geopmerr.UnknownName, "service.write_control", name)
	}
	params := writeControlParams{Name: name, Domain: int(domain), Idx: idx, Value: value}
	return g.transport.Call("write_control", params, nil)
}

func (g *Group) SaveControl(path string) error {
	return geopmerr.New(geopmerr.Unsupported, "service.save_control", path)
}

// RestoreControl forwards to the peer's own restore_control request:
// unlike MSR/sysfs, the service backend has no local register/file state
// to snapshot, only the peer does.
func (g *Group) RestoreControl(path string) error {
	params := restoreControlParams{Path: path}
	return g.transport.Call("restore_control", params, nil)
}

// Close stops the active batch (if any) via stop_batch and releases both
// channels.
func (g *Group) Close() error {
	var err error
	if g.batch != nil {
		if serr := g.transport.Call("stop_batch", stopBatchParams{BatchKey: g.batchKey}, nil); serr != nil && err == nil {
			err = serr
		}
		if berr := g.batch.Close(); berr != nil && err == nil {
			err = berr
		}
	}
	if cerr := g.transport.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}
