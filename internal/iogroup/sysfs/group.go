package sysfs

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/geopm/geopmd/internal/geopmerr"
	"github.com/geopm/geopmd/internal/iogroup"
	"github.com/geopm/geopmd/internal/ioqueue"
	"github.com/geopm/geopmd/internal/topo"
)

// readBufSize bounds a single sysfs attribute read; every attribute this
// backend knows about is a short numeric line, never close to this size.
const readBufSize = 256

// Option configures a Group at construction time.
type Option func(*config)

type config struct {
	root          string
	queueCapacity int
	extraAttrs    []Attribute
}

// WithRoot overrides the sysfs mount point attribute paths are resolved
// under; production use is "/sys". Tests point this at a temp directory.
func WithRoot(root string) Option {
	return func(c *config) { c.root = root }
}

// WithQueueCapacity overrides the internal ioqueue.Queue capacity.
func WithQueueCapacity(n int) Option {
	return func(c *config) { c.queueCapacity = n }
}

// WithExtraAttributes augments the built-in attribute table. An attribute
// sharing a name with a built-in one replaces it outright.
func WithExtraAttributes(attrs []Attribute) Option {
	return func(c *config) { c.extraAttrs = append(c.extraAttrs, attrs...) }
}

type entryKey struct {
	name   string
	domain topo.Domain
	idx    int
}

type entry struct {
	attr  Attribute
	path  string
	value float64
}

// Group is the sysfs backend: an iogroup.IOGroup implementation over small
// text attribute files, batched through internal/ioqueue.
type Group struct {
	topo  *topo.Topology
	root  string
	attrs map[string]Attribute

	devices map[string]*os.File // path -> open file
	queue   ioqueue.Queue

	sigTable  iogroup.PushTable
	ctrlTable iogroup.PushTable

	entries      []entry
	entryLookup  map[entryKey]int
	signals      map[iogroup.Handle]int
	controls     map[iogroup.Handle]int
	adjusted     map[iogroup.Handle]float64
}

// New opens one file per (attribute, domain index) pair up front and
// returns a ready Group seeded with the built-in attribute table plus any
// extras supplied via WithExtraAttributes.
func New(t *topo.Topology, opts ...Option) (*Group, error) {
	cfg := config{root: "/sys", queueCapacity: 64}
	for _, opt := range opts {
		opt(&cfg)
	}

	g := &Group{
		topo:        t,
		root:        cfg.root,
		attrs:       make(map[string]Attribute),
		devices:     make(map[string]*os.File),
		entryLookup: make(map[entryKey]int),
		signals:     make(map[iogroup.Handle]int),
		controls:    make(map[iogroup.Handle]int),
		adjusted:    make(map[iogroup.Handle]float64),
	}
	for _, a := range builtinAttributes() {
		g.attrs[a.Name] = a
	}
	for _, a := range cfg.extraAttrs {
		g.attrs[a.Name] = a
	}

	for _, attr := range g.attrs {
		n := g.topo.NumDomain(attr.Domain)
		if !strings.Contains(attr.PathTemplate, "%d") {
			n = 1
		}
		for idx := 0; idx < n; idx++ {
			path := g.resolvePath(attr, idx)
			if _, ok := g.devices[path]; ok {
				continue
			}
			flags := os.O_RDONLY
			if attr.Writable {
				flags = os.O_RDWR
			}
			f, err := os.OpenFile(path, flags, 0)
			if err != nil {
				g.closeDevices()
				return nil, geopmerr.Wrap(geopmerr.Io, "sysfs.new", path, err)
			}
			g.devices[path] = f
		}
	}

	queue, err := ioqueue.Open(cfg.queueCapacity)
	if err != nil {
		g.closeDevices()
		return nil, geopmerr.Wrap(geopmerr.Io, "sysfs.new", "ioqueue.Open", err)
	}
	g.queue = queue
	return g, nil
}

func (g *Group) closeDevices() {
	for _, f := range g.devices {
		f.Close()
	}
}

// Close releases every open attribute file and the ioqueue.
func (g *Group) Close() error {
	if g.queue != nil {
		g.queue.Close()
	}
	g.closeDevices()
	return nil
}

func (g *Group) Name() string { return "SYSFS" }

func (g *Group) resolvePath(attr Attribute, idx int) string {
	if strings.Contains(attr.PathTemplate, "%d") {
		return filepath.Join(g.root, fmt.Sprintf(attr.PathTemplate, idx))
	}
	return filepath.Join(g.root, attr.PathTemplate)
}

func (g *Group) SignalNames() []string {
	names := make([]string, 0, len(g.attrs))
	for name := range g.attrs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (g *Group) ControlNames() []string {
	var names []string
	for name, a := range g.attrs {
		if a.Writable {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

func (g *Group) IsValidSignal(name string) bool {
	_, ok := g.attrs[name]
	return ok
}

func (g *Group) IsValidControl(name string) bool {
	a, ok := g.attrs[name]
	return ok && a.Writable
}

func (g *Group) SignalInfo(name string) (iogroup.SignalInfo, error) {
	a, ok := g.attrs[name]
	if !ok {
		return iogroup.SignalInfo{}, geopmerr.New(geopmerr.UnknownName, "sysfs.signal_info", name)
	}
	return iogroup.SignalInfo{
		Name: name, Domain: a.Domain, Units: a.Units, Aggregation: a.Aggregation,
		Format: iogroup.FormatDouble, Behavior: a.Behavior, Description: a.Description,
	}, nil
}

func (g *Group) ControlInfo(name string) (iogroup.ControlInfo, error) {
	a, ok := g.attrs[name]
	if !ok || !a.Writable {
		return iogroup.ControlInfo{}, geopmerr.New(geopmerr.UnknownName, "sysfs.control_info", name)
	}
	return iogroup.ControlInfo{
		Name: name, Domain: a.Domain, Units: a.Units, Format: iogroup.FormatDouble,
		Behavior: a.Behavior, Description: a.Description,
	}, nil
}

func (g *Group) validateDomainIdx(a Attribute, domain topo.Domain, idx int) error {
	if a.Domain != domain {
		return geopmerr.New(geopmerr.DomainMismatch, "sysfs.push", a.Name)
	}
	n := g.topo.NumDomain(domain)
	if !strings.Contains(a.PathTemplate, "%d") {
		n = 1
	}
	if idx < 0 || idx >= n {
		return geopmerr.New(geopmerr.DomainIndexOutOfRange, "sysfs.push", a.Name)
	}
	return nil
}

func (g *Group) ensureEntry(name string, domain topo.Domain, idx int) (int, error) {
	key := entryKey{name: name, domain: domain, idx: idx}
	if i, ok := g.entryLookup[key]; ok {
		return i, nil
	}
	a, ok := g.attrs[name]
	if !ok {
		return 0, geopmerr.New(geopmerr.UnknownName, "sysfs.ensure_entry", name)
	}
	path := g.resolvePath(a, idx)
	e := entry{attr: a, path: path}
	i := len(g.entries)
	g.entries = append(g.entries, e)
	g.entryLookup[key] = i
	return i, nil
}

func (g *Group) PushSignal(name string, domain topo.Domain, idx int) (iogroup.Handle, error) {
	a, ok := g.attrs[name]
	if !ok {
		return 0, geopmerr.New(geopmerr.UnknownName, "sysfs.push_signal", name)
	}
	if err := g.validateDomainIdx(a, domain, idx); err != nil {
		return 0, err
	}
	h, err := g.sigTable.Push("sysfs.push_signal", name, int(domain), idx)
	if err != nil {
		return 0, err
	}
	if _, ok := g.signals[h]; ok {
		return h, nil
	}
	entryIdx, err := g.ensureEntry(name, domain, idx)
	if err != nil {
		return 0, err
	}
	g.signals[h] = entryIdx
	return h, nil
}

func (g *Group) PushControl(name string, domain topo.Domain, idx int) (iogroup.Handle, error) {
	a, ok := g.attrs[name]
	if !ok {
		return 0, geopmerr.New(geopmerr.UnknownName, "sysfs.push_control", name)
	}
	if !a.Writable {
		return 0, geopmerr.New(geopmerr.NotWritable, "sysfs.push_control", name)
	}
	if err := g.validateDomainIdx(a, domain, idx); err != nil {
		return 0, err
	}
	h, err := g.ctrlTable.Push("sysfs.push_control", name, int(domain), idx)
	if err != nil {
		return 0, err
	}
	if _, ok := g.controls[h]; ok {
		return h, nil
	}
	entryIdx, err := g.ensureEntry(name, domain, idx)
	if err != nil {
		return 0, err
	}
	g.controls[h] = entryIdx
	return h, nil
}

// ReadBatch issues one pread per distinct attribute file path across every
// ensureEntry-allocated entry, then parses each entry's value out of its
// file's buffer.
func (g *Group) ReadBatch() error {
	g.sigTable.Start()
	g.ctrlTable.Start()

	type pending struct {
		buf []byte
		ret int
	}
	byPath := make(map[string]*pending)
	for _, e := range g.entries {
		if _, ok := byPath[e.path]; ok {
			continue
		}
		f, ok := g.devices[e.path]
		if !ok {
			return geopmerr.New(geopmerr.Io, "sysfs.read_batch", e.path)
		}
		p := &pending{buf: make([]byte, readBufSize)}
		if err := g.queue.PrepRead(&p.ret, int(f.Fd()), p.buf, 0); err != nil {
			return err
		}
		byPath[e.path] = p
	}
	if err := g.queue.Submit(); err != nil {
		return geopmerr.Wrap(geopmerr.Io, "sysfs.read_batch", "submit", err)
	}
	for path, p := range byPath {
		if p.ret < 0 {
			return geopmerr.New(geopmerr.Io, "sysfs.read_batch", path)
		}
	}

	for i := range g.entries {
		e := &g.entries[i]
		p := byPath[e.path]
		text := string(p.buf[:p.ret])
		parse := e.attr.Parse
		if parse == nil {
			parse = ParseFloat
		}
		value, err := parse(text)
		if err != nil {
			return geopmerr.Wrap(geopmerr.MalformedConfig, "sysfs.read_batch", e.path, err)
		}
		e.value = value
	}
	return nil
}

func (g *Group) Sample(h iogroup.Handle) (float64, error) {
	if err := g.sigTable.CheckReady("sysfs.sample", h); err != nil {
		return 0, err
	}
	entryIdx, ok := g.signals[h]
	if !ok {
		return 0, geopmerr.New(geopmerr.Logic, "sysfs.sample", fmt.Sprintf("handle=%d", h))
	}
	return g.entries[entryIdx].value, nil
}

func (g *Group) Adjust(h iogroup.Handle, value float64) error {
	if _, ok := g.controls[h]; !ok {
		return geopmerr.New(geopmerr.Logic, "sysfs.adjust", fmt.Sprintf("handle=%d", h))
	}
	g.adjusted[h] = value
	return nil
}

// WriteBatch commits every staged Adjust as one batch: each control's
// Generate function renders its string once, then every write is prepped
// before a single Submit.
func (g *Group) WriteBatch() error {
	g.sigTable.Start()
	g.ctrlTable.Start()

	if len(g.adjusted) == 0 {
		return nil
	}

	type pending struct {
		ret int
	}
	rets := make(map[iogroup.Handle]*pending, len(g.adjusted))
	for h, value := range g.adjusted {
		entryIdx := g.controls[h]
		e := g.entries[entryIdx]
		generate := e.attr.Generate
		if generate == nil {
			generate = GenerateFloat
		}
		buf := []byte(generate(value))
		f, ok := g.devices[e.path]
		if !ok {
			return geopmerr.New(geopmerr.Io, "sysfs.write_batch", e.path)
		}
		p := &pending{}
		if err := g.queue.PrepWrite(&p.ret, int(f.Fd()), buf, 0); err != nil {
			return err
		}
		rets[h] = p
	}
	if err := g.queue.Submit(); err != nil {
		return geopmerr.Wrap(geopmerr.Io, "sysfs.write_batch", "submit", err)
	}
	for h, p := range rets {
		if p.ret < 0 {
			entryIdx := g.controls[h]
			return geopmerr.New(geopmerr.Io, "sysfs.write_batch", g.entries[entryIdx].path)
		}
	}

	g.adjusted = make(map[iogroup.Handle]float64)
	return nil
}

// ReadSignal reads name at (domain, idx) with a single pread, bypassing
// every batch data structure.
func (g *Group) ReadSignal(name string, domain topo.Domain, idx int) (float64, error) {
	a, ok := g.attrs[name]
	if !ok {
		return 0, geopmerr.New(geopmerr.UnknownName, "sysfs.read_signal", name)
	}
	if err := g.validateDomainIdx(a, domain, idx); err != nil {
		return 0, err
	}
	path := g.resolvePath(a, idx)
	text, err := g.preadText(path)
	if err != nil {
		return 0, err
	}
	parse := a.Parse
	if parse == nil {
		parse = ParseFloat
	}
	return parse(text)
}

func (g *Group) WriteControl(name string, domain topo.Domain, idx int, value float64) error {
	a, ok := g.attrs[name]
	if !ok {
		return geopmerr.New(geopmerr.UnknownName, "sysfs.write_control", name)
	}
	if !a.Writable {
		return geopmerr.New(geopmerr.NotWritable, "sysfs.write_control", name)
	}
	if err := g.validateDomainIdx(a, domain, idx); err != nil {
		return err
	}
	path := g.resolvePath(a, idx)
	generate := a.Generate
	if generate == nil {
		generate = GenerateFloat
	}
	return g.pwriteText(path, generate(value))
}

func (g *Group) preadText(path string) (string, error) {
	f, ok := g.devices[path]
	if !ok {
		return "", geopmerr.New(geopmerr.Io, "sysfs.pread", path)
	}
	buf := make([]byte, readBufSize)
	n, err := unix.Pread(int(f.Fd()), buf, 0)
	if err != nil {
		return "", geopmerr.Wrap(geopmerr.Io, "sysfs.pread", path, err)
	}
	return string(buf[:n]), nil
}

func (g *Group) pwriteText(path, text string) error {
	f, ok := g.devices[path]
	if !ok {
		return geopmerr.New(geopmerr.Io, "sysfs.pwrite", path)
	}
	if _, err := unix.Pwrite(int(f.Fd()), []byte(text), 0); err != nil {
		return geopmerr.Wrap(geopmerr.Io, "sysfs.pwrite", path, err)
	}
	return nil
}

type savedControl struct {
	Name      string `json:"name"`
	Domain    int    `json:"domain"`
	DomainIdx int    `json:"domain_idx"`
	RawText   string `json:"raw_text"`
}

type savedControlFile struct {
	Controls []savedControl `json:"controls"`
}

// SaveControl snapshots the exact raw text of every writable control's
// file at every domain index to path, for RestoreControl to replay
// verbatim.
func (g *Group) SaveControl(path string) error {
	var out savedControlFile
	for _, name := range g.ControlNames() {
		a := g.attrs[name]
		n := g.topo.NumDomain(a.Domain)
		if !strings.Contains(a.PathTemplate, "%d") {
			n = 1
		}
		for idx := 0; idx < n; idx++ {
			filePath := g.resolvePath(a, idx)
			text, err := g.preadText(filePath)
			if err != nil {
				return err
			}
			out.Controls = append(out.Controls, savedControl{
				Name: name, Domain: int(a.Domain), DomainIdx: idx, RawText: text,
			})
		}
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return geopmerr.Wrap(geopmerr.Logic, "sysfs.save_control", path, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return geopmerr.Wrap(geopmerr.Io, "sysfs.save_control", path, err)
	}
	return nil
}

// RestoreControl replays the raw text saved by SaveControl back into its
// owning file verbatim.
func (g *Group) RestoreControl(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return geopmerr.Wrap(geopmerr.Io, "sysfs.restore_control", path, err)
	}
	var in savedControlFile
	if err := json.Unmarshal(data, &in); err != nil {
		return geopmerr.Wrap(geopmerr.MalformedConfig, "sysfs.restore_control", path, err)
	}
	for _, saved := range in.Controls {
		a, ok := g.attrs[saved.Name]
		if !ok {
			continue
		}
		filePath := g.resolvePath(a, saved.DomainIdx)
		if err := g.pwriteText(filePath, saved.RawText); err != nil {
			return err
		}
	}
	return nil
}
