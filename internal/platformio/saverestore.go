package platformio

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/geopm/geopmd/internal/geopmerr"
	"github.com/geopm/geopmd/internal/topo"
)

// savedSetting is one entry in a save_control file: a writable control's
// raw value at every domain index, tagged with the backend that owns it
// so restore_control can route it back without re-resolving the name
// through federation precedence (a backend might have been unregistered
// between save and restore).
type savedSetting struct {
	Backend   string  `json:"backend"`
	Name      string  `json:"name"`
	Domain    int     `json:"domain"`
	DomainIdx int     `json:"domain_idx"`
	Setting   float64 `json:"setting"`
}

type saveFile struct {
	Settings []savedSetting `json:"settings"`
}

// SaveControl snapshots every writable control across every registered
// backend to path as a structured JSON list of (backend, name, domain,
// idx, raw).
func (p *PlatformIO) SaveControl(path string) error {
	var file saveFile
	for _, g := range p.backends {
		for _, name := range g.ControlNames() {
			info, err := g.ControlInfo(name)
			if err != nil || !info.IsWritable() {
				continue
			}
			n := p.topo.NumDomain(info.Domain)
			for idx := 0; idx < n; idx++ {
				v, err := g.ReadSignal(name, info.Domain, idx)
				if err != nil {
					continue
				}
				file.Settings = append(file.Settings, savedSetting{
					Backend: g.Name(), Name: name, Domain: int(info.Domain), DomainIdx: idx, Setting: v,
				})
			}
		}
	}
	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return geopmerr.Wrap(geopmerr.Io, "save_control", path, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return geopmerr.Wrap(geopmerr.Io, "save_control", path, err)
	}
	return nil
}

// RestoreControl replays every entry in path's save file back through
// WriteControl. An entry whose backend tag is no longer registered is
// skipped with a warning written to warn; an entry whose name is not
// known to that backend is a MalformedConfig error.
func (p *PlatformIO) RestoreControl(path string, warn func(string)) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return geopmerr.Wrap(geopmerr.Io, "restore_control", path, err)
	}
	var file saveFile
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&file); err != nil {
		return geopmerr.Wrap(geopmerr.MalformedConfig, "restore_control", path, err)
	}

	byName := make(map[string]int, len(p.backends))
	for i, g := range p.backends {
		byName[g.Name()] = i
	}

	for _, s := range file.Settings {
		idx, ok := byName[s.Backend]
		if !ok {
			if warn != nil {
				warn(fmt.Sprintf("restore_control: backend %q not registered, skipping %q", s.Backend, s.Name))
			}
			continue
		}
		g := p.backends[idx]
		if !g.IsValidControl(s.Name) {
			return geopmerr.New(geopmerr.UnknownName, "restore_control", s.Name)
		}
		if err := g.WriteControl(s.Name, topo.Domain(s.Domain), s.DomainIdx, s.Setting); err != nil {
			return err
		}
	}
	return nil
}
