package cli

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/retrace/internal/callid"
	"github.com/roach88/retrace/internal/engine"
)

// CallSite describes one wrapped call site of the traced program.
type CallSite struct {
	Label string `yaml:"label" json:"label"`
	Void  bool   `yaml:"void" json:"void"`
}

// Manifest lists the call sites a trace may contain. A trace alone does not
// say which records carry a result, so inspection needs one.
//
// Example:
//
//	calls:
//	  - label: rand.Intn
//	  - label: cache.Invalidate
//	    void: true
//
// The Mutex labels are always included as void call sites.
type Manifest struct {
	Calls []CallSite `yaml:"calls"`

	byID map[callid.CallID]CallSite
}

// LoadManifest reads and indexes the manifest at path.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load manifest: %w", err)
	}
	return ParseManifest(data)
}

// ParseManifest parses and indexes a YAML manifest. Two distinct labels that
// hash to the same call id make the manifest ambiguous and are rejected.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}

	builtin := []CallSite{
		{Label: engine.MutexLockLabel, Void: true},
		{Label: engine.MutexUnlockLabel, Void: true},
	}

	reg := callid.NewRegistry()
	m.byID = make(map[callid.CallID]CallSite, len(m.Calls)+len(builtin))
	for i, site := range append(m.Calls, builtin...) {
		if site.Label == "" {
			return nil, fmt.Errorf("parse manifest: call %d has no label", i)
		}
		id, err := reg.Hash(site.Label)
		if err != nil {
			return nil, fmt.Errorf("parse manifest: %w", err)
		}
		if prev, ok := m.byID[id]; ok && prev.Void != site.Void {
			return nil, fmt.Errorf("parse manifest: %q listed as both void and non-void", site.Label)
		}
		m.byID[id] = site
	}
	return &m, nil
}

// Lookup returns the call site for id.
func (m *Manifest) Lookup(id callid.CallID) (CallSite, bool) {
	site, ok := m.byID[id]
	return site, ok
}
