// Package diag contains the independent failure-mode detectors.
//
// Modules are pure: they consume a frozen Evidence record, do no I/O, and
// emit at most one Finding each. Registration is static and execution order
// is deterministic (sorted by module id), so identical evidence always
// produces the identical finding list.
package diag

import (
	"sort"

	"github.com/codeready-toolchain/tarka/pkg/models"
)

// Module is one failure-mode detector.
type Module interface {
	// ID is the stable module identifier, unique across the registry.
	ID() string

	// Applies reports whether the module has enough evidence to judge.
	Applies(ev *models.Evidence) bool

	// Run inspects the evidence and returns a finding, or nil when the
	// failure mode is not present.
	Run(ev *models.Evidence) *models.Finding
}

// registry is the static module set, sorted by id at init.
var registry = func() []Module {
	mods := []Module{}
	mods = append(mods, kubeModules...)
	mods = append(mods, metricsModules...)
	mods = append(mods, logModules...)
	mods = append(mods, awsModules...)
	sort.Slice(mods, func(i, j int) bool { return mods[i].ID() < mods[j].ID() })
	return mods
}()

// Registry returns the registered modules in deterministic order.
func Registry() []Module {
	return registry
}

// RunAll executes every applicable module and collects findings in registry
// order.
func RunAll(ev *models.Evidence) []models.Finding {
	var findings []models.Finding
	for _, m := range registry {
		if !m.Applies(ev) {
			continue
		}
		if f := m.Run(ev); f != nil {
			f.ModuleID = m.ID()
			findings = append(findings, *f)
		}
	}
	return findings
}

// module is the common implementation shape: an id, an applicability check,
// and a detection function.
type module struct {
	id      string
	applies func(ev *models.Evidence) bool
	run     func(ev *models.Evidence) *models.Finding
}

func (m module) ID() string                                { return m.id }
func (m module) Applies(ev *models.Evidence) bool          { return m.applies(ev) }
func (m module) Run(ev *models.Evidence) *models.Finding   { return m.run(ev) }

func kubeOK(ev *models.Evidence) bool    { return ev.Kube.OK() }
func metricsOK(ev *models.Evidence) bool { return ev.Metrics.OK() }
func logsOK(ev *models.Evidence) bool    { return ev.Logs.OK() }
func awsOK(ev *models.Evidence) bool     { return ev.AWS != nil && ev.AWS.OK() }
