package txn

import "github.com/teranos/subman/plan"

// FileReport says whether one project file changed
type FileReport struct {
	Path     string      `json:"path" yaml:"path"`
	Target   plan.Target `json:"-" yaml:"-"`
	Kind     string      `json:"target" yaml:"target"`
	Modified bool        `json:"modified" yaml:"modified"`
}

// PalletReport is what a committed plan did to one pallet
type PalletReport struct {
	Pallet  string `json:"pallet" yaml:"pallet"`
	Op      string `json:"op" yaml:"op"`
	Outcome string `json:"outcome,omitempty" yaml:"outcome,omitempty"`

	// Index is the construct_runtime! index in effect, -1 when not listed
	Index int `json:"index" yaml:"index"`

	// StubLine is the 1-based line of `impl <module>::Config for Runtime`, 0 when absent
	StubLine int `json:"stub_line,omitempty" yaml:"stub_line,omitempty"`
}

// CommitReport describes a committed transaction
type CommitReport struct {
	TxID    string         `json:"tx_id" yaml:"tx_id"`
	Files   []FileReport   `json:"files" yaml:"files"`
	Pallets []PalletReport `json:"pallets" yaml:"pallets"`
}

// Modified reports whether any file changed
func (r *CommitReport) Modified() bool {
	for _, f := range r.Files {
		if f.Modified {
			return true
		}
	}
	return false
}

// File returns the report of target
func (r *CommitReport) File(target plan.Target) (FileReport, bool) {
	for _, f := range r.Files {
		if f.Target == target {
			return f, true
		}
	}
	return FileReport{}, false
}

// Pallet returns the report of name
func (r *CommitReport) Pallet(name string) (PalletReport, bool) {
	for _, p := range r.Pallets {
		if p.Pallet == name {
			return p, true
		}
	}
	return PalletReport{}, false
}
