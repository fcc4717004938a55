package loamgc

import (
	"github.com/loamlang/loamgc/ir"
	"github.com/loamlang/loamgc/lower"
)

// Version is the version of the loamgc module.
const Version = "0.2.0"

// LowerModule rewrites every collector marker in mod under pol.
// numbering supplies each function's root placement oracle by name;
// functions absent from it lower with no numbered roots. The returned
// stats count the rewrites performed, including those of functions
// lowered before an error aborted the pass.
func LowerModule(mod *ir.Module, pol lower.Policy, numbering map[string]lower.RootNumbering) (lower.Stats, error) {
	p, err := lower.New(mod, pol)
	if err != nil {
		return lower.Stats{}, err
	}
	if err := p.LowerModule(numbering); err != nil {
		return p.Stats, err
	}
	return p.Stats, nil
}
