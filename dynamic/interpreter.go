package dynamic

import (
	"fmt"

	"github.com/GoCodeAlone/yaegi/interp"
	"github.com/GoCodeAlone/yaegi/stdlib"
)

// PackageName is the package clause every plugin script declares.
const PackageName = "script"

// newInterpreter creates an interpreter with the standard library symbols
// loaded. Imports are restricted before evaluation by validateSource, not by
// the interpreter.
func newInterpreter(goPath string) (*interp.Interpreter, error) {
	opts := interp.Options{}
	if goPath != "" {
		opts.GoPath = goPath
	}
	i := interp.New(opts)
	if err := i.Use(stdlib.Symbols); err != nil {
		return nil, fmt.Errorf("failed to load stdlib symbols: %w", err)
	}
	return i, nil
}

// lookup evaluates a qualified script symbol, returning false when the
// script does not define it.
func lookup(i *interp.Interpreter, symbol string) (any, bool) {
	v, err := i.Eval(PackageName + "." + symbol)
	if err != nil || !v.IsValid() {
		return nil, false
	}
	return v.Interface(), true
}
