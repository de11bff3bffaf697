package dynamic

import (
	"fmt"
	"go/parser"
	"go/token"
	"strings"
)

// AllowedPackages are the standard library packages a plugin script may
// import. Scripts only shape data and markup, so nothing that reaches the
// file system, the network or the process is listed.
var AllowedPackages = map[string]bool{
	"fmt":             true,
	"strings":         true,
	"strconv":         true,
	"bytes":           true,
	"errors":          true,
	"sort":            true,
	"slices":          true,
	"maps":            true,
	"math":            true,
	"time":            true,
	"unicode":         true,
	"unicode/utf8":    true,
	"regexp":          true,
	"path":            true,
	"net/url":         true,
	"html":            true,
	"html/template":   true,
	"text/template":   true,
	"encoding/json":   true,
	"encoding/base64": true,
}

// BlockedPackages are never allowed, even when added to a custom allow list.
var BlockedPackages = map[string]bool{
	"os":            true,
	"os/exec":       true,
	"syscall":       true,
	"unsafe":        true,
	"plugin":        true,
	"reflect":       true,
	"runtime/debug": true,
	"net":           true,
	"net/http":      true,
	"io/ioutil":     true,
}

// IsPackageAllowed reports whether pkg may be imported with the default
// allow list.
func IsPackageAllowed(pkg string) bool {
	return isAllowed(AllowedPackages, pkg)
}

func isAllowed(allowed map[string]bool, pkg string) bool {
	if BlockedPackages[pkg] {
		return false
	}
	return allowed[pkg]
}

// ValidateSource checks the syntax of a script and that it imports only
// allowed packages.
func ValidateSource(filename, source string) error {
	return validateSource(filename, source, AllowedPackages)
}

func validateSource(filename, source string, allowed map[string]bool) error {
	fset := token.NewFileSet()
	f, err := parser.ParseFile(fset, filename, source, parser.ImportsOnly)
	if err != nil {
		return fmt.Errorf("syntax error: %w", err)
	}
	if f.Name.Name != PackageName {
		return fmt.Errorf("%s: package must be %q, got %q", filename, PackageName, f.Name.Name)
	}
	for _, imp := range f.Imports {
		pkg := strings.Trim(imp.Path.Value, `"`)
		if !isAllowed(allowed, pkg) {
			return fmt.Errorf("%s: import %q is not allowed in plugin scripts", filename, pkg)
		}
	}
	return nil
}
