// Hookgen regenerates the lowering pass's table of well-known runtime
// entries: every package-level Entry variable in the runtime package,
// sorted by name.
package main

import (
	"bytes"
	"flag"
	"fmt"
	"go/format"
	"go/token"
	"go/types"
	"os"
	"sort"

	"golang.org/x/tools/go/packages"
)

func main() {
	var rtpath, pkgname string
	flag.StringVar(&rtpath, "rt", "github.com/loamlang/loamgc/rt", "import path of the runtime entry package")
	flag.StringVar(&pkgname, "pkg", "lower", "package name for the generated file")
	flag.Parse()
	out := flag.Arg(0)
	if out == "" {
		fail("usage: hookgen [-rt path] [-pkg name] output.go")
	}

	fset := token.NewFileSet()
	config := packages.Config{Mode: packages.NeedName | packages.NeedTypes, Fset: fset}
	pkgs, err := packages.Load(&config, rtpath)
	if err != nil {
		fail("error loading packages:", err)
	}
	if len(pkgs) == 0 || pkgs[0].Types == nil {
		fail("no usable package for", rtpath)
	}
	pkg := pkgs[0]
	entry := getEntry(pkg.Types)
	scope := pkg.Types.Scope()
	names := []string{}
	for _, name := range scope.Names() {
		v, ok := scope.Lookup(name).(*types.Var)
		if !ok {
			continue
		}
		if types.AssignableTo(v.Type(), entry) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	if len(names) == 0 {
		fail(pkg.Types.Name(), "declares no Entry variables")
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "// Code generated by hookgen. DO NOT EDIT.\n\n")
	fmt.Fprintf(&buf, "package %s\n\n", pkgname)
	fmt.Fprintf(&buf, "import %q\n\n", pkg.PkgPath)
	fmt.Fprintf(&buf, "// wellKnown lists every runtime entry lowered code may call.\n")
	fmt.Fprintf(&buf, "var wellKnown = []%s.Entry{\n", pkg.Types.Name())
	for _, name := range names {
		fmt.Fprintf(&buf, "\t%s.%s,\n", pkg.Types.Name(), name)
	}
	fmt.Fprintf(&buf, "}\n")
	src, err := format.Source(buf.Bytes())
	if err != nil {
		fail("error formatting output:", err)
	}

	f, err := os.Create(out)
	if err != nil {
		fail("error creating output:", err)
	}
	if _, err := f.Write(src); err != nil {
		fail("error writing output:", err)
	}
	if err := f.Close(); err != nil {
		fail("error closing output:", err)
	}
}

func fail(args ...interface{}) {
	fmt.Fprintln(os.Stderr, args...)
	os.Exit(1)
}

func getEntry(pkg *types.Package) types.Type {
	r := pkg.Scope().Lookup("Entry")
	if r == nil {
		fail(pkg.Name(), "has no definition of Entry")
	}
	t, ok := r.(*types.TypeName)
	if !ok {
		fail(pkg.Name(), "has incorrect definition of Entry:", r)
	}
	return t.Type()
}
