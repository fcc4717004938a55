// Pinreplay rebuilds a pinning log from a recorded event stream and
// prints the coalesced report.
//
// The input is one JSON event per line, for example
//
//	{"object": "0x7f3a40", "filename": "list.loam", "lineno": 40, "type": "List"}
//
// Blank lines and lines starting with # are skipped. The optional type
// field names the object's type in the report; offline there is no
// heap to ask.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/loamlang/loamgc/pinlog"
)

func main() {
	var capacity, coalesce int
	flag.IntVar(&capacity, "capacity", pinlog.DefaultCapacity, "event buffer capacity")
	flag.IntVar(&coalesce, "coalesce", 0, "fold the buffer every n events, 0 to never fold")
	flag.Parse()

	in := os.Stdin
	if name := flag.Arg(0); name != "" && name != "-" {
		f, err := os.Open(name)
		if err != nil {
			fail(err)
		}
		defer f.Close()
		in = f
	}

	defer func() {
		if e := recover(); e != nil {
			if ov, ok := e.(*pinlog.OverflowError); ok {
				fail(ov)
			}
			panic(e)
		}
	}()

	log := pinlog.New(capacity)
	log.Enable()
	typeNames := make(map[uintptr]string)
	log.SetTypeNameFunc(func(obj uintptr) string { return typeNames[obj] })

	sc := bufio.NewScanner(in)
	lineno := 0
	events := 0
	for sc.Scan() {
		lineno++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if !gjson.Valid(line) {
			fail(fmt.Errorf("line %d: not a JSON event", lineno))
		}
		obj, err := parseObject(gjson.Get(line, "object"))
		if err != nil {
			fail(fmt.Errorf("line %d: %w", lineno, err))
		}
		file := gjson.Get(line, "filename").String()
		site := int(gjson.Get(line, "lineno").Int())
		if name := gjson.Get(line, "type").String(); name != "" {
			typeNames[obj] = name
		}
		log.Record(obj, file, site)
		if events++; coalesce > 0 && events%coalesce == 0 {
			log.Coalesce()
		}
	}
	if err := sc.Err(); err != nil {
		fail(err)
	}
	if err := log.Report(os.Stdout); err != nil {
		fail(err)
	}
}

// parseObject reads an object address given as a hex string or a JSON
// number.
func parseObject(r gjson.Result) (uintptr, error) {
	switch r.Type {
	case gjson.String:
		s := strings.TrimPrefix(r.String(), "0x")
		v, err := strconv.ParseUint(s, 16, 64)
		if err != nil {
			return 0, fmt.Errorf("bad object address %q", r.String())
		}
		return uintptr(v), nil
	case gjson.Number:
		return uintptr(r.Uint()), nil
	}
	return 0, fmt.Errorf("missing object address")
}

func fail(err error) {
	fmt.Fprintln(os.Stderr, "pinreplay:", err)
	os.Exit(1)
}
