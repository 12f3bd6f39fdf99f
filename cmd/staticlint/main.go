// Command staticlint runs the project's static analysis suite:
//
//   - selected golang.org/x/tools/go/analysis passes
//   - every staticcheck SA analyzer, plus S1000 and U1000
//   - bodyclose, for the preview fetcher and cache client
//   - noexit, which forbids os.Exit inside main.main
//
// Usage:
//
//	go run ./cmd/staticlint ./...
package main

import (
	"github.com/timakin/bodyclose/passes/bodyclose"
	"golang.org/x/tools/go/analysis"
	"golang.org/x/tools/go/analysis/multichecker"
	"golang.org/x/tools/go/analysis/passes/atomic"
	"golang.org/x/tools/go/analysis/passes/copylock"
	"golang.org/x/tools/go/analysis/passes/errorsas"
	"golang.org/x/tools/go/analysis/passes/httpresponse"
	"golang.org/x/tools/go/analysis/passes/lostcancel"
	"golang.org/x/tools/go/analysis/passes/nilness"
	"golang.org/x/tools/go/analysis/passes/printf"
	"golang.org/x/tools/go/analysis/passes/shadow"
	"golang.org/x/tools/go/analysis/passes/structtag"
	"golang.org/x/tools/go/analysis/passes/unusedresult"
	"honnef.co/go/tools/analysis/lint"
	"honnef.co/go/tools/simple"
	"honnef.co/go/tools/staticcheck"
	"honnef.co/go/tools/unused"

	"github.com/sundayezeilo/linkshare/cmd/staticlint/noexit"
)

func main() {
	multichecker.Main(analyzers()...)
}

func analyzers() []*analysis.Analyzer {
	list := []*analysis.Analyzer{
		atomic.Analyzer,
		copylock.Analyzer,
		errorsas.Analyzer,
		httpresponse.Analyzer,
		lostcancel.Analyzer,
		nilness.Analyzer,
		printf.Analyzer,
		shadow.Analyzer,
		structtag.Analyzer,
		unusedresult.Analyzer,
	}

	for _, a := range staticcheck.Analyzers {
		if a.Analyzer.Name[:2] == "SA" {
			list = append(list, a.Analyzer)
		}
	}
	if a := find(simple.Analyzers, "S1000"); a != nil {
		list = append(list, a)
	}
	list = append(list, unused.Analyzer.Analyzer)

	list = append(list, bodyclose.Analyzer, noexit.Analyzer)
	return list
}

func find(set []*lint.Analyzer, name string) *analysis.Analyzer {
	for _, a := range set {
		if a.Analyzer.Name == name {
			return a.Analyzer
		}
	}
	return nil
}
