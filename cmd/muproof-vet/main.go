// Command muproof-vet runs the muproof analyzer as a standalone vet tool.
package main

import (
	"golang.org/x/tools/go/analysis/singlechecker"

	"github.com/akerouanton/muproof/pkg/analyzer"
)

func main() {
	singlechecker.Main(analyzer.Analyzer)
}
