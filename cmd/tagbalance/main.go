// Command tagbalance checks that thread scope counters are released by a
// deferred call.
package main

import (
	"golang.org/x/tools/go/analysis/singlechecker"

	"github.com/kolkov/tagdetector/internal/tag/balance"
)

func main() {
	singlechecker.Main(balance.Analyzer)
}
