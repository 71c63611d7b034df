// rmf-analyzer parses RMF Workload Activity reports and serves the
// extracted utilization records.
package main

import (
	"os"

	"github.com/JacksonYang0315/rmf-analyzer/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
