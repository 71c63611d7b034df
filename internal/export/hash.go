package export

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"

	"github.com/JacksonYang0315/rmf-analyzer/internal/domain"
)

// recordHash identifies a record across batches: the same report row
// exported twice hashes the same, so the ReplacingMergeTree collapses it.
func recordHash(r domain.Record) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|", r.TimestampISO)
	fmt.Fprintf(h, "%s|", r.Workload)
	fmt.Fprintf(h, "%s|", r.ServiceClass)
	fmt.Fprintf(h, "%d|", r.Period)
	fmt.Fprintf(h, "%s|", strconv.FormatFloat(r.Utilization, 'g', -1, 64))
	fmt.Fprintf(h, "%s|", r.SourceFile)
	return hex.EncodeToString(h.Sum(nil))
}
