package engine

import (
	"context"
	"strings"

	"github.com/leapstack-labs/leaprepl/internal/shell"
)

// Trim prepares a request for a completion or documentation query. Units
// that end before the cursor are dropped, except that load units are
// evaluated first so their names stay visible. The unit holding the cursor
// and everything after it are kept verbatim. The returned cursor is moved
// back by the length of the evaluated units.
func Trim(ctx context.Context, sh shell.Shell, req Request) (Request, error) {
	cursor, err := req.cursor()
	if err != nil {
		return Request{}, err
	}

	var kept strings.Builder
	evaluated := 0
	remaining := req.Script
	for {
		unit := sh.AnalyzeCompletion(remaining)
		if unit.Completeness == shell.Empty || unit.Source == "" {
			kept.WriteString(remaining)
			break
		}
		if len(unit.Source)+kept.Len()+evaluated >= cursor {
			kept.WriteString(unit.Source)
			kept.WriteString(unit.Remaining)
			break
		}
		if unit.Import {
			// A failing load leaves its names unbound, which is all
			// completion needs to know.
			if _, err := runUnit(ctx, sh, unit.Source); err != nil {
				return Request{}, err
			}
			evaluated += len(unit.Source)
		} else {
			kept.WriteString(unit.Source)
		}
		remaining = unit.Remaining
	}

	return Request{Script: kept.String()}.At(cursor - evaluated), nil
}
