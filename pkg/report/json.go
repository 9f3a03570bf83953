package report

import (
	"encoding/json"
	"fmt"

	"github.com/codeready-toolchain/tarka/pkg/models"
)

// JSON renders the structured twin of the Markdown report. Struct field order
// is fixed by the type definitions and map keys are emitted sorted, so the
// output is byte-deterministic.
func JSON(inv *models.Investigation) ([]byte, error) {
	out, err := json.MarshalIndent(inv, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshaling investigation %s: %w", inv.RunID, err)
	}
	return append(out, '\n'), nil
}
