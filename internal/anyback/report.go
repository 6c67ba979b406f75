package anyback

import (
	"encoding/json"
	"fmt"

	"anyback-go/internal/archive"
)

// MarshalReport renders outcomes as the JSON import report:
// [{"id": ..., "success": ..., "error": ...}], in selection order.
func MarshalReport(outcomes []ImportOutcome) ([]byte, error) {
	if outcomes == nil {
		outcomes = []ImportOutcome{}
	}
	b, err := json.MarshalIndent(outcomes, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding import report: %w", err)
	}
	return append(b, '\n'), nil
}

func (r *restoreRun) writeReport() error {
	if r.req.ReportPath == "" {
		return nil
	}
	b, err := MarshalReport(r.res.Outcomes)
	if err != nil {
		return err
	}
	if err := archive.WriteFileAtomic(r.req.ReportPath, b); err != nil {
		return fmt.Errorf("writing import report: %w", err)
	}
	r.s.logger.Info("import report written", "path", r.req.ReportPath, "entries", len(r.res.Outcomes))
	return nil
}
