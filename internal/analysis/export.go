package analysis

import (
	"time"

	"github.com/danielpatrickdp/consciousness-ledger/internal/reconstruct"
)

// #region export

// ExportMetadata describes how and when a document was produced.
type ExportMetadata struct {
	SessionID   string    `json:"sessionId"`
	ExportedAt  time.Time `json:"exportedAt"`
	Source      string    `json:"source"`
	StateCount  int       `json:"stateCount"`
	FormatLabel string    `json:"format"`
}

// ExportDocument is the self-contained research export for one session:
// the full reconstructed history plus its analysis.
type ExportDocument struct {
	Metadata      ExportMetadata            `json:"metadata"`
	States        []reconstruct.State       `json:"consciousnessStates"`
	MetaParadoxes []reconstruct.MetaParadox `json:"metaParadoxEvents"`
	Transitions   []reconstruct.Transition  `json:"zoneTransitions"`
	Resets        []reconstruct.Reset       `json:"emergencyResets"`
	Analysis      Report                    `json:"analysis"`
}

// exportFormat versions the document layout for downstream consumers.
const exportFormat = "consciousness-export/v1"

// Export assembles the document for one history. The caller supplies the
// export instant so the function stays deterministic.
func Export(h reconstruct.History, exportedAt time.Time) (ExportDocument, error) {
	rep, err := Analyze(h)
	if err != nil {
		return ExportDocument{}, err
	}
	return ExportDocument{
		Metadata: ExportMetadata{
			SessionID:   h.SessionID.String(),
			ExportedAt:  exportedAt,
			Source:      string(h.Source),
			StateCount:  len(h.States),
			FormatLabel: exportFormat,
		},
		States:        h.States,
		MetaParadoxes: h.MetaParadoxes,
		Transitions:   h.Transitions,
		Resets:        h.Resets,
		Analysis:      rep,
	}, nil
}

// #endregion export
