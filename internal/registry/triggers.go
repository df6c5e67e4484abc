package registry

import "strings"

// #region kinds

// TriggerKind is the closed enumeration of known paradox triggers.
// KindCustom covers open registration via CreateTrigger; everything else
// ships seeded with a fixed description and intensity.
type TriggerKind uint8

const (
	KindCustom TriggerKind = iota
	KindTransactionAuthenticity
	KindDigitalOwnership
	KindRecursiveSelfObservation
	KindConsensusReality
	KindValueParadox
	KindFailureCascade
)

// Name returns the registry key for built-in kinds, "" for KindCustom.
func (k TriggerKind) Name() string {
	switch k {
	case KindTransactionAuthenticity:
		return "transaction_authenticity"
	case KindDigitalOwnership:
		return "digital_ownership"
	case KindRecursiveSelfObservation:
		return "recursive_self_observation"
	case KindConsensusReality:
		return "consensus_reality"
	case KindValueParadox:
		return "value_paradox"
	case KindFailureCascade:
		return "failure_cascade"
	default:
		return ""
	}
}

// KindForName resolves a registry key back to its kind.
func KindForName(name string) TriggerKind {
	switch name {
	case "transaction_authenticity":
		return KindTransactionAuthenticity
	case "digital_ownership":
		return KindDigitalOwnership
	case "recursive_self_observation":
		return KindRecursiveSelfObservation
	case "consensus_reality":
		return KindConsensusReality
	case "value_paradox":
		return KindValueParadox
	case "failure_cascade":
		return KindFailureCascade
	default:
		return KindCustom
	}
}

// #endregion kinds

// #region builtins

type builtinTrigger struct {
	kind        TriggerKind
	description string
	intensity   uint32
}

// builtins are seeded on first open. Intensities share the fixed-point
// range bound (<=1000).
var builtins = []builtinTrigger{
	{KindTransactionAuthenticity, "is a signed transfer more real than the value it moves", 700},
	{KindDigitalOwnership, "owning a token is not owning the thing the token names", 650},
	{KindRecursiveSelfObservation, "the act of recording a state changes the state being recorded", 800},
	{KindConsensusReality, "a fact becomes true when enough validators agree it is", 600},
	{KindValueParadox, "price discovered by trading things that only trade because they have a price", 550},
	{KindFailureCascade, "every failure handler is itself a thing that can fail", 900},
}

// #endregion builtins

// #region correlation

// correlationPair fires a meta-paradox when `fired` is triggered while the
// partner's lastTriggered is inside the correlation window. Both directions
// of a pair are listed so ordering does not matter; only the second firing
// of the two detects, so exactly one event is emitted per window.
type correlationPair struct {
	fired    string
	partner  string
	metaName string
	metaDesc string
}

var correlationPairs = []correlationPair{
	{
		fired: "transaction_authenticity", partner: "digital_ownership",
		metaName: "meta_authenticity_of_ownership",
		metaDesc: "authenticity and ownership questioned together: the ledger proves a transfer of something it cannot hold",
	},
	{
		fired: "digital_ownership", partner: "transaction_authenticity",
		metaName: "meta_authenticity_of_ownership",
		metaDesc: "authenticity and ownership questioned together: the ledger proves a transfer of something it cannot hold",
	},
	{
		fired: "recursive_self_observation", partner: "consensus_reality",
		metaName: "meta_observed_consensus",
		metaDesc: "self-observation under consensus: the recorded self is the one the validators agreed on",
	},
	{
		fired: "consensus_reality", partner: "recursive_self_observation",
		metaName: "meta_observed_consensus",
		metaDesc: "self-observation under consensus: the recorded self is the one the validators agreed on",
	},
}

// #endregion correlation

// #region keywords

// keywordTriggers maps input substrings to trigger names.
// Matching is lowercased ASCII substring search, deliberately without
// tokenization or normalization: the correlation tests depend on exactly
// this mechanism.
var keywordTriggers = []struct {
	keyword string
	trigger string
}{
	{"authentic", "transaction_authenticity"},
	{"signature", "transaction_authenticity"},
	{"ownership", "digital_ownership"},
	{"belongs to", "digital_ownership"},
	{"observe", "recursive_self_observation"},
	{"recursive", "recursive_self_observation"},
	{"consensus", "consensus_reality"},
	{"reality", "consensus_reality"},
	{"value", "value_paradox"},
	{"worth", "value_paradox"},
}

// matchTriggers returns the trigger names whose keyword occurs in text,
// deduplicated, in table order.
func matchTriggers(text string) []string {
	lower := strings.ToLower(text)
	seen := make(map[string]bool)
	var out []string
	for _, kt := range keywordTriggers {
		if seen[kt.trigger] {
			continue
		}
		if strings.Contains(lower, kt.keyword) {
			seen[kt.trigger] = true
			out = append(out, kt.trigger)
		}
	}
	return out
}

// #endregion keywords
