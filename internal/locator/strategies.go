package locator

// Strategy is one step of the submit-control cascade. Strategies are
// configuration, not logic: the host ships new markup independently of
// this tool, so the concrete selectors have to be swappable without
// touching the resolution code.
type Strategy struct {
	Name string `json:"name"`
	// Mode selects how the strategy resolves:
	//   css        — first match of Query
	//   label      — first Query match whose visible/aria label contains Text
	//   near-input — first enabled button in the input's form/parent scope
	Mode  string `json:"mode"`
	Query string `json:"query,omitempty"`
	Text  string `json:"text,omitempty"`
}

const (
	ModeCSS       = "css"
	ModeLabel     = "label"
	ModeNearInput = "near-input"
)

// DefaultInputSelector assumes the host exposes exactly one relevant
// free-text input at a time.
const DefaultInputSelector = "textarea"

// DefaultSubmitCascade is ordered most-specific first: the exact
// fingerprint of the known host UI, degrading through structural
// heuristics to a last-resort sibling scan. Resolution stops at the
// first strategy with a non-empty match.
func DefaultSubmitCascade() []Strategy {
	return []Strategy{
		{Name: "fingerprint", Mode: ModeCSS, Query: `button.chat-send-button, button[data-testid="send-button"]`},
		{Name: "type-submit", Mode: ModeCSS, Query: `button[type="submit"]`},
		{Name: "send-label", Mode: ModeLabel, Query: `button, [role="button"]`, Text: "send"},
		{Name: "near-input", Mode: ModeNearInput},
	}
}
