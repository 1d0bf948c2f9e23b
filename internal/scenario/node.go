// Package scenario evaluates a bot's script against conversation state and
// inbound content, producing an ordered list of outbound actions.
package scenario

// Node kinds. Each kind uses its own subset of Node fields; Validate
// rejects scripts that mix them up.
const (
	NodeText      = "text"
	NodeQuestion  = "question"
	NodeMedia     = "media"
	NodeTemplate  = "template"
	NodeButtons   = "buttons"
	NodeCondition = "condition"
	NodeAction    = "action"
)

// Condition operators.
const (
	OpContains   = "contains"
	OpEquals     = "equals"
	OpStartsWith = "starts_with"
	OpEndsWith   = "ends_with"
	OpRegex      = "regex"
)

// Action node verbs.
const (
	ActTakeover  = "takeover"
	ActAssignTag = "assign_tag"
	ActSaveField = "save_field"
)

// Trigger decides whether a node starts handling an inbound message:
// a keyword set (containment match), an exact intent tag, or the reserved
// default catch-all. Exactly one of the three must be set.
type Trigger struct {
	Keywords []string `json:"keywords,omitempty"`
	Intent   string   `json:"intent,omitempty"`
	Default  bool     `json:"default,omitempty"`
}

// Button is one reply option on a buttons node.
type Button struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// Condition compares the inbound content against a value.
type Condition struct {
	Op    string `json:"op"`
	Value string `json:"value"`
}

// Node is one step of a scenario script. Trigger and Priority matter only
// for entry selection; Next (or NextTrue/NextFalse on conditions) chains
// steps into an ordered action list.
type Node struct {
	ID       string   `json:"id"`
	Kind     string   `json:"kind"`
	Trigger  *Trigger `json:"trigger,omitempty"`
	Priority int      `json:"priority,omitempty"`

	Text      string     `json:"text,omitempty"`       // text, question, buttons
	SaveAs    string     `json:"save_as,omitempty"`    // question
	MediaPath string     `json:"media_path,omitempty"` // media
	MediaType string     `json:"media_type,omitempty"` // media
	Caption   string     `json:"caption,omitempty"`    // media
	Template  string     `json:"template,omitempty"`   // template
	Language  string     `json:"language,omitempty"`   // template
	Buttons   []Button   `json:"buttons,omitempty"`    // buttons
	Condition *Condition `json:"condition,omitempty"`  // condition
	Action    string     `json:"action,omitempty"`     // action
	Tag       string     `json:"tag,omitempty"`        // action assign_tag
	Field     string     `json:"field,omitempty"`      // action save_field

	Next      string `json:"next,omitempty"`
	NextTrue  string `json:"next_true,omitempty"`  // condition
	NextFalse string `json:"next_false,omitempty"` // condition
}

// Action is one outbound effect produced by an evaluation. The sealed
// interface keeps the dispatch switch exhaustive at compile time.
type Action interface{ isAction() }

// SendText sends rendered text to the customer.
type SendText struct {
	Text string
}

// AskQuestion sends a rendered prompt and parks the walk at the question
// node; the customer's next message resumes from there.
type AskQuestion struct {
	Text   string
	NodeID string
}

// SendMedia uploads a locally staged file and sends it.
type SendMedia struct {
	Path      string
	MediaType string
	Caption   string
}

// SendTemplate sends a provider-approved template.
type SendTemplate struct {
	Name     string
	Language string
}

// SendButtons sends an interactive button prompt.
type SendButtons struct {
	Text    string
	Buttons []Button
}

// Takeover hands the conversation to a human and stops the script.
type Takeover struct{}

// TagCustomer appends a tag to the customer record.
type TagCustomer struct {
	Tag string
}

// SaveField stores the inbound content under a customer attribute.
type SaveField struct {
	Field string
	Value string
}

func (SendText) isAction()     {}
func (AskQuestion) isAction()  {}
func (SendMedia) isAction()    {}
func (SendTemplate) isAction() {}
func (SendButtons) isAction()  {}
func (Takeover) isAction()     {}
func (TagCustomer) isAction()  {}
func (SaveField) isAction()    {}
