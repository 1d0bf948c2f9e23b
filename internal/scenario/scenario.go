package scenario

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// maxSteps bounds one evaluation walk. Validate rejects cycles, so this
// only guards scripts edited directly in the database.
const maxSteps = 64

// Script is a parsed, validated scenario node list.
type Script struct {
	Nodes []Node
	byID  map[string]*Node
}

// Parse unmarshals and validates a JSON-encoded node list. A malformed
// script (cyclic reference, missing default, duplicate or dangling node
// ids, unknown kinds) is rejected here, once at load time, so per-message
// evaluation never sees it.
func Parse(raw string) (*Script, error) {
	var nodes []Node
	if err := json.Unmarshal([]byte(raw), &nodes); err != nil {
		return nil, fmt.Errorf("scenario: parse: %w", err)
	}
	s := &Script{Nodes: nodes, byID: make(map[string]*Node, len(nodes))}
	for i := range s.Nodes {
		n := &s.Nodes[i]
		if n.ID == "" {
			return nil, fmt.Errorf("scenario: node %d has no id", i)
		}
		if _, dup := s.byID[n.ID]; dup {
			return nil, fmt.Errorf("scenario: duplicate node id %q", n.ID)
		}
		s.byID[n.ID] = n
	}
	if err := s.validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Script) validate() error {
	hasDefault := false
	for i := range s.Nodes {
		n := &s.Nodes[i]
		switch n.Kind {
		case NodeText:
			if n.Text == "" {
				return fmt.Errorf("scenario: node %q: text is required", n.ID)
			}
		case NodeQuestion:
			if n.Text == "" {
				return fmt.Errorf("scenario: node %q: text is required", n.ID)
			}
		case NodeMedia:
			if n.MediaPath == "" || n.MediaType == "" {
				return fmt.Errorf("scenario: node %q: media_path and media_type are required", n.ID)
			}
		case NodeTemplate:
			if n.Template == "" {
				return fmt.Errorf("scenario: node %q: template is required", n.ID)
			}
		case NodeButtons:
			if n.Text == "" || len(n.Buttons) == 0 {
				return fmt.Errorf("scenario: node %q: text and buttons are required", n.ID)
			}
		case NodeCondition:
			if n.Condition == nil {
				return fmt.Errorf("scenario: node %q: condition is required", n.ID)
			}
			if n.Condition.Op == OpRegex {
				if _, err := regexp.Compile(n.Condition.Value); err != nil {
					return fmt.Errorf("scenario: node %q: bad regex: %w", n.ID, err)
				}
			}
		case NodeAction:
			switch n.Action {
			case ActTakeover:
			case ActAssignTag:
				if n.Tag == "" {
					return fmt.Errorf("scenario: node %q: tag is required", n.ID)
				}
			case ActSaveField:
				if n.Field == "" {
					return fmt.Errorf("scenario: node %q: field is required", n.ID)
				}
			default:
				return fmt.Errorf("scenario: node %q: unknown action %q", n.ID, n.Action)
			}
		default:
			return fmt.Errorf("scenario: node %q: unknown kind %q", n.ID, n.Kind)
		}

		if t := n.Trigger; t != nil {
			set := 0
			if len(t.Keywords) > 0 {
				set++
			}
			if t.Intent != "" {
				set++
			}
			if t.Default {
				set++
				hasDefault = true
			}
			if set != 1 {
				return fmt.Errorf("scenario: node %q: trigger must set exactly one of keywords, intent, default", n.ID)
			}
		}

		for _, ref := range []string{n.Next, n.NextTrue, n.NextFalse} {
			if ref != "" && s.byID[ref] == nil {
				return fmt.Errorf("scenario: node %q: next reference %q does not exist", n.ID, ref)
			}
		}
	}
	if !hasDefault {
		return fmt.Errorf("scenario: no default-trigger node")
	}
	return s.checkCycles()
}

// checkCycles walks every chain and rejects any path that revisits a node.
func (s *Script) checkCycles() error {
	for i := range s.Nodes {
		start := &s.Nodes[i]
		if start.Trigger == nil {
			continue
		}
		if err := s.walkAcyclic(start, map[string]bool{}); err != nil {
			return err
		}
	}
	return nil
}

func (s *Script) walkAcyclic(n *Node, seen map[string]bool) error {
	if seen[n.ID] {
		return fmt.Errorf("scenario: cyclic reference through node %q", n.ID)
	}
	seen[n.ID] = true
	defer delete(seen, n.ID)
	for _, ref := range []string{n.Next, n.NextTrue, n.NextFalse} {
		if ref == "" {
			continue
		}
		if err := s.walkAcyclic(s.byID[ref], seen); err != nil {
			return err
		}
	}
	return nil
}

// Input carries the conversation state one evaluation reads.
type Input struct {
	Content      string
	Intent       string
	CustomerName string
	Handle       string
	Attributes   map[string]string
}

// Evaluate selects the entry node for the inbound content and walks its
// chain, producing an ordered action list. Silence (no actions) is a valid
// outcome, not an error; evaluation problems degrade to fewer actions plus
// diagnostics for the caller to log.
func (s *Script) Evaluate(in Input) ([]Action, []string) {
	entry := s.match(in)
	if entry == nil {
		return nil, nil
	}
	return s.walk(entry, in, nil)
}

// Resume continues a walk parked at a question node: the inbound content
// is the answer, saved under the node's save_as field, and the chain
// continues from the question's next node. ok is false when the parked
// node no longer resolves to a question (the script changed underneath);
// callers fall back to entry matching then.
func (s *Script) Resume(nodeID string, in Input) (actions []Action, ok bool, diags []string) {
	node := s.byID[nodeID]
	if node == nil || node.Kind != NodeQuestion {
		return nil, false, []string{fmt.Sprintf("parked node %q is not a question", nodeID)}
	}
	if node.SaveAs != "" {
		actions = append(actions, SaveField{Field: node.SaveAs, Value: in.Content})
	}
	if node.Next == "" {
		return actions, true, nil
	}
	actions, diags = s.walk(s.byID[node.Next], in, actions)
	return actions, true, diags
}

// walk follows one chain from node, appending to actions.
func (s *Script) walk(node *Node, in Input, actions []Action) ([]Action, []string) {
	var diags []string
	for steps := 0; node != nil && steps < maxSteps; steps++ {
		var next string
		switch node.Kind {
		case NodeText:
			actions = append(actions, SendText{Text: Render(node.Text, in)})
			next = node.Next
		case NodeQuestion:
			// Waits for the customer; Resume picks the chain back up.
			return append(actions, AskQuestion{Text: Render(node.Text, in), NodeID: node.ID}), diags
		case NodeMedia:
			actions = append(actions, SendMedia{
				Path:      node.MediaPath,
				MediaType: node.MediaType,
				Caption:   Render(node.Caption, in),
			})
			next = node.Next
		case NodeTemplate:
			lang := node.Language
			if lang == "" {
				lang = "en"
			}
			actions = append(actions, SendTemplate{Name: node.Template, Language: lang})
			next = node.Next
		case NodeButtons:
			actions = append(actions, SendButtons{Text: Render(node.Text, in), Buttons: node.Buttons})
			next = node.Next
		case NodeCondition:
			if evalCondition(node.Condition, in.Content) {
				next = node.NextTrue
			} else {
				next = node.NextFalse
			}
		case NodeAction:
			switch node.Action {
			case ActTakeover:
				return append(actions, Takeover{}), diags
			case ActAssignTag:
				actions = append(actions, TagCustomer{Tag: node.Tag})
			case ActSaveField:
				actions = append(actions, SaveField{Field: node.Field, Value: in.Content})
			}
			next = node.Next
		}
		if next == "" {
			return actions, diags
		}
		node = s.byID[next]
	}
	if node != nil {
		diags = append(diags, fmt.Sprintf("walk stopped after %d steps at node %q", maxSteps, node.ID))
	}
	return actions, diags
}

// match picks the highest-priority node whose trigger matches the inbound
// content. Ties at equal priority break by lowest node position, so the
// authored order stays deterministic.
func (s *Script) match(in Input) *Node {
	type candidate struct {
		node *Node
		pos  int
	}
	var triggered []candidate
	for i := range s.Nodes {
		n := &s.Nodes[i]
		if n.Trigger != nil {
			triggered = append(triggered, candidate{node: n, pos: i})
		}
	}
	sort.SliceStable(triggered, func(i, j int) bool {
		if triggered[i].node.Priority != triggered[j].node.Priority {
			return triggered[i].node.Priority > triggered[j].node.Priority
		}
		return triggered[i].pos < triggered[j].pos
	})

	content := strings.ToLower(strings.TrimSpace(in.Content))
	for _, c := range triggered {
		t := c.node.Trigger
		switch {
		case len(t.Keywords) > 0:
			for _, kw := range t.Keywords {
				if kw = strings.ToLower(strings.TrimSpace(kw)); kw != "" && strings.Contains(content, kw) {
					return c.node
				}
			}
		case t.Intent != "":
			if in.Intent != "" && t.Intent == in.Intent {
				return c.node
			}
		case t.Default:
			// Catch-all: matches anything at its priority slot.
			return c.node
		}
	}
	return nil
}

// evalCondition applies a condition operator to the inbound content.
// An operator failure counts as non-match, never as an error.
func evalCondition(c *Condition, content string) bool {
	input := strings.ToLower(strings.TrimSpace(content))
	value := strings.ToLower(strings.TrimSpace(c.Value))
	switch c.Op {
	case OpContains:
		return strings.Contains(input, value)
	case OpEquals:
		return input == value
	case OpStartsWith:
		return strings.HasPrefix(input, value)
	case OpEndsWith:
		return strings.HasSuffix(input, value)
	case OpRegex:
		re, err := regexp.Compile(c.Value)
		if err != nil {
			return false
		}
		return re.MatchString(input)
	default:
		return false
	}
}
