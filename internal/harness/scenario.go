package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Scenario defines a flow of transitions and the assertions that must hold
// afterwards.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Policy configures approval. Nil means the built-in default.
	Policy *PolicySpec `yaml:"policy,omitempty"`

	// Flow contains the transitions to run, in order.
	Flow []Step `yaml:"flow"`

	// Assertions validate the final state.
	Assertions []Assertion `yaml:"assertions,omitempty"`

	// dir is the directory the scenario was loaded from.
	dir string
}

// PolicySpec is a scenario-local deployment policy. Approvers are named by
// actor rather than by public key.
type PolicySpec struct {
	// File is a CUE policy, relative to the scenario file. Named approvers
	// below are granted on top of it.
	File string `yaml:"file,omitempty"`

	// ApprovalRequired lists roles whose records start pending. Absent
	// means frontline only.
	ApprovalRequired []string `yaml:"approval_required,omitempty"`

	Approvers          map[string]string `yaml:"approvers,omitempty"`
	OpenApproval       bool              `yaml:"open_approval,omitempty"`
	ForbidSelfApproval bool              `yaml:"forbid_self_approval,omitempty"`
}

// Step is one transition or verification.
type Step struct {
	// Op is one of create, append, update, approve, verify.
	Op       string `yaml:"op"`
	Actor    string `yaml:"actor,omitempty"`
	Incident uint64 `yaml:"incident"`

	// create
	Role       string            `yaml:"role,omitempty"`
	Artifacts  map[string]string `yaml:"artifacts,omitempty"`
	FirstEvent string            `yaml:"first_event,omitempty"`

	// append: either a raw hash or a document hashed with ir.EventHash
	Event    string    `yaml:"event,omitempty"`
	EventDoc *EventDoc `yaml:"event_doc,omitempty"`

	// update (Artifacts lists only the replaced kinds)
	ChangeEvent string `yaml:"change_event,omitempty"`

	// create and update; nil keeps the current URI on update
	PacketURI *string `yaml:"packet_uri,omitempty"`

	// verify
	RequireApproved bool `yaml:"require_approved,omitempty"`

	// Expect is "ok" (the default) or a rejection code such as
	// UNAUTHORIZED or ALREADY_APPROVED.
	Expect string `yaml:"expect,omitempty"`
}

// EventDoc is a structured timeline event.
type EventDoc struct {
	Kind string         `yaml:"kind"`
	Doc  map[string]any `yaml:"doc"`
}

// Assertion validates final state.
type Assertion struct {
	// Type is one of record, notifications, chain_valid.
	Type string `yaml:"type"`

	// Incident selects the record (record, chain_valid).
	Incident uint64 `yaml:"incident,omitempty"`

	// Expect contains expected record fields (record).
	// Subset match - only specified fields are validated.
	Expect map[string]any `yaml:"expect,omitempty"`

	// Kinds is the expected notification sequence (notifications).
	Kinds []string `yaml:"kinds,omitempty"`
}

// Step op constants.
const (
	OpCreate  = "create"
	OpAppend  = "append"
	OpUpdate  = "update"
	OpApprove = "approve"
	OpVerify  = "verify"
)

// Assertion type constants.
const (
	AssertRecord        = "record"
	AssertNotifications = "notifications"
	AssertChainValid    = "chain_valid"
)

// OutcomeOK is the expectation of a successful step.
const OutcomeOK = "ok"

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	scenario, err := ParseScenario(data)
	if err != nil {
		return nil, err
	}
	scenario.dir = filepath.Dir(path)

	if scenario.Policy != nil && scenario.Policy.File != "" {
		if _, err := os.Stat(scenario.policyPath()); os.IsNotExist(err) {
			return nil, fmt.Errorf("invalid scenario: policy file not found: %s", scenario.policyPath())
		}
	}
	return scenario, nil
}

// ParseScenario parses scenario YAML. Relative policy files resolve against
// the working directory.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict field validation catches typos like "assertion:" vs "assertions:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

func (s *Scenario) policyPath() string {
	if s.Policy == nil || s.Policy.File == "" {
		return ""
	}
	if filepath.IsAbs(s.Policy.File) {
		return s.Policy.File
	}
	return filepath.Join(s.dir, s.Policy.File)
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Flow) == 0 {
		return fmt.Errorf("flow list is required and must be non-empty")
	}

	for i, step := range s.Flow {
		if err := validateStep(i, &step); err != nil {
			return err
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}

	return nil
}

func validateStep(index int, st *Step) error {
	switch st.Op {
	case OpCreate, OpAppend, OpUpdate, OpApprove:
		if st.Actor == "" {
			return fmt.Errorf("flow[%d]: actor is required for %s", index, st.Op)
		}
	case OpVerify:
	case "":
		return fmt.Errorf("flow[%d]: op is required", index)
	default:
		return fmt.Errorf("flow[%d]: unknown op %q", index, st.Op)
	}

	switch st.Op {
	case OpCreate:
		if st.FirstEvent == "" {
			return fmt.Errorf("flow[%d]: first_event is required for create", index)
		}
	case OpAppend:
		if (st.Event == "") == (st.EventDoc == nil) {
			return fmt.Errorf("flow[%d]: append needs exactly one of event or event_doc", index)
		}
	case OpUpdate:
		if st.ChangeEvent == "" {
			return fmt.Errorf("flow[%d]: change_event is required for update", index)
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	switch a.Type {
	case AssertRecord:
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for record", index)
		}
	case AssertNotifications:
		if a.Kinds == nil {
			return fmt.Errorf("assertions[%d]: kinds is required for notifications", index)
		}
	case AssertChainValid:
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
