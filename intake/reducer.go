package intake

import (
	"bytes"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/bytedance/sonic"
)

// Steps is the number of wizard steps.
const Steps = 9

var (
	ErrInvalidStep    = errors.New("invalid step")
	ErrFieldNotInStep = errors.New("field does not belong to step")
	ErrUnknownAction  = errors.New("unknown action")
	ErrInvalidPatch   = errors.New("invalid patch")
)

type ActionType string

const (
	ActionUpdateSection ActionType = "update_section"
	ActionAddItem       ActionType = "add_item"
	ActionRemoveItem    ActionType = "remove_item"
	ActionSetStep       ActionType = "set_step"
	ActionReset         ActionType = "reset"
)

// Action is a single change requested by a wizard step.
//
// Section names a step namespace ("basics", "deployment", ...). Field names a
// list, either shared ("tags") or namespaced ("technology.frontend").
type Action struct {
	Type    ActionType             `json:"type"`
	Step    int                    `json:"step"`
	Section string                 `json:"section,omitempty"`
	Patch   sonic.NoCopyRawMessage `json:"patch,omitempty"`
	Field   string                 `json:"field,omitempty"`
	Value   string                 `json:"value,omitempty"`
	Index   int                    `json:"index,omitempty"`
}

// State is the single authoritative form state.
type State struct {
	Step         int                 `json:"step"`
	Requirements ProjectRequirements `json:"requirements"`
}

// NewState returns an empty form positioned on the first step.
func NewState() State {
	return State{Step: 1}
}

var stepSections = [Steps + 1][]string{
	1: {"basics"},
	2: {"contacts"},
	3: {"objectives"},
	4: {"platform"},
	5: {"technology"},
	6: {"timeline"},
	7: {"scope"},
	8: {"compliance"},
	9: {"deployment", "team"},
}

var sharedLists = []string{"tags", "stakeholders", "keyFeatures"}

func sectionOf(r *ProjectRequirements, name string) any {
	switch name {
	case "basics":
		return &r.Basics
	case "contacts":
		return &r.Contacts
	case "objectives":
		return &r.Objectives
	case "platform":
		return &r.Platform
	case "technology":
		return &r.Technology
	case "timeline":
		return &r.Timeline
	case "scope":
		return &r.Scope
	case "compliance":
		return &r.Compliance
	case "deployment":
		return &r.Deployment
	case "team":
		return &r.Team
	}
	return nil
}

func listOf(r *ProjectRequirements, field string) *[]string {
	switch field {
	case "tags":
		return &r.Tags
	case "stakeholders":
		return &r.Stakeholders
	case "keyFeatures":
		return &r.KeyFeatures
	case "objectives.businessGoals":
		return &r.Objectives.BusinessGoals
	case "objectives.successCriteria":
		return &r.Objectives.SuccessCriteria
	case "platform.browserSupport":
		return &r.Platform.BrowserSupport
	case "technology.frontend":
		return &r.Technology.Frontend
	case "technology.backend":
		return &r.Technology.Backend
	case "technology.databases":
		return &r.Technology.Databases
	case "technology.cloud":
		return &r.Technology.Cloud
	case "technology.integrations":
		return &r.Technology.Integrations
	case "scope.inScope":
		return &r.Scope.InScope
	case "scope.outOfScope":
		return &r.Scope.OutOfScope
	case "scope.deliverables":
		return &r.Scope.Deliverables
	case "scope.assumptions":
		return &r.Scope.Assumptions
	case "compliance.standards":
		return &r.Compliance.Standards
	case "compliance.securityRequirements":
		return &r.Compliance.SecurityRequirements
	case "deployment.regions":
		return &r.Deployment.Regions
	case "team.roles":
		return &r.Team.Roles
	}
	return nil
}

// StepOwns reports whether the given step may change section.
func StepOwns(step int, section string) bool {
	if step < 1 || step > Steps {
		return false
	}
	return slices.Contains(stepSections[step], section)
}

func stepOwnsList(step int, field string) bool {
	if slices.Contains(sharedLists, field) {
		return true
	}
	section, _, ok := strings.Cut(field, ".")
	return ok && StepOwns(step, section)
}

// Reduce applies a to s and returns the resulting state. s is never modified;
// on error the returned state equals s.
func Reduce(s State, a Action) (State, error) {
	switch a.Type {
	case ActionReset:
		return NewState(), nil
	case ActionSetStep:
		if a.Step < 1 || a.Step > Steps {
			return s, fmt.Errorf("%w: %d", ErrInvalidStep, a.Step)
		}
		next, err := cloneState(s)
		if err != nil {
			return s, err
		}
		next.Step = a.Step
		return next, nil
	case ActionUpdateSection, ActionAddItem, ActionRemoveItem:
	default:
		return s, fmt.Errorf("%w: %q", ErrUnknownAction, a.Type)
	}

	if a.Step < 1 || a.Step > Steps {
		return s, fmt.Errorf("%w: %d", ErrInvalidStep, a.Step)
	}
	next, err := cloneState(s)
	if err != nil {
		return s, err
	}

	switch a.Type {
	case ActionUpdateSection:
		if !StepOwns(a.Step, a.Section) {
			return s, fmt.Errorf("%w: step %d cannot change %q", ErrFieldNotInStep, a.Step, a.Section)
		}
		if err := mergePatch(sectionOf(&next.Requirements, a.Section), a.Patch); err != nil {
			return s, err
		}
	case ActionAddItem:
		list, err := ownedList(&next.Requirements, a)
		if err != nil {
			return s, err
		}
		value := strings.TrimSpace(a.Value)
		if value == "" {
			return s, nil
		}
		*list = append(*list, value)
	case ActionRemoveItem:
		list, err := ownedList(&next.Requirements, a)
		if err != nil {
			return s, err
		}
		if a.Index < 0 || a.Index >= len(*list) {
			return s, nil
		}
		*list = slices.Delete(*list, a.Index, a.Index+1)
	}
	return next, nil
}

func ownedList(r *ProjectRequirements, a Action) (*[]string, error) {
	list := listOf(r, a.Field)
	if list == nil || !stepOwnsList(a.Step, a.Field) {
		return nil, fmt.Errorf("%w: step %d cannot change %q", ErrFieldNotInStep, a.Step, a.Field)
	}
	return list, nil
}

// mergePatch decodes patch over dst. Fields absent from the patch keep their
// current values; unknown fields are rejected.
func mergePatch(dst any, patch []byte) error {
	if len(bytes.TrimSpace(patch)) == 0 {
		return fmt.Errorf("%w: empty patch", ErrInvalidPatch)
	}
	dec := sonic.ConfigStd.NewDecoder(bytes.NewReader(patch))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPatch, err)
	}
	return nil
}

func cloneState(s State) (State, error) {
	req, err := s.Requirements.Clone()
	if err != nil {
		return s, err
	}
	return State{Step: s.Step, Requirements: req}, nil
}
