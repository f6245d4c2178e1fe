package intake

import (
	"time"

	"github.com/bytedance/sonic"
)

// StatusPendingWorkflowGeneration marks submitted requirements awaiting a workflow.
const StatusPendingWorkflowGeneration = "pending_workflow_generation"

// Contact is a person the delivery team can reach.
type Contact struct {
	Name  string `json:"name" validate:"required"`
	Email string `json:"email" validate:"required,email"`
	Phone string `json:"phone,omitempty"`
	Role  string `json:"role,omitempty"`
}

// Basics is step 1: what the project is.
type Basics struct {
	ProjectName string `json:"projectName" validate:"required,max=120"`
	Description string `json:"description" validate:"required"`
	Industry    string `json:"industry,omitempty"`
	ProjectType string `json:"projectType,omitempty" validate:"omitempty,oneof=new_build migration enhancement maintenance"`
	Budget      string `json:"budget,omitempty"`
}

// Contacts is step 2.
type Contacts struct {
	Primary   Contact  `json:"primary"`
	Technical *Contact `json:"technical,omitempty" validate:"omitempty"`
	Billing   *Contact `json:"billing,omitempty" validate:"omitempty"`
}

// Objectives is step 3.
type Objectives struct {
	ProblemStatement string   `json:"problemStatement" validate:"required"`
	BusinessGoals    []string `json:"businessGoals" validate:"min=1,dive,required"`
	SuccessCriteria  []string `json:"successCriteria,omitempty"`
	TargetAudience   string   `json:"targetAudience,omitempty"`
}

// Platform is step 4: where the product runs.
type Platform struct {
	Web            bool     `json:"web"`
	IOS            bool     `json:"ios"`
	Android        bool     `json:"android"`
	Desktop        bool     `json:"desktop"`
	API            bool     `json:"api"`
	OfflineSupport bool     `json:"offlineSupport"`
	BrowserSupport []string `json:"browserSupport,omitempty"`
}

// Any reports whether at least one delivery platform is selected.
func (p Platform) Any() bool {
	return p.Web || p.IOS || p.Android || p.Desktop || p.API
}

// Technology is step 5.
type Technology struct {
	Frontend     []string `json:"frontend,omitempty"`
	Backend      []string `json:"backend,omitempty"`
	Databases    []string `json:"databases,omitempty"`
	Cloud        []string `json:"cloud,omitempty"`
	Integrations []string `json:"integrations,omitempty"`
	Notes        string   `json:"notes,omitempty"`
}

// MilestoneDraft is a milestone the requester already has in mind.
type MilestoneDraft struct {
	Title       string `json:"title" validate:"required"`
	Date        string `json:"date,omitempty" validate:"omitempty,datetime=2006-01-02"`
	Description string `json:"description,omitempty"`
}

// Timeline is step 6. Dates use the YYYY-MM-DD form.
type Timeline struct {
	StartDate        string           `json:"startDate" validate:"required,datetime=2006-01-02"`
	TargetLaunchDate string           `json:"targetLaunchDate" validate:"required,datetime=2006-01-02"`
	MVPDate          string           `json:"mvpDate,omitempty" validate:"omitempty,datetime=2006-01-02"`
	Flexibility      string           `json:"flexibility,omitempty" validate:"omitempty,oneof=fixed flexible"`
	Milestones       []MilestoneDraft `json:"milestones,omitempty" validate:"dive"`
}

// Scope is step 7.
type Scope struct {
	InScope      []string `json:"inScope" validate:"min=1,dive,required"`
	OutOfScope   []string `json:"outOfScope,omitempty"`
	Deliverables []string `json:"deliverables,omitempty"`
	Assumptions  []string `json:"assumptions,omitempty"`
}

// Compliance is step 8: regulatory and security needs.
type Compliance struct {
	Standards            []string `json:"standards,omitempty"`
	SecurityRequirements []string `json:"securityRequirements,omitempty"`
	DataResidency        string   `json:"dataResidency,omitempty"`
	DataClassification   string   `json:"dataClassification,omitempty" validate:"omitempty,oneof=public internal confidential restricted"`
	Accessibility        string   `json:"accessibility,omitempty"`
}

// Deployment is the first half of step 9.
type Deployment struct {
	Environment string   `json:"environment" validate:"required,oneof=cloud on_premise hybrid"`
	Provider    string   `json:"provider,omitempty"`
	Regions     []string `json:"regions,omitempty"`
	CICD        bool     `json:"ciCd"`
	Monitoring  bool     `json:"monitoring"`
	Notes       string   `json:"notes,omitempty"`
}

// Team is the second half of step 9: staffing and risks in free text.
type Team struct {
	Size        int      `json:"size" validate:"gte=0"`
	Roles       []string `json:"roles,omitempty"`
	Notes       string   `json:"notes,omitempty"`
	Risks       string   `json:"risks,omitempty"`
	Constraints string   `json:"constraints,omitempty"`
}

// ProjectRequirements is the record collected by the intake wizard.
type ProjectRequirements struct {
	ID             string     `json:"id,omitempty"`
	OrganizationID string     `json:"organizationId,omitempty"`
	CreatedBy      string     `json:"createdBy,omitempty"`
	Status         string     `json:"status,omitempty"`
	CreatedAt      *time.Time `json:"createdAt,omitempty"`

	Basics     Basics     `json:"basics"`
	Contacts   Contacts   `json:"contacts"`
	Objectives Objectives `json:"objectives"`
	Platform   Platform   `json:"platform"`
	Technology Technology `json:"technology"`
	Timeline   Timeline   `json:"timeline"`
	Scope      Scope      `json:"scope"`
	Compliance Compliance `json:"compliance"`
	Deployment Deployment `json:"deployment"`
	Team       Team       `json:"team"`

	Tags         []string `json:"tags,omitempty"`
	Stakeholders []string `json:"stakeholders,omitempty"`
	KeyFeatures  []string `json:"keyFeatures,omitempty"`
}

// Clone returns a deep copy of the record.
func (r ProjectRequirements) Clone() (ProjectRequirements, error) {
	data, err := sonic.Marshal(r)
	if err != nil {
		return ProjectRequirements{}, err
	}
	var out ProjectRequirements
	if err := sonic.Unmarshal(data, &out); err != nil {
		return ProjectRequirements{}, err
	}
	return out, nil
}
