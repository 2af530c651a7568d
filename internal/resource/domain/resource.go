package domain

// Resource is a protected application or service entry from the resource catalog.
type Resource struct {
	ID          string
	Name        string
	Type        ResourceType
	Sensitivity Sensitivity
	Segment     string
	Owner       string
	Tags        map[string]string
}

// ResourceType classifies what kind of thing is being protected.
type ResourceType string

const (
	TypeApplication    ResourceType = "application"
	TypeAPI            ResourceType = "api"
	TypeDatabase       ResourceType = "database"
	TypeFileShare      ResourceType = "file_share"
	TypeNetwork        ResourceType = "network"
	TypeService        ResourceType = "service"
	TypeInfrastructure ResourceType = "infrastructure"
)

// Sensitivity is the data classification of a resource. Higher is more sensitive.
type Sensitivity int

const (
	SensitivityPublic Sensitivity = iota
	SensitivityInternal
	SensitivityConfidential
	SensitivityRestricted
	SensitivityTopSecret
)

// RequiresMFA reports whether the classification mandates a verified second factor.
// Confidential and above require MFA.
func (s Sensitivity) RequiresMFA() bool {
	return s >= SensitivityConfidential
}

// RequiresRecording reports whether the classification mandates session recording.
func (s Sensitivity) RequiresRecording() bool {
	return s >= SensitivityRestricted
}

func (s Sensitivity) String() string {
	switch s {
	case SensitivityPublic:
		return "public"
	case SensitivityInternal:
		return "internal"
	case SensitivityConfidential:
		return "confidential"
	case SensitivityRestricted:
		return "restricted"
	case SensitivityTopSecret:
		return "top_secret"
	default:
		return "unknown"
	}
}
