package models

const (
	AppStatusPending    = "pending"
	AppStatusReady      = "ready"
	AppStatusProcessing = "processing"
	AppStatusValid      = "valid"
	AppStatusInvalid    = "invalid"
)

// Application (order) requests a certificate covering a set of names.
// certificate is set only once Status reaches valid; requirements are
// back references to Authorization objects, never ownership.
type Application struct {
	UUID         string        `json:"-"`
	Thumbprint   string        `json:"-"`
	Status       string        `json:"status"`
	NotBefore    string        `json:"notBefore,omitempty"`
	NotAfter     string        `json:"notAfter,omitempty"`
	Requirements []Requirement `json:"requirements"`
	Certificate  string        `json:"certificate,omitempty"`
	FinalizeURL  string        `json:"finalize"`
}

func NewApplication(id, thumbprint, finalizeURL string) *Application {
	return &Application{
		UUID:        id,
		Thumbprint:  thumbprint,
		Status:      AppStatusPending,
		FinalizeURL: finalizeURL,
	}
}

func (a *Application) TypeTag() string { return TypeApplication }
func (a *Application) ID() string      { return a.UUID }

func (a *Application) Marshal() any { return a }

// MarkReady transitions pending -> ready iff every requirement reports
// status valid. Called whenever a requirement is rewritten.
func (a *Application) MarkReady() {
	if a.Status != AppStatusPending {
		return
	}
	for _, r := range a.Requirements {
		if r.Status != AuthzStatusValid {
			return
		}
	}
	a.Status = AppStatusReady
}
