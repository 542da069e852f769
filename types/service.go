package types

// Parameter classes, matching the host's cleaning rules.
const (
	ParamAlphanumExt = "alphanumext"
	ParamEmail       = "email"
	ParamRaw         = "raw"
	ParamText        = "text"
)

const (
	SaveGradeFunction  = "local_practicalgrader_save"
	ServiceName        = "Practical_Grader"
	ServiceShortName   = "Practical_Grades"
	ServiceCapability  = "local/practicalgrader:grade"
	ServiceDescription = "Saves a practical activity feedback and grade"
)

// ExternalValue describes one parameter or return value of a web service function.
type ExternalValue struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description"`
	Required    bool   `json:"required"`
}

// ExternalFunction declares a callable web service function.
type ExternalFunction struct {
	Name        string           `json:"name"`
	Description string           `json:"description"`
	Type        string           `json:"type"` // read or write
	Parameters  []*ExternalValue `json:"parameters"`
	Returns     *ExternalValue   `json:"returns"`
}

// ExternalService groups functions behind one access gate.
type ExternalService struct {
	Name               string   `json:"name"`
	ShortName          string   `json:"shortname"`
	Functions          []string `json:"functions"`
	RequiredCapability string   `json:"requiredCapability"`
	RestrictedUsers    bool     `json:"restrictedUsers"`
	Enabled            bool     `json:"enabled"`
}

var Functions = map[string]*ExternalFunction{
	SaveGradeFunction: {
		Name:        SaveGradeFunction,
		Description: ServiceDescription,
		Type:        "write",
		Parameters: []*ExternalValue{
			{Name: "activityidnumber", Type: ParamAlphanumExt, Description: "activity idnumber", Required: true},
			{Name: "studentemail", Type: ParamEmail, Description: "student email address", Required: true},
			{Name: "activitygrade", Type: ParamRaw, Description: "activity grade", Required: true},
		},
		Returns: &ExternalValue{Name: "result", Type: ParamText, Description: "result of operation"},
	},
}

var Services = []*ExternalService{
	{
		Name:               ServiceName,
		ShortName:          ServiceShortName,
		Functions:          []string{SaveGradeFunction},
		RequiredCapability: ServiceCapability,
		Enabled:            true,
	},
}

// ServiceFor returns the service that exposes the named function, or nil.
func ServiceFor(function string) *ExternalService {
	for _, service := range Services {
		for _, name := range service.Functions {
			if name == function {
				return service
			}
		}
	}
	return nil
}

// SaveGradeParams is the parameter set of local_practicalgrader_save.
type SaveGradeParams struct {
	ActivityIDNumber string `json:"activityidnumber" form:"activityidnumber"`
	StudentEmail     string `json:"studentemail" form:"studentemail"`
	ActivityGrade    string `json:"activitygrade" form:"activitygrade"`
}

// ErrorResponse is the body returned for every failed call.
type ErrorResponse struct {
	Exception string `json:"exception"`
	ErrorCode string `json:"errorcode"`
	Message   string `json:"message"`
}
