package types

type Version struct {
	Version                  string `json:"version"`
	PgradeVersionRequired    string `json:"pgradeVersionRequired"`
	PgradeVersionRecommended string `json:"pgradeVersionRecommended"`
}

var CurrentVersion = Version{
	Version:                  "1.2.0",
	PgradeVersionRequired:    "1.1.0",
	PgradeVersionRecommended: "1.2.0",
}
