package types

// Version describes this build of gradesync.
// Software is compared against the software_version field of an
// assignment config; a config that asks for a newer release is refused.
type Version struct {
	Version  string `json:"version"`
	Software string `json:"software"`
}

var CurrentVersion = Version{
	Version:  "1.2.0",
	Software: "0.6.0",
}
