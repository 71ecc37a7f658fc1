package model

// DefaultApplications are seeded into an empty catalogue on first boot so a
// fresh cluster can run scripts and pings without registration.
func DefaultApplications() map[ApplicationID]ApplicationAttributes {
	return map[ApplicationID]ApplicationAttributes{
		"flmexec": {
			Shim:        ShimHost,
			Description: "runs user scripts inside a reusable host service",
			Command:     "/usr/local/flame/bin/flmexec-service",
			Schema: &ApplicationSchema{
				Input:  `{"type":"object","properties":{"language":{"type":"string"},"code":{"type":"string"}},"required":["language","code"]}`,
				Output: `{"type":"string"}`,
			},
			MaxInstances: 128,
		},
		"flmping": {
			Shim:         ShimHost,
			Description:  "echo service used by connectivity checks",
			Command:      "/usr/local/flame/bin/flmping-service",
			MaxInstances: 128,
		},
	}
}
