package models

// Batch is the payload the http sink POSTs to the ingest endpoint.
type Batch struct {
	ID       string    `json:"id"`
	Agent    Agent     `json:"agent"`
	Readings []Reading `json:"readings"`
}

// Agent identifies the sending agent.
type Agent struct {
	Version  string `json:"version"`
	Hostname string `json:"hostname"`
	OS       string `json:"os"`
	Platform string `json:"platform,omitempty"`
}
