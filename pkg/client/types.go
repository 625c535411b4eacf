package client

import "time"

// ReportResponse is returned after a report was applied.
type ReportResponse struct {
	Client  string    `json:"client"`
	Action  string    `json:"action"`
	State   string    `json:"state"`
	Time    time.Time `json:"time"`
	Records int       `json:"records"`
	Flushed bool      `json:"flushed"`
}

// Record is one stored run record. Document holds the record element
// serialized as XML, payload included.
type Record struct {
	State    string `json:"state"`
	Clean    bool   `json:"clean"`
	Time     string `json:"time"`
	Document string `json:"document"`
}

// Node is the retained statistics of one client.
type Node struct {
	Name    string   `json:"name"`
	Records []Record `json:"records"`
}

// FlushResponse reports whether a flush wrote the statistics file.
type FlushResponse struct {
	Flushed bool `json:"flushed"`
}

// StoreStatus summarizes the statistics store.
type StoreStatus struct {
	Path      string    `json:"path"`
	Format    string    `json:"format"`
	Clients   int       `json:"clients"`
	Dirty     bool      `json:"dirty"`
	LastWrite time.Time `json:"last_write"`
	Conflicts []string  `json:"conflicts,omitempty"`
}

// ProcessInfo is the server's own resource usage.
type ProcessInfo struct {
	PID        int32   `json:"pid"`
	CPUPercent float64 `json:"cpu_percent"`
	MemoryMB   float64 `json:"memory_mb"`
	NumThreads int32   `json:"num_threads"`
	Goroutines int     `json:"goroutines"`
}

// Health is returned by the healthz endpoint.
type Health struct {
	Status  string       `json:"status"`
	Store   StoreStatus  `json:"store"`
	Process *ProcessInfo `json:"process,omitempty"`
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error string `json:"error"`
}
