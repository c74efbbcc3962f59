package model

const (
	OpUpload   = "upload"
	OpQuestion = "question"
)

// ApiKey binds one identity (authenticated user or anonymous device) to a
// usage-counted credential. Identity is "user:<uid>" or "device:<hash>".
type ApiKey struct {
	Key         string `json:"key"`
	Identity    string `json:"identity"`
	Uploads     int64  `json:"uploads"`
	Questions   int64  `json:"questions"`
	WindowStart int64  `json:"window_start"`
	Ctime       int64  `json:"ctime"`
	ExpiresAt   int64  `json:"expires_at"`
}
