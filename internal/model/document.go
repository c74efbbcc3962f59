package model

const (
	DocumentStateIngesting = 0
	DocumentStateReady     = 1
)

type Document struct {
	ID        string `json:"id"`
	ApiKey    string `json:"-"`
	Namespace string `json:"namespace"`
	Filename  string `json:"filename"`
	SizeBytes int64  `json:"size_bytes"`
	Pages     int    `json:"pages"`
	Chunks    int    `json:"chunks"`
	State     int    `json:"state"`
	Ctime     int64  `json:"ctime"`
}
