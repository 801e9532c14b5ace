// Package portal is an HTTP client for the image-to-3D portal backend.
//
// Non-upload request bodies are JSON. Uploads are multipart with a "file"
// part and an optional "username" field. Error bodies carry a "detail"
// (or "error") string that is surfaced verbatim.
package portal

// Credentials is a username/password pair for register and login.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResult is the body returned by POST /login.
type LoginResult struct {
	Token   string `json:"token"`
	IsAdmin bool   `json:"is_admin"`
}

// User is one entry of the admin user list. Any password field the
// backend sends is dropped during decoding.
type User struct {
	Username string `json:"username"`
	IsAdmin  bool   `json:"is_admin"`
}

// UploadRequest is one artifact to submit.
type UploadRequest struct {
	FileName string
	Data     []byte

	// Username is sent as a form field when set.
	Username string
}

// UploadResult is the body returned by POST /upload. Asynchronous
// deployments return TaskID; synchronous ones return DownloadURL directly.
type UploadResult struct {
	TaskID      string `json:"task_id,omitempty"`
	DownloadURL string `json:"download_url,omitempty"`
	ModelFile   string `json:"model_file,omitempty"`
}

// TaskStatus is the body returned by GET /task-status/{id}.
type TaskStatus struct {
	Status string `json:"status"`

	// Progress is the backend-reported percentage, when it reports one.
	Progress *int `json:"progress,omitempty"`

	// DownloadURL overrides the default /download/{id} location.
	DownloadURL string `json:"download_url,omitempty"`
}

// errorBody covers the error shapes the backend emits: {"detail": "..."},
// {"detail": [{"msg": "..."}]} for validation failures, and
// {"error": "...", "details": ...}.
type errorBody struct {
	Detail any    `json:"detail"`
	Error  string `json:"error"`
}

// Download is a fetched artifact.
type Download struct {
	Data []byte

	// FileName is the Content-Disposition file name, when the server sent
	// a usable one.
	FileName string
}
