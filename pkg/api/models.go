package api

type UploadResponse struct {
	TaskId string `json:"task_id"`
}

type CrackRequest struct {
	Salt string `json:"salt"`
}

type CrackResponse struct {
	TaskId string `json:"task_id"`
}

type TaskStatus struct {
	TaskId   string  `json:"task_id"`
	Status   string  `json:"status"`
	Progress float64 `json:"progress"`
	Cracked  int     `json:"cracked"`
	Total    int     `json:"total"`
	Message  *string `json:"message"`
}

type LogsQuery struct {
	Cursor int `schema:"cursor"`
}

type LogChunk struct {
	Lines  []string `json:"lines"`
	Cursor int      `json:"cursor"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

type HealthResponse struct {
	Status string `json:"status"`
}

type LogoutResponse struct {
	Ok bool `json:"ok"`
}
