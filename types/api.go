package types

// Wire shapes of the HiveDB HTTP API. Error responses carry
// {"detail": message}.

type AuthToken struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type"`
	UserID       int64  `json:"user_id"`
	Username     string `json:"username"`
	Email        string `json:"email"`
	IsAdmin      bool   `json:"is_admin"`
}

type Account struct {
	ID       int64  `json:"id"`
	Email    string `json:"email"`
	Username string `json:"username"`
	IsActive bool   `json:"is_active"`
	IsAdmin  bool   `json:"is_admin"`
}

type CellInfo struct {
	ID        int64  `json:"id"`
	Key       string `json:"key"`
	CreatedAt string `json:"created_at"`
}

type DataEntry struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type KeyList struct {
	Keys []string `json:"keys"`
}

type QueryRequest struct {
	Filter map[string]interface{} `json:"filter,omitempty"`
	Sort   []string               `json:"sort,omitempty"`
	Limit  int                    `json:"limit,omitempty"`
}

type QueryResponse struct {
	Results []map[string]interface{} `json:"results"`
	Count   int                      `json:"count"`
}

type AdminStats struct {
	Users        int64   `json:"users"`
	Cells        int64   `json:"cells"`
	StorageBytes int64   `json:"storage_bytes"`
	StorageMB    float64 `json:"storage_mb"`
}

type ErrorBody struct {
	Detail string `json:"detail"`
}
