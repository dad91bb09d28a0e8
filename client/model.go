package client

// maxBodySize caps the amount of response body read into memory.
// It prevents unbounded memory usage when a misbehaving server
// streams a huge response into a request/response call.
const maxBodySize = 8 << 20 // 8MB

// Header names sent with every API call.
const (
	HeaderAPIKey        = "API-KEY"
	HeaderClient        = "Client"
	HeaderAuthorization = "Authorization"
)
