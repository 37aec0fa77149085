// Package models defines the data types shared between GreetPipe transports, stores and the API.
package models

// MessageStatus represents the delivery status of an outbound line.
type MessageStatus string

const (
	// MessageStatusSent indicates the line was handed to the transport.
	MessageStatusSent MessageStatus = "sent"
	// MessageStatusFailed indicates the transport rejected the line.
	MessageStatusFailed MessageStatus = "failed"
)

// Receipt records one outbound line.
type Receipt struct {
	To     string        `json:"to"`
	Status MessageStatus `json:"status"`
	Time   int64         `json:"time"`
}

// APIStatus represents the status of an API response.
type APIStatus string

const (
	// APIStatusOK indicates an API request completed successfully.
	APIStatusOK APIStatus = "ok"
	// APIStatusError indicates an API request failed with an error.
	APIStatusError APIStatus = "error"
)

// APIResponse represents a standard API response with a status and optional data.
type APIResponse struct {
	Status  string      `json:"status"`
	Message string      `json:"message,omitempty"`
	Result  interface{} `json:"result,omitempty"`
}

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Result: result}
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return APIResponse{Status: string(APIStatusError), Message: message}
}
