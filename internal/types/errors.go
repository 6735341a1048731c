package types

// API error codes
const (
	CodeBadRequest    = "DEVICE_400"
	CodeNotFound      = "DEVICE_404"
	CodeNotConnected  = "DEVICE_409"
	CodeInternal      = "DEVICE_500"
	CodeDeviceFailure = "DEVICE_502"
	CodeTimeout       = "DEVICE_504"

	CodeNoRegisters    = "MONITOR_400"
	CodeAlreadyRunning = "MONITOR_409"
	CodeNoData         = "DATA_404"
	CodeUnavailable    = "SYSTEM_503"
)

type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// NewErrorResponse builds a consistent API error payload.
// details can be string, map, struct, etc.
func NewErrorResponse(code, message string, details any) ErrorResponse {
	return ErrorResponse{
		Error: ErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}
