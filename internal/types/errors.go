// Package types holds payload shapes shared by the HTTP surfaces.
package types

type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// ErrorResponse is the body of every non-2xx REST reply, e.g.
// {"error": {"code": "STATION_404", "message": "Station not found", "details": 7}}.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// NewErrorResponse builds an API error payload. Codes are "<AREA>_<status>".
func NewErrorResponse(code, message string, details any) ErrorResponse {
	return ErrorResponse{
		Error: ErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}
