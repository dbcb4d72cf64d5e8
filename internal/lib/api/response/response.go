package response

type Response struct {
	Data    interface{} `json:"data,omitempty"`
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
}

func Ok(data interface{}) Response {
	return Response{
		Data:    data,
		Success: true,
	}
}

func Error(message string) Response {
	return Response{
		Success: false,
		Message: message,
	}
}

// ErrorWithData reports a failure while still returning a payload to the caller.
func ErrorWithData(message string, data interface{}) Response {
	return Response{
		Data:    data,
		Success: false,
		Message: message,
	}
}
