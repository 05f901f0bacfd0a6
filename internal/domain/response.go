package domain

// Response is the envelope returned to the platform after a request has been
// handled. Only the plain-speech surface is modeled; richer response types are
// the application's concern.
type Response struct {
	Version  string       `json:"version"`
	Response ResponseBody `json:"response"`
}

// ResponseBody holds the speech output and session directive.
type ResponseBody struct {
	OutputSpeech     *OutputSpeech `json:"outputSpeech,omitempty"`
	ShouldEndSession bool          `json:"shouldEndSession"`
}

// OutputSpeech is a plain-text speech fragment.
type OutputSpeech struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// NewSpeechResponse builds a plain-text speech response.
func NewSpeechResponse(text string, endSession bool) *Response {
	return &Response{
		Version: "1.0",
		Response: ResponseBody{
			OutputSpeech:     &OutputSpeech{Type: "PlainText", Text: text},
			ShouldEndSession: endSession,
		},
	}
}

// NewEmptyResponse builds a response with no speech output.
func NewEmptyResponse(endSession bool) *Response {
	return &Response{
		Version:  "1.0",
		Response: ResponseBody{ShouldEndSession: endSession},
	}
}
