package event

// Filter reports whether representations of a kind must be refreshed.
type Filter func(kind string) bool

// AllRepresentations refreshes every representation.
func AllRepresentations(string) bool { return true }

// NoRepresentations refreshes nothing.
func NoRepresentations(string) bool { return false }

// KindsOf refreshes only the listed kinds.
func KindsOf(kinds ...string) Filter {
	return func(kind string) bool {
		for _, k := range kinds {
			if k == kind {
				return true
			}
		}
		return false
	}
}

// ErrorPayload is the payload of a failed response.
type ErrorPayload struct {
	Typename string `json:"__typename"`
	Message  string `json:"message"`
}

// Response is the outcome of dispatching an input. Exactly one of a success
// payload or an ErrorPayload is carried; Err is set only on failure.
// Warnings report problems that happened after a successful change was
// applied, such as a failed persist.
type Response struct {
	Success  bool
	Refresh  Filter
	Payload  any
	Err      error
	Warnings []string
}

// Succeeded builds a successful response.
func Succeeded(payload any, refresh Filter) Response {
	if refresh == nil {
		refresh = NoRepresentations
	}
	return Response{Success: true, Refresh: refresh, Payload: payload}
}

// Failed builds a failed response carrying err as an ErrorPayload.
func Failed(err error) Response {
	return Response{
		Success: false,
		Refresh: NoRepresentations,
		Payload: &ErrorPayload{Typename: "ErrorPayload", Message: err.Error()},
		Err:     err,
	}
}

// ShouldRefresh reports whether a representation of the given kind must be
// refreshed after this response.
func (r Response) ShouldRefresh(kind string) bool {
	return r.Success && r.Refresh != nil && r.Refresh(kind)
}
