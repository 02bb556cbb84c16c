package stanza

// Convenience constructors for the error conditions jsm/dialback/bus raise
// most often, saving callers the Type+Condition pair every time.

func ErrBadRequest(text string) *StanzaError {
	return NewStanzaError(ErrorTypeModify, ErrorBadRequest, text)
}

func ErrConflict(text string) *StanzaError {
	return NewStanzaError(ErrorTypeCancel, ErrorConflict, text)
}

func ErrFeatureNotImplemented(text string) *StanzaError {
	return NewStanzaError(ErrorTypeCancel, ErrorFeatureNotImplemented, text)
}

func ErrForbidden(text string) *StanzaError {
	return NewStanzaError(ErrorTypeAuth, ErrorForbidden, text)
}

func ErrItemNotFound(text string) *StanzaError {
	return NewStanzaError(ErrorTypeCancel, ErrorItemNotFound, text)
}

func ErrNotAllowed(text string) *StanzaError {
	return NewStanzaError(ErrorTypeCancel, ErrorNotAllowed, text)
}

func ErrNotAuthorized(text string) *StanzaError {
	return NewStanzaError(ErrorTypeAuth, ErrorNotAuthorized, text)
}

func ErrServiceUnavailable(text string) *StanzaError {
	return NewStanzaError(ErrorTypeCancel, ErrorServiceUnavailable, text)
}

func ErrInternalServerError(text string) *StanzaError {
	return NewStanzaError(ErrorTypeCancel, ErrorInternalServerError, text)
}

func ErrRecipientUnavailable(text string) *StanzaError {
	return NewStanzaError(ErrorTypeWait, ErrorRecipientUnavailable, text)
}

func ErrRemoteServerNotFound(text string) *StanzaError {
	return NewStanzaError(ErrorTypeCancel, ErrorRemoteServerNotFound, text)
}
