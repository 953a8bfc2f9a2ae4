package finalizer

import "errors"

// ErrSaveChatHistory matches every SaveError via errors.Is. The text is shown to end users
// verbatim in the error part of the data stream, hence the capitalised sentence.
var ErrSaveChatHistory = errors.New("Failed to save chat history")

// SaveError is returned by Finalize when the conversation could not be persisted. Its
// message is safe to show to end users; the cause is available through Unwrap.
type SaveError struct {
	Err error
}

func (e *SaveError) Error() string {
	return ErrSaveChatHistory.Error()
}

func (e *SaveError) Unwrap() error {
	return e.Err
}

func (e *SaveError) Is(target error) bool {
	return target == ErrSaveChatHistory
}
