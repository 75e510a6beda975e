package session

import "errors"

var (
	// ErrDirectoryUnavailable means the endpoint list could not be fetched.
	// The previous list is kept.
	ErrDirectoryUnavailable = errors.New("directory unavailable")

	// ErrSelectionRejected means a selection was refused: the endpoint is
	// unknown or a session is in progress.
	ErrSelectionRejected = errors.New("selection rejected")

	// ErrConnectFailed means an open-session request failed or was refused.
	ErrConnectFailed = errors.New("connect failed")

	// ErrDisconnectFailed means a close-session request failed or was
	// refused. The local session is dropped regardless.
	ErrDisconnectFailed = errors.New("disconnect failed")

	// ErrClosed is returned by Controller methods after Close.
	ErrClosed = errors.New("controller closed")
)

func refusal(message, fallback string) error {
	if message == "" {
		message = fallback
	}
	return errors.New(message)
}
