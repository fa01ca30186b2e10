package resolver

import "fmt"

// FetchError reports a document that could not be retrieved or parsed.
// Fetches are never retried.
type FetchError struct {
	Locator string
	Relay   bool
	Err     error
}

func (e *FetchError) Error() string {
	if e.Relay {
		return fmt.Sprintf("fetch %s (via relay): %v", e.Locator, e.Err)
	}
	return fmt.Sprintf("fetch %s: %v", e.Locator, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }
