package session

// Navigator sends the user agent to a URL. The CLI opens a browser; the
// console answers with an HTTP redirect and uses NoopNavigator.
type Navigator interface {
	Navigate(url string) error
}

// NavigatorFunc adapts a function to Navigator.
type NavigatorFunc func(url string) error

// Navigate calls f(url).
func (f NavigatorFunc) Navigate(url string) error {
	return f(url)
}

// NoopNavigator does nothing.
type NoopNavigator struct{}

// Navigate returns nil.
func (NoopNavigator) Navigate(string) error { return nil }
