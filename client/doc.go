// Package client provides the transport layer of the forge API client,
// built on [net/http].
//
// # Building a Client
//
// Use [Build] to create a [Client] with functional options:
//
//	c, err := client.Build(
//		client.WithTimeout(30 * time.Second),
//		client.WithUserAgent("myapp/1.0"),
//	)
//
// # Making Requests
//
// Resolve a [URL] against the API base and construct a [Request]. The
// request builder never performs I/O; it attaches whatever credentials it
// is given:
//
//	u := client.URL(base, "/v1/auth/login")
//	req, err := client.Request(ctx, u, http.MethodPost,
//		client.WithBody(payload),
//		client.WithAPIKey(key),
//	)
//	err = c.Do(req, client.WithDestination(&result))
//
// # Errors
//
// Every failure returned by [Client.Do] is an *[Error]. Its [Kind] follows
// the fixed status-code table implemented by [Classify]; sentinel errors such
// as [ErrMissingCredential] and [ErrNetwork] are matched with [errors.Is].
//
// # Streams
//
// [Client.Open] executes a request whose body is read incrementally (for
// example text/event-stream) without the overall request timeout.
package client
