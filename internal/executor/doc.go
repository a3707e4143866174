/*
Package executor performs API calls with bounded retries and a uniform
(status, body) result.

# Request Flow

Client.Do builds the request from a types.Request:
  - []byte payloads are sent verbatim, other non-nil payloads as JSON
  - Accept and Content-Type are always application/json
  - a non-empty Token becomes an "Authorization: Bearer" header
  - the URL is the client's base URL followed by the request path

# Response Classification

Any well-formed HTTP response, whatever its status, is returned as a
types.Outcome:
  - Content-Type containing application/json: the body is decoded (an
    empty body becomes an empty object)
  - other content types on a success status: raw bytes
  - other content types, or undecodable JSON, on an error status
    (>= 400): {"error": <text>}

A successful response that claims JSON but does not decode is an error
(ErrDecode); only the error path degrades to text.

# Retries

Only transport failures are retried: connection refused, DNS failure, a
per-attempt timeout before the response is read. Application errors
(4xx/5xx) are returned as they are. The wait after failed attempt n is
RetryPolicy.BackoffUnit * n. When every attempt fails, Do returns status
599 and {"error": <last error>}. Set ClientConfig.FailOnExhaustion to also
get a *TransportError.

Cancelling the caller's context stops Do immediately, including during a
backoff wait.

# Example Usage

	client, err := executor.NewClient(executor.ClientConfig{
		BaseURL: "http://localhost:3000",
	})
	if err != nil {
		return err
	}

	outcome, err := client.Do(ctx, types.Request{
		Method:  "POST",
		Path:    "/api/users/login",
		Payload: map[string]any{"email": email, "password": password},
	})
	if err != nil {
		return err
	}
	fmt.Println(outcome.Status, outcome.Body())

# Thread Safety

Client is safe for concurrent use. All calls share one pooled transport.
*/
package executor
