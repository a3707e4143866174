/*
Package types defines the data structures shared across medprobe.

# Request

Request describes one logical API call: method, path relative to the base
URL, optional bearer token, optional payload and a per-attempt timeout.
A []byte payload is sent verbatim; any other non-nil payload is encoded as
JSON.

# Outcome

Outcome is the uniform result of a call. Callers switch on Kind rather
than guessing from the body type:

  - KindJSON: the response declared application/json; JSON holds the
    decoded value (an empty body decodes to an empty object)
  - KindRaw: successful response with another content type; Raw holds
    the bytes
  - KindErrorText: error status whose body was not JSON or failed to
    decode; JSON holds {"error": <text>}
  - KindUnreachable: no response within the retry budget; Status is 599
    and JSON holds {"error": <last transport error>}

Outcome.Body returns whichever of these is the canonical body.
*/
package types
