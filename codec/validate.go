package codec

import (
	"fmt"
	"net/http"

	"golang.org/x/net/http/httpguts"
)

// ValidateHeader rejects header field names/values that would corrupt the
// wire framing if written verbatim, the way the teacher's transport.go does
// before RoundTrip ever reaches the connection.
func ValidateHeader(h http.Header) error {
	for k, vv := range h {
		if !httpguts.ValidHeaderFieldName(k) {
			return fmt.Errorf("%w: invalid header field name %q", ErrMalformedResponse, k)
		}
		for _, v := range vv {
			if !httpguts.ValidHeaderFieldValue(v) {
				return fmt.Errorf("%w: invalid header field value %q for key %q", ErrMalformedResponse, v, k)
			}
		}
	}
	return nil
}
