package httpsink

import (
	"context"
	"net/url"
	"strings"

	perr "extractrelay/internal/platform/errors"
)

// HasAgreement performs GET <agreement_endpoint>/<org> and reads the configured boolean field.
// A non-200 answer is a transient error, not a denial
func (c *Client) HasAgreement(ctx context.Context, org string) (bool, error) {
	u := strings.TrimRight(c.opts.AgreementEndpoint, "/") + "/" + url.PathEscape(org)
	var body map[string]any
	if err := c.getJSON(ctx, u, &body); err != nil {
		return false, err
	}
	v, ok := body[c.opts.AgreementField].(bool)
	if !ok {
		return false, perr.Newf(perr.ErrorCodeUnavailable, "agreement response for %s has no boolean %q", org, c.opts.AgreementField)
	}
	return v, nil
}
