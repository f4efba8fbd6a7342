package httpsink

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	perr "extractrelay/internal/platform/errors"
	"extractrelay/internal/services/delivery/domain"
)

// Envelope is the JSON body of a delivery
type Envelope struct {
	MessageID      string `json:"messageId"`
	OrganisationID string `json:"organisationId"`
	Software       string `json:"software"`
	Version        string `json:"version"`
	Timestamp      string `json:"timestamp"`
	// Payload is the base64 of a zip holding every file of the split folder
	Payload string `json:"payload"`
}

// Send posts one split. Only HTTP 200 acknowledges; any other status returns a
// Receipt carrying the status line and first two body lines alongside a delivery error
func (c *Client) Send(ctx context.Context, m domain.Message) (domain.Receipt, error) {
	var rc domain.Receipt
	payload, err := zipDir(m.Dir)
	if err != nil {
		return rc, err
	}
	body, err := json.Marshal(Envelope{
		MessageID:      c.newID(),
		OrganisationID: m.Org,
		Software:       c.opts.Software,
		Version:        c.opts.SoftwareVersion,
		Timestamp:      c.now().Format(c.opts.DateLayout),
		Payload:        base64.StdEncoding.EncodeToString(payload),
	})
	if err != nil {
		return rc, perr.Wrap(err, perr.ErrorCodeJSON, "encode envelope")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.opts.Endpoint, bytes.NewReader(body))
	if err != nil {
		return rc, perr.Wrapf(err, perr.ErrorCodeUnknown, "httpsink new request failed")
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)
	c.annotate(req.Header, m)

	resp, err := c.http.Do(req)
	if err != nil {
		return rc, perr.Wrap(err, perr.ErrorCodeUnavailable, "send")
	}
	rc.Status = resp.StatusCode
	if resp.StatusCode != http.StatusOK {
		rc.Detail = statusDetail(resp)
		return rc, perr.Newf(perr.ErrorCodeDelivery, "consumer answered %d", resp.StatusCode)
	}
	_ = drainAndClose(resp.Body)
	return rc, nil
}

// annotate sets the split headers. IsBulk is only sent when true and HasPatientData only when false
func (c *Client) annotate(h http.Header, m domain.Message) {
	if m.IsBulk {
		h.Set("IsBulk", "true")
	}
	if !m.HasPatientData {
		h.Set("HasPatientData", "false")
	}
	h.Set("TotalFileSize", strconv.FormatInt(m.TotalBytes, 10))
	if m.ExtractDate != nil {
		h.Set("ExtractDate", m.ExtractDate.UTC().Format(c.opts.DateLayout))
	}
	if m.ExtractCutoff != nil {
		h.Set("ExtractCutoff", m.ExtractCutoff.UTC().Format(c.opts.DateLayout))
	}
}

// workFile reports leftovers of in-place rewrites that are never delivered
func workFile(name string) bool {
	for _, suf := range []string{".part", ".kept", ".pre-gap"} {
		if strings.HasSuffix(name, suf) {
			return true
		}
	}
	return false
}

// zipDir archives the regular files below dir with paths relative to it
func zipDir(dir string) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil || !d.Type().IsRegular() || workFile(d.Name()) {
			return err
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		w, err := zw.Create(filepath.ToSlash(rel))
		if err != nil {
			return err
		}
		f, err := os.Open(p)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(w, f)
		return err
	})
	if err == nil {
		err = zw.Close()
	}
	if err != nil {
		return nil, perr.Wrapf(err, perr.ErrorCodeIO, "zip %s", dir)
	}
	return buf.Bytes(), nil
}
