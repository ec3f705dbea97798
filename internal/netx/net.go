// Package netx contains plain HTTP helpers used outside the API pipeline.
package netx

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
)

// TransferError reports a non-2xx answer from an object-storage endpoint.
type TransferError struct {
	Status int
	Body   string
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("upload rejected: %d %s; body: %s", e.Status, http.StatusText(e.Status), e.Body)
}

// PutPresigned uploads data with a bare PUT to a presigned URL. No
// credentials are attached: the URL itself carries the authorization.
// A nil client falls back to http.DefaultClient.
func PutPresigned(ctx context.Context, client *http.Client, url string, data []byte, contentType string) error {
	if client == nil {
		client = http.DefaultClient
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &TransferError{Status: resp.StatusCode, Body: string(b)}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
