package directline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"os"
	"path/filepath"

	"dlbridge/internal/domain"
)

const activityPartType = "application/vnd.microsoft.activity"

// Upload posts one serialized activity plus its media attachments as a
// multipart body to the conversation upload endpoint. The assigned
// identifier from the response is returned; a response without one is a
// send failure.
//
// Media is resolved before any network work: an in-memory buffer is used
// as-is, a local path is read only when allowUnsafeIO is granted, and a
// download URI is fetched. A disallowed local path aborts the whole upload
// with a security error.
func (c *Client) Upload(ctx context.Context, rawActivity []byte, media []domain.Attachment, userID string, allowUnsafeIO bool) (string, error) {
	parts := make([][]byte, 0, len(media))
	for _, m := range media {
		data, err := c.resolveMedia(ctx, m, allowUnsafeIO)
		if err != nil {
			return "", err
		}
		parts = append(parts, data)
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", `form-data; name="activity"`)
	header.Set("Content-Type", activityPartType)
	part, err := writer.CreatePart(header)
	if err != nil {
		return "", fmt.Errorf("build upload body: %w", err)
	}
	if _, err := part.Write(rawActivity); err != nil {
		return "", fmt.Errorf("build upload body: %w", err)
	}

	for i, m := range media {
		name := m.Name
		if name == "" {
			name = fmt.Sprintf("attachment-%d", i)
		}
		mimeType := m.MimeType
		if mimeType == "" {
			mimeType = "application/octet-stream"
		}
		h := textproto.MIMEHeader{}
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, name))
		h.Set("Content-Type", mimeType)
		part, err := writer.CreatePart(h)
		if err != nil {
			return "", fmt.Errorf("build upload body: %w", err)
		}
		if _, err := part.Write(parts[i]); err != nil {
			return "", fmt.Errorf("build upload body: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("build upload body: %w", err)
	}

	endpoint := fmt.Sprintf("%s/conversations/%s/upload?userId=%s",
		c.domain, c.ConversationID(), url.QueryEscape(userID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+c.Token())

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("upload: %w", err)
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("upload: status %d: %s", resp.StatusCode, truncate(respBody))
	}
	var rr resourceResponse
	if err := json.Unmarshal(respBody, &rr); err != nil || rr.ID == "" {
		return "", fmt.Errorf("upload: response carries no id")
	}
	return rr.ID, nil
}

func (c *Client) resolveMedia(ctx context.Context, m domain.Attachment, allowUnsafeIO bool) ([]byte, error) {
	switch {
	case len(m.Buffer) > 0:
		return m.Buffer, nil
	case m.LocalPath != "":
		if !allowUnsafeIO {
			return nil, &domain.SecurityError{
				Op:     "read media file " + filepath.Base(m.LocalPath),
				Reason: "local file attachments require the unsafe I/O capability",
			}
		}
		data, err := os.ReadFile(m.LocalPath)
		if err != nil {
			return nil, fmt.Errorf("read media file: %w", err)
		}
		return data, nil
	case m.DownloadURI != "":
		return c.fetchMedia(ctx, m.DownloadURI)
	default:
		return nil, fmt.Errorf("media item %q has no buffer, path or uri", m.Name)
	}
}

func (c *Client) fetchMedia(ctx context.Context, uri string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch media %s: %w", uri, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("fetch media %s: status %d", uri, resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("fetch media %s: %w", uri, err)
	}
	return data, nil
}
