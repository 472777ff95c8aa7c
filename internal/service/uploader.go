package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/CZERTAINLY/Herald/internal/model"
)

// StdoutDir as service.dir writes reports to the standard output.
const StdoutDir = "-"

func uploaders(_ context.Context, cfg model.Service) ([]model.Uploader, error) {
	var uploaders []model.Uploader
	switch cfg.Dir {
	case "":
	case StdoutDir:
		uploaders = append(uploaders, NewWriteUploader(os.Stdout))
	default:
		u, err := NewOSRootUploader(cfg.Dir)
		if err != nil {
			return nil, err
		}
		uploaders = append(uploaders, u)
	}

	if cfg.Repository != nil && cfg.Repository.Enabled {
		u, err := NewHTTPUploader(cfg.Repository.URL)
		if err != nil {
			for _, u := range uploaders {
				if c, ok := u.(model.UploadCloser); ok {
					_ = c.Close()
				}
			}
			return nil, err
		}
		uploaders = append(uploaders, u)
	}
	return uploaders, nil
}

type WriteUploader struct {
	w io.Writer
}

func NewWriteUploader(w io.Writer) WriteUploader {
	return WriteUploader{w: w}
}

func (u WriteUploader) Upload(_ context.Context, raw []byte) error {
	if u.w == nil {
		u.w = os.Stdout
	}
	_, err := u.w.Write(raw)
	return err
}

// OSRootUploader stores every upload as a new file in a directory.
type OSRootUploader struct {
	root *os.Root
	now  func() time.Time
}

func NewOSRootUploader(path string) (*OSRootUploader, error) {
	root, err := os.OpenRoot(path)
	if err != nil {
		return nil, err
	}
	return &OSRootUploader{root: root, now: time.Now}, nil
}

func (u *OSRootUploader) Upload(ctx context.Context, b []byte) error {
	if u.root == nil {
		return errors.New("root already closed")
	}

	path := "herald-" + u.now().Format("2006-01-02-15-04-05.000") + ".json"

	f, err := u.root.Create(path)
	if err != nil {
		return fmt.Errorf("creating run report: %w", err)
	}
	_, err = f.Write(b)
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("saving run report: %w", err)
	}
	err = f.Close()
	if err != nil {
		return fmt.Errorf("closing run report: %w", err)
	}
	slog.InfoContext(ctx, "run report saved", "path", path)
	return nil
}

func (u *OSRootUploader) Close() error {
	if u.root == nil {
		return errors.New("uploader already closed")
	}
	err := u.root.Close()
	u.root = nil
	return err
}

// HTTPUploader POSTs reports to a repository endpoint.
type HTTPUploader struct {
	requestURL *url.URL
	client     *http.Client
}

func NewHTTPUploader(serverURL string) (*HTTPUploader, error) {
	parsedURL, err := url.Parse(serverURL)
	if err != nil {
		return nil, err
	}
	if (parsedURL.Scheme != "http" && parsedURL.Scheme != "https") || parsedURL.Host == "" {
		return nil, errors.New("please define the repository url with a http(s) scheme, e.g. `http://some-url.com/api/v1/runs`")
	}

	return &HTTPUploader{
		requestURL: parsedURL,
		client:     &http.Client{Timeout: time.Minute},
	}, nil
}

func (c *HTTPUploader) Upload(ctx context.Context, raw []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.requestURL.String(), bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if err := c.checkResponse(resp); err != nil {
		return err
	}
	slog.DebugContext(ctx, "run reports uploaded successfully.", slog.String("url", c.requestURL.String()))
	return nil
}

func (c *HTTPUploader) checkResponse(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	contentType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if contentType == "application/problem+json" {
		var problemDetail struct {
			Detail string `json:"detail"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&problemDetail); err != nil {
			return fmt.Errorf("decoding json response failed: %w", err)
		}
		return fmt.Errorf("status code: %d, detail: %s", resp.StatusCode, problemDetail.Detail)
	}

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return err
	}
	return fmt.Errorf("unknown error, status: %d, body: %s", resp.StatusCode, string(respBody))
}
