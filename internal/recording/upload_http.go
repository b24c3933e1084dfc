package recording

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/oszuidwest/zwfm-screenrec/internal/media"
	"github.com/oszuidwest/zwfm-screenrec/internal/types"
)

// httpUploadTimeout bounds the token request and the upload request together.
const httpUploadTimeout = 5 * time.Minute

// HTTPConfig holds configuration for uploading to an HTTP endpoint.
type HTTPConfig struct {
	URL          string   `json:"url,omitempty" toml:"url" validate:"omitempty,url"` // Base URL; the object path is appended
	TokenURL     string   `json:"token_url,omitempty" toml:"token_url" validate:"omitempty,url"`
	ClientID     string   `json:"client_id,omitempty" toml:"client_id"`
	ClientSecret string   `json:"client_secret,omitempty" toml:"client_secret"`
	Scopes       []string `json:"scopes,omitempty" toml:"scopes"`
}

// IsConfigured returns true if an upload URL is set.
func (c *HTTPConfig) IsConfigured() bool {
	return c.URL != ""
}

// HTTPUploader PUTs recordings to an HTTP endpoint, authenticating with an
// OAuth2 client-credentials token when a token URL is configured.
type HTTPUploader struct {
	base       *url.URL
	httpClient *http.Client
}

// NewHTTPUploader creates an HTTP uploader for cfg.
func NewHTTPUploader(cfg *HTTPConfig) (*HTTPUploader, error) {
	if !cfg.IsConfigured() {
		return nil, fmt.Errorf("upload URL is required")
	}
	base, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse upload URL: %w", err)
	}

	baseClient := &http.Client{Timeout: httpUploadTimeout}
	client := baseClient
	if cfg.TokenURL != "" {
		if cfg.ClientID == "" || cfg.ClientSecret == "" {
			return nil, fmt.Errorf("client ID and client secret are required with a token URL")
		}
		conf := &clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
			Scopes:       cfg.Scopes,
		}
		ctx := context.WithValue(context.Background(), oauth2.HTTPClient, baseClient)
		client = conf.Client(ctx)
	}

	return &HTTPUploader{base: base, httpClient: client}, nil
}

// httpErrorBody is the error document returned by the upload endpoint.
type httpErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Upload sends blob with a PUT to <base>/<userID>/<filename>.
func (u *HTTPUploader) Upload(ctx context.Context, userID string, blob media.Blob, filename string, onProgress func(Progress)) error {
	target := u.base.JoinPath(sanitizeFilename(userID), filename)
	body := newProgressReader(blob.Data, onProgress)

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, target.String(), body)
	if err != nil {
		return types.NewError(types.ClassUpload, fmt.Errorf("create request: %w", err))
	}
	req.ContentLength = blob.Size()
	req.Header.Set("Content-Type", blob.MIMEType)

	resp, err := u.httpClient.Do(req)
	if err != nil {
		slog.Error("upload failed", "url", target.String(), "error", err)
		return requestError(err)
	}
	defer resp.Body.Close() //nolint:errcheck // Response body close errors are non-actionable

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		err := responseError(resp)
		slog.Error("upload rejected", "url", target.String(), "status", resp.StatusCode, "error", err)
		return err
	}

	body.finish()
	slog.Info("upload completed", "url", target.String(), "bytes", blob.Size())
	return nil
}

// requestError classifies a transport failure, including a failed token fetch.
func requestError(err error) error {
	re := &types.RecordingError{Class: types.ClassUpload, Code: "NetworkError", Message: err.Error(), Err: err}
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		re.Code = "TokenError"
		if retrieveErr.ErrorCode != "" {
			re.Code = retrieveErr.ErrorCode
		}
		re.Message = "could not obtain an upload token"
	}
	return re
}

// responseError builds an upload error from a non-2xx response.
func responseError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	re := &types.RecordingError{
		Class:   types.ClassUpload,
		Code:    strconv.Itoa(resp.StatusCode),
		Message: http.StatusText(resp.StatusCode),
		Err:     fmt.Errorf("HTTP %d", resp.StatusCode),
	}
	var body httpErrorBody
	if json.Unmarshal(raw, &body) == nil {
		if body.Code != "" {
			re.Code = body.Code
		}
		if body.Message != "" {
			re.Message = body.Message
		}
	}
	return re
}
